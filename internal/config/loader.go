package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".linkgraph"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrInvalidSiteConfig is returned when a site entry carries an impossible
// depth or page quota.
var ErrInvalidSiteConfig = errors.New("invalid site configuration")

// LoadConfigFile reads and validates the YAML site configuration at path.
// A missing file yields ErrConfigNotFound; whether that matters depends on
// whether the user named the path explicitly.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}

	cf := &File{}
	if err := yaml.Unmarshal(data, cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}

	// Hosts are matched lowercased.
	for host, site := range cf.Sites {
		if lower := strings.ToLower(host); lower != host {
			delete(cf.Sites, host)
			cf.Sites[lower] = site
		}
	}

	if err := cf.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

func (cf *File) validate() error {
	if err := cf.Defaults.validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for host, site := range cf.Sites {
		if err := site.validate(); err != nil {
			return fmt.Errorf("site %q: %w", host, err)
		}
	}
	return nil
}

func (s SiteConfig) validate() error {
	if s.Depth < 0 || s.Depth > MaxDepthLimit {
		return fmt.Errorf("%w: depth %d is outside 0..%d", ErrInvalidSiteConfig, s.Depth, MaxDepthLimit)
	}
	if s.MaxPages < 0 {
		return fmt.Errorf("%w: maxPages %d is negative", ErrInvalidSiteConfig, s.MaxPages)
	}
	return nil
}

// SearchPaths lists where FindConfigFile looks when no path is given, in
// order: the current directory, the home directory, then config.yaml in
// the XDG config directory.
func SearchPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, DefaultConfigFile))
	}
	return append(paths, filepath.Join(XDGConfigDir(), "config.yaml"))
}

// FindConfigFile returns configPath when it exists, or, when configPath is
// empty, the first existing file of SearchPaths. It returns the empty
// string when nothing is found; a missing explicit path never falls back.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if isFile(configPath) {
			return configPath
		}
		return ""
	}
	for _, path := range SearchPaths() {
		if isFile(path) {
			return path
		}
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
