package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/linkgraph/internal/crawler"
)

// Default configuration values.
const (
	// DefaultMaxDepth is the number of link levels explored from the seed.
	// Depth 3 covers the seed, its links, and their links.
	DefaultMaxDepth = crawler.DefaultMaxDepth

	// DefaultMaxPages caps the number of pages visited in one crawl.
	DefaultMaxPages = crawler.DefaultMaxPages

	// DefaultPoolSize is the number of pages fetched at once within a crawl.
	DefaultPoolSize = crawler.DefaultPoolSize

	// DefaultTimeout bounds a single HTTP request, not the whole crawl.
	DefaultTimeout = 30 * time.Second

	// DefaultBatchSize is the number of seeds crawled at once.
	DefaultBatchSize = 4

	// DefaultUserAgent identifies linkgraph in HTTP requests.
	DefaultUserAgent = crawler.DefaultUserAgent

	// DefaultMaxBodySize limits the response body read per page.
	DefaultMaxBodySize = crawler.DefaultMaxBodySize

	// DefaultListenAddr is the address the API server listens on.
	DefaultListenAddr = ":8080"

	// MaxDepthLimit is the largest depth accepted from any input.
	MaxDepthLimit = 10

	// AppName is the application name used for XDG directory paths.
	AppName = "linkgraph"
)

// Config holds all configuration options for linkgraph.
// It is populated from CLI flags and the config file, then passed down
// explicitly instead of living in global state.
//
// Design decision: A single flat struct. The crawl-specific subset is
// projected into crawler.Config by CrawlConfig so the crawler package does
// not depend on this one.
type Config struct {
	// Targets are the seed URLs to crawl.
	Targets []string

	// MaxDepth is the depth at which traversal stops. The seed is depth 0,
	// so MaxDepth 1 visits only the seed.
	MaxDepth int

	// MaxPages is the maximum number of pages visited per seed.
	MaxPages int

	// PoolSize is the maximum number of concurrent page fetches per seed.
	PoolSize int

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// BatchSize is the number of seeds crawled at once.
	BatchSize int

	// UserAgent is the User-Agent header sent with every request.
	UserAgent string

	// Proxy routes requests through a socks5:// or http(s):// proxy.
	// Empty means a direct connection.
	Proxy string

	// MaxBodySize is the maximum response body size in bytes.
	// Zero means the default.
	MaxBodySize int64

	// Verbose enables debug logging.
	Verbose bool

	// LogFile, when set, receives logs through a rotating file writer.
	LogFile string

	// ConfigFilePath is an explicit path to the config file.
	ConfigFilePath string

	// SiteConfigs holds per-host settings loaded from the config file.
	SiteConfigs *File

	// JSONReport selects the JSON report. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects the Markdown report.
	MarkdownReport bool

	// ReportFile is the report destination. Empty means stdout.
	ReportFile string

	// DBDir is the directory of the crawl archive.
	DBDir string

	// SaveToDB enables archiving of crawl results.
	SaveToDB bool

	// ListenAddr is the API server address.
	ListenAddr string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:    DefaultMaxDepth,
		MaxPages:    DefaultMaxPages,
		PoolSize:    DefaultPoolSize,
		Timeout:     DefaultTimeout,
		BatchSize:   DefaultBatchSize,
		UserAgent:   DefaultUserAgent,
		MaxBodySize: DefaultMaxBodySize,
		DBDir:       XDGDataDir(),
		SaveToDB:    true,
		ListenAddr:  DefaultListenAddr,
	}
}

// XDGDataDir returns the XDG data directory for linkgraph.
// On Linux: ~/.local/share/linkgraph
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for linkgraph.
// On Linux: ~/.config/linkgraph
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// CrawlConfig returns the crawl bounds for the engine.
func (c *Config) CrawlConfig() crawler.Config {
	return crawler.Config{
		MaxDepth: c.MaxDepth,
		MaxPages: c.MaxPages,
		PoolSize: c.PoolSize,
	}
}

// ForSite returns the crawl bounds for host, with the config file's
// per-site depth and page quota applied over the command-line values.
func (c *Config) ForSite(host string) (crawler.Config, SiteConfig) {
	cc := c.CrawlConfig()
	if c.SiteConfigs == nil {
		return cc, SiteConfig{}
	}
	site := c.SiteConfigs.GetSiteConfig(host)
	if site.Depth > 0 {
		cc.MaxDepth = min(site.Depth, MaxDepthLimit)
	}
	if site.MaxPages > 0 {
		cc.MaxPages = site.MaxPages
	}
	return cc, site
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	return c.validateCrawl()
}

// ValidateServer checks the settings used by the API server. Unlike
// Validate it does not require targets.
func (c *Config) ValidateServer() error {
	if c.ListenAddr == "" {
		return ErrNoListenAddr
	}
	return c.validateCrawl()
}

func (c *Config) validateCrawl() error {
	if c.MaxDepth < 1 || c.MaxDepth > MaxDepthLimit {
		return ErrInvalidDepth
	}
	if c.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.PoolSize < 1 {
		return ErrInvalidPoolSize
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	return nil
}
