package config

import (
	"maps"
	"net/url"
	"strings"
)

// SiteConfig holds settings for one host.
type SiteConfig struct {
	// Cookie is sent as the Cookie header, e.g. "name1=value1; name2=value2".
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent with every request to the host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the crawl depth. Zero keeps the global value.
	Depth int `yaml:"depth,omitempty"`

	// MaxPages overrides the page quota. Zero keeps the global value.
	MaxPages int `yaml:"maxPages,omitempty"`
}

// File represents the structure of the .linkgraph configuration file.
type File struct {
	// Sites maps a host (e.g. "example.com" or "example.com:8080") to its
	// settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every host unless the host entry overrides them.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the merged configuration for host.
// Headers are merged key by key; the other fields are replaced when set.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if cf.Defaults.Headers != nil {
		result.Headers = maps.Clone(cf.Defaults.Headers)
	}

	site, ok := cf.Sites[strings.ToLower(host)]
	if !ok {
		return result
	}
	if site.Cookie != "" {
		result.Cookie = site.Cookie
	}
	if site.Depth != 0 {
		result.Depth = site.Depth
	}
	if site.MaxPages != 0 {
		result.MaxPages = site.MaxPages
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string, len(site.Headers))
		}
		maps.Copy(result.Headers, site.Headers)
	}
	return result
}

// HostOf returns the host[:port] of rawURL, lowercased, or the empty
// string when rawURL does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
