// Package config provides the configuration of linkgraph: crawl bounds,
// HTTP client settings, report preferences, the crawl archive location, and
// per-host settings read from the .linkgraph YAML file.
package config
