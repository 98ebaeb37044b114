// Package main provides the entry point for the linkgraph CLI.
//
// linkgraph crawls a website from a seed URL and reports the graph of
// same-origin links between its pages.
//
// Usage:
//
//	linkgraph crawl <url>...
//	linkgraph serve --addr :8080
//
// See --help for all available options.
package main

func main() {
	Execute()
}
