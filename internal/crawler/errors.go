package crawler

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatus is wrapped by FetchError when the server answered with a
// non-2xx status code.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// FetchError reports a failure to retrieve a page.
type FetchError struct {
	// URL is the page that could not be fetched.
	URL string

	// StatusCode is the HTTP status received, or 0 when no response arrived.
	StatusCode int

	// Err is the underlying transport or status error.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("error fetching URL %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("error fetching URL %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports page content from which links could not be extracted.
type ParseError struct {
	// URL is the page whose content failed to parse. It may be empty when the
	// extractor was called without page context.
	URL string

	// Err is the underlying parser error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("error parsing HTML: %v", e.Err)
	}
	return fmt.Sprintf("error parsing HTML of %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// CrawlError is the uniform wrapper that carries a page failure out of the
// traversal. Use errors.As to reach the FetchError or ParseError inside.
type CrawlError struct {
	// URL is the page being visited when the failure happened.
	URL string

	// Depth is that page's distance from the seed.
	Depth int

	// Err is the page failure.
	Err error
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	return fmt.Sprintf("error crawling website at %s (depth %d): %v", e.URL, e.Depth, e.Err)
}

// Unwrap returns the page failure.
func (e *CrawlError) Unwrap() error {
	return e.Err
}
