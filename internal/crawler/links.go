package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSeedURL is returned by Crawl when the seed is not an absolute
// http or https URL.
var ErrInvalidSeedURL = errors.New("invalid seed URL: must be an absolute http(s) URL")

// Origin returns the scheme and host of rawURL as "scheme://host".
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q has no scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ValidateSeed checks that seed can start a crawl: an absolute http or
// https URL with a host.
func ValidateSeed(seed string) error {
	u, err := url.Parse(seed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSeedURL, seed)
	}
	return nil
}

// linkResolver turns raw href values found on a page into absolute URLs on
// the page's origin.
//
// Relative references are resolved against the origin itself, not against
// the page path: "b.html" found on "http://site/dir/a.html" becomes
// "http://site/b.html".
type linkResolver struct {
	base   *url.URL
	origin string
}

// newLinkResolver creates a resolver for links found on pageURL.
func newLinkResolver(pageURL string) (*linkResolver, error) {
	origin, err := Origin(pageURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	return &linkResolver{base: base, origin: origin}, nil
}

// Resolve returns the absolute form of href and whether it should be followed.
// Empty links, same-page fragments, unparsable references and links to a
// different scheme or host are not followed.
func (r *linkResolver) Resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	resolved := r.base.ResolveReference(ref)
	if resolved.Scheme+"://"+resolved.Host != r.origin {
		return "", false
	}
	return resolved.String(), true
}
