package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ErrInvalidProxyURL is returned for proxy URLs other than
// socks5://host:port and http(s)://host:port.
var ErrInvalidProxyURL = errors.New("invalid proxy URL: expected socks5://host:port or http(s)://host:port")

// maxRedirects is the number of redirects followed before the redirect
// response itself is returned.
const maxRedirects = 10

// NewHTTPClient creates the client used by HTTPFetcher. An empty proxyURL
// connects directly. A socks5:// proxy may carry a username and password;
// host names are resolved by the proxy.
//
// Design decision: Redirect loops end at the last redirect response instead
// of an error, so the fetcher reports them as an unexpected 3xx status with
// the page URL attached.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("unexpected default transport type")
	}
	transport = transport.Clone()
	transport.MaxIdleConnsPerHost = DefaultPoolSize

	if proxyURL != "" {
		if err := configureProxy(transport, proxyURL); err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// configureProxy routes transport through the proxy at rawURL.
func configureProxy(transport *http.Transport, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || u.Port() == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProxyURL, rawURL)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil

	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxyURL, u.Scheme)
}
