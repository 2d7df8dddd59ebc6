// Package upstream abstracts how the proxy reaches the origin server for a
// given request: directly, or tunnelled through a parent HTTP(S)/SOCKS5
// proxy. The dispatcher only ever talks to a Client; which variant it is,
// and how its connections are dialed, is an implementation detail.
package upstream

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/siphon-mitm/siphon/internal/helper"
)

// Config configures a Client.
type Config struct {
	// ParentProxyURL, if non-nil, routes all requests through a parent
	// proxy (http://, https:// or socks5://), except for addresses matched
	// by Bypass. A nil ParentProxyURL falls back to the environment
	// (HTTP_PROXY/HTTPS_PROXY/NO_PROXY), matching net/http's default.
	ParentProxyURL *url.URL

	// Bypass lists glob host[:port] patterns (see internal/helper.MatchHost)
	// that should always be dialed directly, regardless of ParentProxyURL.
	Bypass []string

	// InsecureSkipVerify disables server certificate verification for
	// origin TLS connections. Intended for lab/test use only.
	InsecureSkipVerify bool
}

// Client resolves a dial strategy (Direct or ViaParentProxy) per request and
// exposes it as a DialContext that takes only the target address. It backs
// the main client's http.Transport DialContext and the WebSocket bridge's
// upstream dialer.
type Client struct {
	cfg Config
}

// New returns a Client configured per cfg.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// DialContext connects to address (a "host:port" string), transparently
// tunnelling through the configured parent proxy unless address matches the
// bypass list.
func (c *Client) DialContext(ctx context.Context, address string) (net.Conn, error) {
	proxyURL, err := c.proxyURLFor(address)
	if err != nil {
		return nil, err
	}
	if proxyURL == nil {
		return (&net.Dialer{}).DialContext(ctx, "tcp", address)
	}
	return c.dialViaParentProxy(ctx, proxyURL, address)
}

// ProxyForRequest resolves the parent proxy URL for req, honoring the bypass
// list, for wiring into an http.Transport's Proxy field.
func (c *Client) ProxyForRequest(req *http.Request) (*url.URL, error) {
	return c.proxyURLFor(helper.CanonicalAddr(req.URL))
}

func (c *Client) proxyURLFor(address string) (*url.URL, error) {
	if helper.MatchHost(address, c.cfg.Bypass) {
		return nil, nil
	}
	if c.cfg.ParentProxyURL != nil {
		return c.cfg.ParentProxyURL, nil
	}
	return http.ProxyFromEnvironment(&http.Request{URL: &url.URL{Scheme: "https", Host: address}})
}

// InsecureSkipVerify reports whether origin TLS verification is disabled.
func (c *Client) InsecureSkipVerify() bool {
	return c.cfg.InsecureSkipVerify
}
