package upstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
)

// ClientFactory builds the http.Client the dispatcher uses to issue a
// request upstream. Callers can supply their own ClientFactory (e.g. to
// inject custom transport tuning, proxies or test doubles) in place of
// DefaultClientFactory.
type ClientFactory interface {
	// CreateMainClient builds the client used to forward every non-tunnel
	// and re-entered tunnel request. Its connections are dialed through c.
	CreateMainClient(c *Client) *http.Client
}

// DefaultClientFactory is the ClientFactory siphon uses unless the caller
// supplies its own.
type DefaultClientFactory struct{}

// NewDefaultClientFactory returns a DefaultClientFactory.
func NewDefaultClientFactory() *DefaultClientFactory {
	return &DefaultClientFactory{}
}

// CreateMainClient implements ClientFactory.
func (*DefaultClientFactory) CreateMainClient(c *Client) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: c.ProxyForRequest,
			DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				return c.DialContext(ctx, address)
			},
			ForceAttemptHTTP2:  true,
			DisableCompression: true,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: c.InsecureSkipVerify(),
				KeyLogWriter:       sslKeyLogWriter(),
			},
		},
		CheckRedirect: noRedirect,
	}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
