package siphon

import "net/http"

// AuthFunc authenticates a proxy session (e.g. a Proxy-Authorization
// check) before any dispatch happens. Returning false rejects the
// connection with 407 Proxy Authentication Required; the error, if any, is
// logged but never shown to the client.
type AuthFunc func(w http.ResponseWriter, req *http.Request) (bool, error)

// Config configures a Proxy.
type Config struct {
	// Addr is the listen address, e.g. ":8080". Defaults to ":http".
	Addr string

	// InsecureSkipVerify disables certificate verification when dialing
	// the true origin. Intended for lab/test use only.
	InsecureSkipVerify bool

	// EnableHTTP2 additionally accepts HTTP/2 on the inner tunnel service
	// once a forged TLS connection has negotiated "h2" via ALPN. Off by
	// default.
	EnableHTTP2 bool

	// Bypass lists glob host[:port] patterns the upstream client dials
	// directly, bypassing any configured parent proxy.
	Bypass []string

	// ParentProxy, if set, is used for all upstream connections not
	// matched by Bypass ("http://", "https://" or "socks5://").
	ParentProxy string

	// Auth, if set, gates every inbound connection before dispatch.
	Auth AuthFunc

	// ClientFactory builds the http.Client instances used to replay
	// requests upstream. Defaults to upstream.NewDefaultClientFactory().
	ClientFactory ClientFactory
}
