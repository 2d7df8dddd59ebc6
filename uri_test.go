package siphon

import (
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"
)

func tunnelRequest(host, path, query string) *http.Request {
	return &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: path, RawQuery: query},
		Proto:  "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
		Host:   host,
		Header: make(http.Header),
	}
}

func TestSynthesizeURIInsideTLSTunnel(t *testing.T) {
	c := qt.New(t)

	req := tunnelRequest("example.com:443", "/a", "b")
	perr := synthesizeURI(req, "https")

	c.Assert(perr, qt.Equals, (*protocolError)(nil))
	c.Assert(req.URL.String(), qt.Equals, "https://example.com:443/a?b")
}

func TestSynthesizeURIInsideCleartextTunnel(t *testing.T) {
	c := qt.New(t)

	req := tunnelRequest("example.com", "/a", "b")
	perr := synthesizeURI(req, "http")

	c.Assert(perr, qt.Equals, (*protocolError)(nil))
	c.Assert(req.URL.String(), qt.Equals, "http://example.com/a?b")
}

func TestSynthesizeURIMissingHostIsProtocolError(t *testing.T) {
	c := qt.New(t)

	req := tunnelRequest("", "/a", "")
	perr := synthesizeURI(req, "https")

	c.Assert(perr, qt.Not(qt.IsNil))
	c.Assert(perr.status, qt.Equals, http.StatusBadRequest)
}

func TestSynthesizeURILeavesHTTP2AuthorityAlone(t *testing.T) {
	c := qt.New(t)

	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Host: "h2.example.com", Path: "/x"},
		Proto:  "HTTP/2.0", ProtoMajor: 2, ProtoMinor: 0,
		Header: make(http.Header),
	}
	perr := synthesizeURI(req, "https")

	c.Assert(perr, qt.Equals, (*protocolError)(nil))
	c.Assert(req.URL.Host, qt.Equals, "h2.example.com")
	c.Assert(req.URL.Scheme, qt.Equals, "https")
}

func TestIsWebSocketUpgrade(t *testing.T) {
	c := qt.New(t)

	req := tunnelRequest("example.com", "/chat", "")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Version", "13")
	c.Assert(isWebSocketUpgrade(req), qt.IsTrue)

	req.Header.Del("Sec-WebSocket-Key")
	c.Assert(isWebSocketUpgrade(req), qt.IsFalse)

	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Method = http.MethodPost
	c.Assert(isWebSocketUpgrade(req), qt.IsFalse)
}
