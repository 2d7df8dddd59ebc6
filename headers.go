package siphon

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// hopByHopHeaders are stripped before forwarding a request or response, per
// RFC 7230 §6.1 — they describe this connection, not the resource.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// stripHopByHopHeaders removes the standard hop-by-hop headers plus any
// additional header named as a token in the Connection header, deduping
// those tokens with lo.Uniq before iterating them.
func stripHopByHopHeaders(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		tokens := lo.Uniq(strings.Split(conn, ","))
		for _, tok := range tokens {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// isWebSocketUpgrade reports whether req is a WebSocket handshake: GET
// method plus the Upgrade, Connection, Sec-WebSocket-Key and -Version
// headers.
func isWebSocketUpgrade(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if !headerContainsToken(req.Header, "Connection", "upgrade") {
		return false
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return false
	}
	if req.Header.Get("Sec-WebSocket-Key") == "" {
		return false
	}
	if req.Header.Get("Sec-WebSocket-Version") == "" {
		return false
	}
	return true
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), token) {
				return true
			}
		}
	}
	return false
}

// websocketHandshakeHeaders are set by gorilla/websocket's own Dialer; a
// caller-supplied copy would make DialContext reject the call.
var websocketHandshakeHeaders = map[string]bool{
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Protocol":   true,
}

// forwardableUpstreamHeaders returns the subset of req's headers safe to
// pass to websocket.Dialer.DialContext, excluding what the dialer sets
// itself and standard hop-by-hop headers.
func forwardableUpstreamHeaders(req *http.Request) http.Header {
	out := make(http.Header, len(req.Header))
	for k, vv := range req.Header {
		if websocketHandshakeHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		if lo.Contains(hopByHopHeaders, http.CanonicalHeaderKey(k)) {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	return out
}
