// Package siphon implements a man-in-the-middle HTTP/HTTPS/WebSocket
// intercepting proxy: it terminates a client's CONNECT tunnel under a
// certificate forged by a supplied CertificateAuthority, relays requests and
// responses to the true origin, and hands every request, response and
// WebSocket frame to embedder-supplied handlers that may observe, rewrite,
// short-circuit or drop them.
package siphon

import (
	"net"
	"net/http"
	"net/url"

	"github.com/siphon-mitm/siphon/wsmessage"
)

// HTTPContext is the per-request metadata passed to the request and
// response handlers. It is created once at request ingress and discarded
// after the response is sent.
type HTTPContext struct {
	// ClientAddr is the socket address of the proxy's client, captured at
	// the outermost Accept, not the address seen inside a forged tunnel.
	ClientAddr net.Addr
}

// Direction identifies which way a WebSocket frame is travelling.
type Direction int

const (
	// DirClientToServer is the direction from the proxy's client toward
	// the upstream WebSocket server.
	DirClientToServer Direction = iota
	// DirServerToClient is the direction from the upstream WebSocket
	// server back toward the proxy's client.
	DirServerToClient
)

func (d Direction) String() string {
	if d == DirServerToClient {
		return "server->client"
	}
	return "client->server"
}

// WebSocketContext is the per-message metadata passed to the message
// handler. It is created once per WebSocket stream and shared by every
// frame forwarded on it.
type WebSocketContext struct {
	Direction  Direction
	ClientAddr net.Addr
	ServerURL  *url.URL
}

// RequestOrResponse is the sum value returned by a RequestHandler: exactly
// one of Request or Response is set, enforced by construction rather than by
// a nullable pair (Go has no sum types; see DESIGN.md).
type RequestOrResponse struct {
	request  *http.Request
	response *http.Response
}

// ForwardRequest wraps req as the "continue upstream" outcome.
func ForwardRequest(req *http.Request) RequestOrResponse {
	if req == nil {
		panic("siphon: ForwardRequest requires a non-nil request")
	}
	return RequestOrResponse{request: req}
}

// ShortCircuit wraps resp as the "return to client without contacting the
// upstream" outcome.
func ShortCircuit(resp *http.Response) RequestOrResponse {
	if resp == nil {
		panic("siphon: ShortCircuit requires a non-nil response")
	}
	return RequestOrResponse{response: resp}
}

// Request reports the forwarded request and true if this value carries one.
func (r RequestOrResponse) Request() (*http.Request, bool) {
	return r.request, r.request != nil
}

// Response reports the short-circuit response and true if this value
// carries one.
func (r RequestOrResponse) Response() (*http.Response, bool) {
	return r.response, r.response != nil
}

// RequestHandler observes or rewrites an inbound request before it is
// forwarded upstream, or short-circuits it with a response of its own.
// Implementations must be cheaply clonable and safe to invoke concurrently
// from distinct connections; the dispatcher invokes a handler at most once
// per request.
type RequestHandler interface {
	HandleRequest(ctx *HTTPContext, req *http.Request) RequestOrResponse
}

// ResponseHandler observes or rewrites a response before it reaches the
// client. It only sees responses for requests that were not short-circuited
// by the RequestHandler, and the dispatcher guarantees the same handler
// clone that saw the request also sees its matching response.
type ResponseHandler interface {
	HandleResponse(ctx *HTTPContext, resp *http.Response) *http.Response
}

// MessageHandler observes, rewrites or drops one WebSocket frame. Returning
// a nil message drops the frame silently.
//
// The bridge runs one concurrent forwarding pump per direction and obtains
// each pump's handler via MessageHandlerCloner: a handler implementing it
// gets a fresh, independent instance per direction. A handler that does NOT
// implement it is shared by both pumps and will see HandleMessage calls
// from two goroutines at once — any handler with mutable internal state
// MUST implement MessageHandlerCloner.
type MessageHandler interface {
	HandleMessage(ctx *WebSocketContext, msg *wsmessage.Message) *wsmessage.Message
}

// NoopRequestHandler forwards every request unchanged.
type NoopRequestHandler struct{}

// HandleRequest implements RequestHandler.
func (NoopRequestHandler) HandleRequest(_ *HTTPContext, req *http.Request) RequestOrResponse {
	return ForwardRequest(req)
}

// NoopResponseHandler returns every response unchanged.
type NoopResponseHandler struct{}

// HandleResponse implements ResponseHandler.
func (NoopResponseHandler) HandleResponse(_ *HTTPContext, resp *http.Response) *http.Response {
	return resp
}

// NoopMessageHandler forwards every frame unchanged.
type NoopMessageHandler struct{}

// HandleMessage implements MessageHandler.
func (NoopMessageHandler) HandleMessage(_ *WebSocketContext, msg *wsmessage.Message) *wsmessage.Message {
	return msg
}

// MessageHandlerCloner hands the bridge a fresh, independent MessageHandler
// instance per direction, keeping per-direction state from aliasing between
// the two concurrent pumps. Stateless handlers need not implement it;
// stateful ones must — cloneMessageHandler's fallback reuses the same value
// for both directions.
type MessageHandlerCloner interface {
	CloneMessageHandler() MessageHandler
}

func cloneMessageHandler(h MessageHandler) MessageHandler {
	if c, ok := h.(MessageHandlerCloner); ok {
		return c.CloneMessageHandler()
	}
	return h
}
