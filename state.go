package siphon

import (
	"context"
	"net"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

// connState is the per-connection metadata threaded through an
// http.Server's ConnContext, letting the shared request pipeline
// tell a genuine top-level proxy request apart from one re-entered from
// inside a forged tunnel, and recover the scheme to synthesize a request
// URI with.
type connState struct {
	clientAddr net.Addr

	// scheme is "" for a top-level connection (request URIs are already
	// absolute-form, no synthesis needed), or "http"/"https" inside a
	// tunnel (URI synthesis applies).
	scheme string

	// id correlates every request on one connection in logs.
	id uuid.UUID

	// seq counts requests processed on this connection; used only for
	// log correlation, never for control flow (HTTP/1 pipelining order is
	// already guaranteed by net/http serializing one connection's
	// requests).
	seq atomic.Uint32
}

func newConnState(clientAddr net.Addr, scheme string) *connState {
	return &connState{clientAddr: clientAddr, scheme: scheme, id: uuid.NewV4()}
}

type connStateKey struct{}

func withConnState(ctx context.Context, cs *connState) context.Context {
	return context.WithValue(ctx, connStateKey{}, cs)
}

func connStateFrom(ctx context.Context) (*connState, bool) {
	cs, ok := ctx.Value(connStateKey{}).(*connState)
	return cs, ok
}
