package siphon

import (
	"net/http"
	"strings"
)

// protocolError is a client-visible error synthesised by the dispatcher for
// malformed input (never for upstream 4xx/5xx, which pass through
// untouched). It carries the HTTP status the client should see.
type protocolError struct {
	status int
	msg    string
}

func (e *protocolError) Error() string {
	return e.msg
}

func newProtocolError(status int, msg string) *protocolError {
	return &protocolError{status: status, msg: msg}
}

// writeTo renders the error as a short plain-text response.
func (e *protocolError) writeTo(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.status)
	_, _ = w.Write([]byte(e.msg))
}

// shutdownNoisePrefix is the message prefix net/http's connection driver
// uses for an error that only means "we're already shutting down this
// connection" — not an actionable failure. http.Server exposes no typed
// sentinel for it, so the match has to be on the message.
const shutdownNoisePrefix = "error shutting down connection"

// isShutdownNoise reports whether err is benign shutdown chatter that
// should be suppressed rather than logged at error level.
func isShutdownNoise(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), shutdownNoisePrefix)
}
