// Package rewind implements a byte stream adapter that replays a finite
// prepended buffer before reading from its inner stream.
//
// It exists so the dispatcher can peek the first few bytes of a freshly
// upgraded connection to sniff the tunnelled protocol, then hand the
// connection to a TLS acceptor or an HTTP server without those bytes being
// lost.
package rewind

import "net"

// Conn wraps a net.Conn, replaying a prepended buffer before reads reach the
// inner connection. Once the buffer is drained, Read is observationally
// identical to reading the inner connection directly. Writes, and Close, are
// passed straight through to the inner connection.
type Conn struct {
	net.Conn
	prefix []byte
}

// New wraps inner, first replaying prefix to readers before the inner
// stream's own bytes are visible. prefix is copied; the caller's slice can
// be reused or discarded after New returns.
func New(inner net.Conn, prefix []byte) *Conn {
	buf := make([]byte, len(prefix))
	copy(buf, prefix)
	return &Conn{Conn: inner, prefix: buf}
}

// Read drains the prepended buffer before delegating to the inner
// connection. A single call never mixes bytes from the buffer and the inner
// connection: once any buffered bytes remain, they alone satisfy the read.
func (c *Conn) Read(b []byte) (int, error) {
	if len(c.prefix) == 0 {
		return c.Conn.Read(b)
	}

	n := copy(b, c.prefix)
	c.prefix = c.prefix[n:]
	return n, nil
}
