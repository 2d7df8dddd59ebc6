package upstream

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSSLKeyLogWriterNilWhenUnset(t *testing.T) {
	c := qt.New(t)
	t.Setenv("SSLKEYLOGFILE", "")

	c.Assert(sslKeyLogWriter(), qt.IsNil)
}
