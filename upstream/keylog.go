package upstream

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	keyLogOnce   sync.Once
	keyLogWriter io.Writer
)

// sslKeyLogWriter opens the file named by SSLKEYLOGFILE once per process,
// so origin TLS session secrets can be inspected with traffic-analysis
// tools such as Wireshark. Returns nil when the variable is unset or the
// file cannot be opened.
func sslKeyLogWriter() io.Writer {
	keyLogOnce.Do(func() {
		name := os.Getenv("SSLKEYLOGFILE")
		if name == "" {
			return
		}

		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			slog.Default().Warn("cannot open SSLKEYLOGFILE", "path", name, "error", err)
			return
		}
		keyLogWriter = f
	})
	return keyLogWriter
}
