package helper

import (
	"net"
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address (a "host" or "host:port" string) matches
// any of the given glob patterns. A pattern without a port matches an
// address regardless of its port; a pattern with a port requires an exact
// port match. Patterns use shell-style wildcards (e.g. "*.internal.corp").
func MatchHost(address string, patterns []string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = ""
	}

	for _, pattern := range patterns {
		patternHost, patternPort, hasPort := strings.Cut(pattern, ":")
		if !hasPort {
			patternHost = pattern
			patternPort = ""
		}

		if hasPort && patternPort != port {
			continue
		}
		if match.Match(host, patternHost) {
			return true
		}
	}

	return false
}
