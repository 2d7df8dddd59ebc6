package helper

import (
	"net"
	"net/url"
)

var portMap = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks5": "1080",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// IsTLS reports whether buf starts with a TLS record header (handshake
// content type 0x16, version 3.0-3.3), per
// https://github.com/mitmproxy/mitmproxy/blob/main/mitmproxy/net/tls.py's
// is_tls_record_magic. buf must have at least 3 bytes.
func IsTLS(buf []byte) bool {
	return buf[0] == 0x16 && buf[1] == 0x03 && buf[2] <= 0x03
}
