// Package decode is an opt-in helper for decoding HTTP bodies by their
// Content-Encoding. It sits outside the proxy core — nothing in the
// dispatcher or bridge calls it; an embedder's ResponseHandler or
// RequestHandler may import it directly.
package decode

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Body decodes body according to the Content-Encoding token contentEncoding
// ("", "identity", "gzip", "deflate", "br" or "zstd"). An unrecognised
// encoding is returned as an error rather than passed through silently.
func Body(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode: gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decode: zstd: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("decode: unsupported content-encoding %q", contentEncoding)
	}
}

// A body is worth decoding/inspecting as text if its MIME type starts
// with one of these, regardless of the charset parameter that follows.
var textContentTypePrefixes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-www-form-urlencoded",
}

// IsTextContentType reports whether contentType (an HTTP Content-Type header
// value, parameters included) names a textual body.
func IsTextContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, prefix := range textContentTypePrefixes {
		if strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}
