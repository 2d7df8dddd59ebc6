package siphon

import (
	"github.com/siphon-mitm/siphon/certauthority"
	"github.com/siphon-mitm/siphon/upstream"
)

// Re-exported so embedders configuring a Proxy don't need to import the
// leaf packages directly.
type (
	// CertificateAuthority forges the server TLS configuration presented
	// inside a forged tunnel. See certauthority.Authority.
	CertificateAuthority = certauthority.Authority

	// ClientFactory builds the http.Client instances used to replay
	// requests upstream. See upstream.ClientFactory.
	ClientFactory = upstream.ClientFactory

	// UpstreamClient resolves how a connection reaches the origin,
	// directly or through a parent proxy. See upstream.Client.
	UpstreamClient = upstream.Client
)

// NewDefaultClientFactory returns the ClientFactory siphon uses unless a
// Config supplies its own.
func NewDefaultClientFactory() ClientFactory {
	return upstream.NewDefaultClientFactory()
}
