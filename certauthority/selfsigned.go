package certauthority

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
)

const (
	rootCommonName = "siphon MITM Proxy CA"
	leafValidFor   = 7 * 24 * time.Hour
	rootValidFor   = 10 * 365 * 24 * time.Hour
	leafCacheSize  = 256
)

// SelfSignedAuthority is a self-signed root CA that mints a fresh leaf
// certificate per host on demand, cached by host (the authority with any
// port removed) so repeated CONNECT requests for the same host don't pay
// certificate-generation cost twice. It persists its root key and certificate to disk so the same root
// survives process restarts, letting it be imported into a client's trust
// store once.
type SelfSignedAuthority struct {
	storeDir string

	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey

	cacheMu sync.Mutex
	cache   *lru.Cache
	group   *singleflight.Group
}

// NewSelfSignedAuthority loads the root CA from storeDir, generating and
// persisting one if none exists yet. An empty storeDir uses the user's
// cache directory.
func NewSelfSignedAuthority(storeDir string) (*SelfSignedAuthority, error) {
	dir, err := getStorePath(storeDir)
	if err != nil {
		return nil, fmt.Errorf("certauthority: resolve store path: %w", err)
	}

	ca := &SelfSignedAuthority{
		storeDir: dir,
		cache:    lru.New(leafCacheSize),
		group:    new(singleflight.Group),
	}

	if err := ca.loadOrCreateRoot(); err != nil {
		return nil, fmt.Errorf("certauthority: load or create root CA: %w", err)
	}

	return ca, nil
}

// getStorePath returns dir, creating it if necessary, falling back to the
// user cache directory when dir is empty. A relative dir is returned as
// given, not made absolute.
func getStorePath(dir string) (string, error) {
	if dir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cacheDir, "siphon")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func (ca *SelfSignedAuthority) caFile() string {
	return filepath.Join(ca.storeDir, "siphon-ca.pem")
}

func (ca *SelfSignedAuthority) keyFile() string {
	return filepath.Join(ca.storeDir, "siphon-ca-key.pem")
}

func (ca *SelfSignedAuthority) loadOrCreateRoot() error {
	certPEM, certErr := os.ReadFile(ca.caFile())
	keyPEM, keyErr := os.ReadFile(ca.keyFile())
	if certErr == nil && keyErr == nil {
		cert, key, err := decodeRootPEM(certPEM, keyPEM)
		if err == nil {
			ca.rootCert = cert
			ca.rootKey = key
			return nil
		}
	}

	cert, key, err := generateRoot()
	if err != nil {
		return err
	}
	ca.rootCert = cert
	ca.rootKey = key

	var buf bytes.Buffer
	if err := ca.saveTo(&buf); err != nil {
		return err
	}
	return ca.writeStore(buf.Bytes())
}

func generateRoot() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: rootCommonName, Organization: []string{"siphon"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(rootValidFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// saveTo PEM-encodes the root certificate and key, writing them in caFile
// then keyFile order, into w.
func (ca *SelfSignedAuthority) saveTo(w io.Writer) error {
	if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw}); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(ca.rootKey)
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}

func (ca *SelfSignedAuthority) writeStore(certAndKeyPEM []byte) error {
	certBlock, rest := pem.Decode(certAndKeyPEM)
	if certBlock == nil {
		return errors.New("certauthority: could not decode generated root PEM")
	}
	keyBlock, _ := pem.Decode(rest)
	if keyBlock == nil {
		return errors.New("certauthority: could not decode generated root key PEM")
	}
	if err := os.WriteFile(ca.caFile(), pem.EncodeToMemory(certBlock), 0o600); err != nil {
		return err
	}
	return os.WriteFile(ca.keyFile(), pem.EncodeToMemory(keyBlock), 0o600)
}

func decodeRootPEM(certPEM, keyPEM []byte) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, errors.New("certauthority: invalid CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, errors.New("certauthority: invalid CA key PEM")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// RootCert returns the CA's self-signed root certificate, for installing
// into a client's trust store.
func (ca *SelfSignedAuthority) RootCert() *x509.Certificate {
	return ca.rootCert
}

// DummyCert mints a single leaf certificate for commonName without going
// through the cache, for offline tooling (see cmd/dummycert).
func (ca *SelfSignedAuthority) DummyCert(commonName string) (*tls.Certificate, error) {
	return ca.mintLeaf(commonName)
}

func (ca *SelfSignedAuthority) mintLeaf(authority string) (*tls.Certificate, error) {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.rootCert.Raw},
		PrivateKey:  key,
	}, nil
}

// GenServerConfig implements Authority. The leaf certificate is cached by
// the authority's host part, deduping concurrent callers for the same host via
// singleflight so a burst of CONNECT requests for one host mints exactly
// one certificate.
func (ca *SelfSignedAuthority) GenServerConfig(authority string) *tls.Config {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}
	host = strings.TrimSpace(host)

	ca.cacheMu.Lock()
	if v, ok := ca.cache.Get(host); ok {
		ca.cacheMu.Unlock()
		return serverConfigFor(v.(*tls.Certificate))
	}
	ca.cacheMu.Unlock()

	v, err := ca.group.Do(host, func() (interface{}, error) {
		cert, err := ca.mintLeaf(host)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache.Add(host, cert)
		ca.cacheMu.Unlock()
		return cert, nil
	})
	if err != nil {
		// Contract: never return a nil config. A config that can never
		// complete a handshake surfaces the failure to the dispatcher as a
		// fatal per-connection error instead.
		return &tls.Config{GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return nil, err
		}}
	}

	return serverConfigFor(v.(*tls.Certificate))
}

func serverConfigFor(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}
}
