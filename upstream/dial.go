package upstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// connectTimeout bounds how long a parent proxy gets to answer a CONNECT
// request before dialViaParentProxy gives up on the tunnel.
const connectTimeout = 1 * time.Minute

// dialViaParentProxy reaches address through proxyURL, picking the tunnel
// strategy the scheme calls for: a SOCKS5 handshake, or an HTTP(S) CONNECT
// tunnel. It is Client.DialContext's fallback once proxyURLFor has decided
// the request can't go direct.
func (c *Client) dialViaParentProxy(ctx context.Context, proxyURL *url.URL, address string) (net.Conn, error) {
	if proxyURL.Scheme == "socks5" {
		return dialSOCKS5(ctx, proxyURL, address)
	}
	return c.dialConnectTunnel(ctx, proxyURL, address)
}

// dialSOCKS5 opens address through a SOCKS5 proxy, forwarding basic auth
// from proxyURL's userinfo when present.
func dialSOCKS5(ctx context.Context, proxyURL *url.URL, address string) (net.Conn, error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		pass, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: pass}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	ctxDialer, ok := dialer.(interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	})
	if !ok {
		return nil, errors.New("upstream: SOCKS5 dialer does not support DialContext")
	}
	return ctxDialer.DialContext(ctx, "tcp", address)
}

// dialConnectTunnel opens a CONNECT tunnel to address through an http:// or
// https:// parent proxy, optionally wrapping the proxy leg in TLS first, and
// returns the raw connection once the proxy answers with 200.
func (c *Client) dialConnectTunnel(ctx context.Context, proxyURL *url.URL, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, err
	}

	if proxyURL.Scheme == "https" {
		conn, err = c.startProxyTLS(ctx, conn, proxyURL)
		if err != nil {
			return nil, err
		}
	}

	if err := sendConnect(ctx, conn, proxyURL, address); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// startProxyTLS wraps conn in a TLS client connection to the proxy itself,
// returning the wrapped connection once the handshake completes.
func (c *Client) startProxyTLS(ctx context.Context, conn net.Conn, proxyURL *url.URL) (net.Conn, error) {
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         proxyURL.Hostname(),
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// sendConnect issues a CONNECT request for address over conn and consumes
// the proxy's response, returning an error unless it answers 200.
func sendConnect(ctx context.Context, conn net.Conn, proxyURL *url.URL, address string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if proxyURL.User != nil {
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(proxyURL.User.String())))
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	done := make(chan struct{})
	var resp *http.Response
	var writeErr error
	go func() {
		defer close(done)
		if writeErr = req.Write(conn); writeErr != nil {
			return
		}
		// The proxy won't send anything until it has read the CONNECT
		// request in full, so a throwaway bufio.Reader is safe here.
		resp, writeErr = http.ReadResponse(bufio.NewReader(conn), req)
	}()

	select {
	case <-connectCtx.Done():
		// Unblock the goroutine's in-flight write/read before waiting on it.
		conn.Close()
		<-done
		return connectCtx.Err()
	case <-done:
	}

	if writeErr != nil {
		return writeErr
	}
	if resp.StatusCode != http.StatusOK {
		_, text, ok := strings.Cut(resp.Status, " ")
		if !ok {
			return errors.New("upstream: parent proxy refused CONNECT with an unrecognised status")
		}
		return errors.New(text)
	}
	return nil
}
