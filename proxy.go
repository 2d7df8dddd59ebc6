package siphon

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/siphon-mitm/siphon/internal/helper"
	"github.com/siphon-mitm/siphon/rewind"
	"github.com/siphon-mitm/siphon/upstream"
)

const tlsHandshakeTimeout = 15 * time.Second

// Proxy is a man-in-the-middle HTTP/HTTPS/WebSocket proxy: the connection
// dispatcher wired to a CertificateAuthority, an upstream client and a set
// of handlers.
type Proxy struct {
	cfg         Config
	ca          CertificateAuthority
	reqHandler  RequestHandler
	respHandler ResponseHandler
	msgHandler  MessageHandler

	upstreamClient *upstream.Client
	clientFactory  ClientFactory
	mainClient     *http.Client

	frontServer *http.Server
	innerServer *http.Server
	innerLn     *reentryListener
	http2Server *http2.Server

	ln net.Listener
}

// NewProxy builds a Proxy. Any of reqHandler, respHandler or msgHandler may
// be nil, in which case the corresponding Noop* default is used.
func NewProxy(cfg Config, ca CertificateAuthority, reqHandler RequestHandler, respHandler ResponseHandler, msgHandler MessageHandler) (*Proxy, error) {
	if ca == nil {
		return nil, errors.New("siphon: NewProxy requires a non-nil CertificateAuthority")
	}
	if reqHandler == nil {
		reqHandler = NoopRequestHandler{}
	}
	if respHandler == nil {
		respHandler = NoopResponseHandler{}
	}
	if msgHandler == nil {
		msgHandler = NoopMessageHandler{}
	}

	clientFactory := cfg.ClientFactory
	if clientFactory == nil {
		clientFactory = upstream.NewDefaultClientFactory()
	}

	var parentProxyURL *url.URL
	if cfg.ParentProxy != "" {
		u, err := url.Parse(cfg.ParentProxy)
		if err != nil {
			return nil, err
		}
		parentProxyURL = u
	}

	upstreamClient := upstream.New(upstream.Config{
		ParentProxyURL:     parentProxyURL,
		Bypass:             cfg.Bypass,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	p := &Proxy{
		cfg:            cfg,
		ca:             ca,
		reqHandler:     reqHandler,
		respHandler:    respHandler,
		msgHandler:     msgHandler,
		upstreamClient: upstreamClient,
		clientFactory:  clientFactory,
		innerLn:        newReentryListener(),
	}
	p.mainClient = clientFactory.CreateMainClient(upstreamClient)

	p.frontServer = &http.Server{
		Handler: http.HandlerFunc(p.serveFront),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return withConnState(ctx, newConnState(c.RemoteAddr(), ""))
		},
	}
	p.innerServer = &http.Server{
		Handler: http.HandlerFunc(p.serveRequest),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if wc, ok := c.(wrappedConn); ok {
				return withConnState(ctx, wc.state)
			}
			return ctx
		},
	}
	if cfg.EnableHTTP2 {
		p.http2Server = &http2.Server{
			NewWriteScheduler: func() http2.WriteScheduler { return http2.NewPriorityWriteScheduler(nil) },
		}
	}

	return p, nil
}

// Start listens on cfg.Addr (":http" if empty) and serves connections until
// Shutdown or Close is called. It blocks.
func (p *Proxy) Start() error {
	addr := p.cfg.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.ln = ln

	go func() {
		if err := p.innerServer.Serve(p.innerLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Error("inner server stopped", "error", err)
		}
	}()

	slog.Default().Info("proxy listening", "addr", ln.Addr().String())
	return p.frontServer.Serve(ln)
}

// Shutdown gracefully stops accepting connections and waits (up to ctx's
// deadline) for in-flight requests to complete.
func (p *Proxy) Shutdown(ctx context.Context) error {
	err1 := p.frontServer.Shutdown(ctx)
	err2 := p.innerServer.Shutdown(ctx)
	_ = p.innerLn.Close()
	if err1 != nil && !isShutdownNoise(err1) {
		return err1
	}
	if err2 != nil && !isShutdownNoise(err2) {
		return err2
	}
	return nil
}

// Close immediately closes the listener and every connection the front and
// inner servers still track. Connections already hijacked from them (CONNECT
// tunnels not yet re-entered, bridged WebSockets) are not closed by it.
func (p *Proxy) Close() error {
	err1 := p.frontServer.Close()
	err2 := p.innerServer.Close()
	_ = p.innerLn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// serveFront is the http.Handler for the real, externally-accepted
// listener: it tells CONNECT tunnels apart from plain proxy requests.
func (p *Proxy) serveFront(w http.ResponseWriter, req *http.Request) {
	if p.cfg.Auth != nil {
		ok, err := p.cfg.Auth(w, req)
		if !ok {
			slog.Default().Error("proxy authentication failed", "error", err)
			http.Error(w, "Proxy Authentication Required", http.StatusProxyAuthRequired)
			return
		}
	}

	if req.Method == http.MethodConnect {
		p.handleConnect(w, req)
		return
	}

	p.serveRequest(w, req)
}

// handleConnect acknowledges the tunnel on the outer connection
// immediately, then schedules the tunnel body as a detached task: the outer
// handler must return before Hijack's caller considers the exchange
// complete, so the tunnel must never be awaited here.
func (p *Proxy) handleConnect(w http.ResponseWriter, req *http.Request) {
	logger := slog.Default().With("authority", req.Host)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		logger.Error("hijack failed", "error", err)
		return
	}

	// The forged certificate's authority is taken verbatim from the
	// CONNECT request, never rewritten.
	authority := req.Host

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		logger.Error("writing CONNECT ack failed", "error", err)
		conn.Close()
		return
	}

	var clientAddr net.Addr
	if cs, ok := connStateFrom(req.Context()); ok {
		clientAddr = cs.clientAddr
	}

	go p.runTunnel(conn, authority, clientAddr)
}

// runTunnel sniffs the first four tunnelled bytes and routes the connection
// to the cleartext-WebSocket or TLS branch. It owns conn for the rest of
// the tunnel's life.
func (p *Proxy) runTunnel(conn net.Conn, authority string, clientAddr net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("recovered from panic in tunnel", "authority", authority, "panic", r)
		}
	}()

	buf := make([]byte, 4)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		if !isShutdownNoise(err) {
			slog.Default().Debug("tunnel sniff failed", "authority", authority, "error", err)
		}
		conn.Close()
		return
	}
	rc := rewind.New(conn, buf[:n])

	if bytes.Equal(buf, []byte("GET ")) {
		// Cleartext WebSocket/HTTP: re-enter request dispatch over the
		// rewound stream.
		p.innerLn.push(wrappedConn{Conn: rc, state: newConnState(clientAddr, "http")})
		return
	}

	// Any prefix other than "GET " always goes through the TLS-accept
	// branch; IsTLS here is diagnostic only, flagging a client that is
	// neither a sniffed WebSocket/HTTP tunnel nor genuine TLS before the
	// handshake predictably fails.
	if !helper.IsTLS(buf) {
		slog.Default().Debug("tunnelled bytes are neither a GET line nor a TLS record", "authority", authority, "prefix", buf)
	}
	p.serveHTTPSTunnel(rc, authority, clientAddr)
}

func (p *Proxy) serveHTTPSTunnel(rc net.Conn, authority string, clientAddr net.Addr) {
	tlsConfig := p.ca.GenServerConfig(authority)
	if p.cfg.EnableHTTP2 && len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	}

	tlsConn := tls.Server(rc, tlsConfig)
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		slog.Default().Error("forged TLS handshake failed", "authority", authority, "error", err)
		rc.Close()
		return
	}

	state := newConnState(clientAddr, "https")

	if p.cfg.EnableHTTP2 && tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2ctx := withConnState(context.Background(), state)
		p.http2Server.ServeConn(tlsConn, &http2.ServeConnOpts{
			Context:    h2ctx,
			Handler:    http.HandlerFunc(p.serveRequest),
			BaseConfig: p.innerServer,
		})
		return
	}

	p.innerLn.push(wrappedConn{Conn: tlsConn, state: state})
}

// serveRequest is the shared request pipeline: handler dispatch, upgrade
// detection, upstream forwarding, response-handler dispatch. It is used
// both for a genuine top-level proxy request (connState.scheme == "") and
// for requests re-entered from inside a forged tunnel (connState.scheme ==
// "http"/"https").
func (p *Proxy) serveRequest(w http.ResponseWriter, req *http.Request) {
	cs, _ := connStateFrom(req.Context())

	var clientAddr net.Addr
	inTunnel := cs != nil && cs.scheme != ""
	if cs != nil {
		clientAddr = cs.clientAddr
		seq := cs.seq.Add(1)
		slog.Default().Debug("dispatching request",
			"conn", cs.id.String(), "seq", seq, "method", req.Method, "host", req.Host)
	}

	if !inTunnel {
		if !req.URL.IsAbs() || req.URL.Host == "" {
			newProtocolError(http.StatusBadRequest, "this is a proxy server, direct requests are not allowed").writeTo(w)
			return
		}
	} else if perr := synthesizeURI(req, cs.scheme); perr != nil {
		perr.writeTo(w)
		return
	}

	httpCtx := &HTTPContext{ClientAddr: clientAddr}

	outcome := p.reqHandler.HandleRequest(httpCtx, req)
	if resp, ok := outcome.Response(); ok {
		// Short-circuit: the upstream is never contacted.
		writeResponse(w, resp)
		return
	}
	fwdReq, _ := outcome.Request()

	if isWebSocketUpgrade(fwdReq) {
		p.upgradeAndBridge(w, fwdReq, clientAddr)
		return
	}

	resp, err := p.doUpstream(fwdReq)
	if err != nil {
		slog.Default().Error("upstream request failed", "url", fwdReq.URL.String(), "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	resp = p.respHandler.HandleResponse(httpCtx, resp)
	writeResponse(w, resp)
}

// doUpstream forwards req via the main upstream client.
func (p *Proxy) doUpstream(req *http.Request) (*http.Response, error) {
	outReq := req.Clone(req.Context())
	outReq.RequestURI = ""
	stripHopByHopHeaders(outReq.Header)
	resp, err := p.mainClient.Do(outReq)
	if err != nil {
		return nil, err
	}
	stripHopByHopHeaders(resp.Header)
	return resp, nil
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		_, _ = io.Copy(w, resp.Body)
		resp.Body.Close()
	}
}

// synthesizeURI reconstructs an absolute request URI inside a tunnel,
// where a request generally carries only a path: scheme comes from the
// tunnel branch, authority from the Host header. HTTP/2 requests already
// carry an authoritative :authority and are passed through untouched.
func synthesizeURI(req *http.Request, scheme string) *protocolError {
	if req.ProtoAtLeast(2, 0) {
		if req.URL.Scheme == "" {
			req.URL.Scheme = scheme
		}
		return nil
	}
	if req.URL.IsAbs() {
		return nil
	}

	host := req.Host
	if host == "" {
		host = req.Header.Get("Host")
	}
	if host == "" {
		return newProtocolError(http.StatusBadRequest, "missing Host header inside tunnel")
	}

	u := *req.URL
	u.Scheme = scheme
	u.Host = host
	req.URL = &u
	return nil
}
