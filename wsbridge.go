package siphon

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siphon-mitm/siphon/wsmessage"
)

// upgradeAndBridge performs the server-side upgrade (the 101 response is
// produced here, never by the upstream), opens the matching upstream
// WebSocket, and schedules the bridge on a detached goroutine.
func (p *Proxy) upgradeAndBridge(w http.ResponseWriter, req *http.Request, clientAddr net.Addr) {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(*http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	serverConn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already written an error response to w.
		slog.Default().Error("websocket upgrade failed", "url", req.URL.String(), "error", err)
		return
	}

	upstreamURL := wsURLFor(req.URL)
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return p.upstreamClient.DialContext(ctx, addr)
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: p.upstreamClient.InsecureSkipVerify()},
	}

	upstreamConn, _, err := dialer.Dial(upstreamURL.String(), forwardableUpstreamHeaders(req))
	if err != nil {
		slog.Default().Error("websocket upstream dial failed", "url", upstreamURL.String(), "error", err)
		serverConn.Close()
		return
	}

	go runBridge(serverConn, upstreamConn, clientAddr, upstreamURL, p.msgHandler)
}

// wsURLFor derives the upstream WebSocket URL from the dispatcher's
// synthesised request URI, swapping http/https for ws/wss.
func wsURLFor(u *url.URL) *url.URL {
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawQuery: u.RawQuery,
	}
}

// runBridge forwards frames bidirectionally: two independent pumps, one
// per direction, each given the handler cloneMessageHandler returns — a
// distinct instance when handler implements MessageHandlerCloner, otherwise
// the same value shared by both pumps.
func runBridge(serverConn, upstreamConn *websocket.Conn, clientAddr net.Addr, serverURL *url.URL, handler MessageHandler) {
	defer serverConn.Close()
	defer upstreamConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	go pump(serverConn, upstreamConn, &WebSocketContext{
		Direction:  DirClientToServer,
		ClientAddr: clientAddr,
		ServerURL:  serverURL,
	}, cloneMessageHandler(handler), &wg)

	go pump(upstreamConn, serverConn, &WebSocketContext{
		Direction:  DirServerToClient,
		ClientAddr: clientAddr,
		ServerURL:  serverURL,
	}, cloneMessageHandler(handler), &wg)

	wg.Wait()
}

// pump reads frames from src, passes each through handler, and forwards
// whatever it returns (if anything) to dst — in order, per the ordering
// guarantee within a single direction. A send error meaning "the peer is
// gone" stops the pump silently; other send errors are logged and the pump
// keeps going. Read errors always end the pump: gorilla's ReadMessage
// returns the same error on every call once the connection has failed, so
// there is no transient read error to ride out.
func pump(src, dst *websocket.Conn, ctx *WebSocketContext, handler MessageHandler, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := slog.Default().With("direction", ctx.Direction.String())
	relayControlFrames(src, dst, ctx, handler, logger)

	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			if !isStreamEnded(err) {
				logger.Error("websocket read error", "error", err)
			}
			return
		}

		msg := wsmessage.FromWire(mt, data)
		out := handler.HandleMessage(ctx, &msg)
		if out == nil {
			continue
		}

		if err := dst.WriteMessage(out.WireType(), out.Payload); err != nil {
			if isStreamEnded(err) {
				return
			}
			logger.Error("websocket write error", "error", err)
			continue
		}
	}
}

const controlWriteTimeout = 10 * time.Second

// relayControlFrames routes ping, pong and close frames read on src through
// the same per-direction handler as data frames, forwarding whatever it
// returns to dst. gorilla surfaces control frames only via these callbacks
// (its defaults auto-pong pings and echo closes back to src, swallowing the
// frame), so without them the handler would never see three of the five
// frame kinds. The callbacks fire inside src.ReadMessage, on the pump's own
// goroutine, so dst still has a single writer.
func relayControlFrames(src, dst *websocket.Conn, ctx *WebSocketContext, handler MessageHandler, logger *slog.Logger) {
	relay := func(kind wsmessage.Kind, payload []byte) error {
		msg := wsmessage.Message{Kind: kind, Payload: payload}
		out := handler.HandleMessage(ctx, &msg)
		if out == nil {
			return nil
		}
		err := dst.WriteControl(out.WireType(), out.Payload, time.Now().Add(controlWriteTimeout))
		if err != nil && !isStreamEnded(err) && !errors.Is(err, websocket.ErrCloseSent) {
			logger.Error("websocket control write error", "error", err)
		}
		return nil
	}

	src.SetPingHandler(func(appData string) error { return relay(wsmessage.Ping, []byte(appData)) })
	src.SetPongHandler(func(appData string) error { return relay(wsmessage.Pong, []byte(appData)) })
	src.SetCloseHandler(func(code int, text string) error {
		return relay(wsmessage.Close, websocket.FormatCloseMessage(code, text))
	})
}

// isStreamEnded reports whether err means the underlying stream is simply
// over — a clean or abnormal close — rather than a transient I/O hiccup.
func isStreamEnded(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*websocket.CloseError); ok {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
