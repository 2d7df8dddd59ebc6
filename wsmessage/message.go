// Package wsmessage defines the WebSocket frame type passed through the
// bridge's message handlers, independent of the gorilla/websocket types used
// to read and write it on the wire.
package wsmessage

import "github.com/gorilla/websocket"

// Kind identifies a WebSocket frame's opcode.
type Kind int

const (
	Text Kind = iota
	Binary
	Ping
	Pong
	Close
)

// Message is one WebSocket frame: an opaque payload plus its frame kind.
type Message struct {
	Kind    Kind
	Payload []byte
}

// FromWire converts a gorilla/websocket (messageType, data) pair, as
// returned by Conn.ReadMessage, into a Message.
func FromWire(messageType int, data []byte) Message {
	return Message{Kind: kindFromWire(messageType), Payload: data}
}

// WireType returns the gorilla/websocket message type constant for m.Kind.
func (m Message) WireType() int {
	switch m.Kind {
	case Binary:
		return websocket.BinaryMessage
	case Ping:
		return websocket.PingMessage
	case Pong:
		return websocket.PongMessage
	case Close:
		return websocket.CloseMessage
	default:
		return websocket.TextMessage
	}
}

func kindFromWire(messageType int) Kind {
	switch messageType {
	case websocket.BinaryMessage:
		return Binary
	case websocket.PingMessage:
		return Ping
	case websocket.PongMessage:
		return Pong
	case websocket.CloseMessage:
		return Close
	default:
		return Text
	}
}
