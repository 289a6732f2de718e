package wsserver

import "github.com/gorilla/websocket"

// MessageType identifies the variant of a Message. Values match the
// websocket opcodes.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
	CloseMessage  MessageType = websocket.CloseMessage
	PingMessage   MessageType = websocket.PingMessage
	PongMessage   MessageType = websocket.PongMessage
)

// String returns the lower-case name of the message type.
func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	case CloseMessage:
		return "close"
	case PingMessage:
		return "ping"
	case PongMessage:
		return "pong"
	default:
		return "unknown"
	}
}

// Message is one decoded websocket message. The payload is opaque to the
// server; only the close variant is acted upon. CloseCode and CloseText are
// set for close messages only.
type Message struct {
	Type      MessageType
	Data      []byte
	CloseCode int
	CloseText string
}

// Text returns a text message carrying s.
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Binary returns a binary message carrying data.
func Binary(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Close returns a close message with the given status code and reason.
func Close(code int, text string) Message {
	return Message{Type: CloseMessage, CloseCode: code, CloseText: text}
}

// Ping returns a ping control message. The peer's transport answers it with
// a pong.
func Ping(data []byte) Message {
	return Message{Type: PingMessage, Data: data}
}

// IsClose reports whether m is the close variant.
func (m Message) IsClose() bool {
	return m.Type == CloseMessage
}

// String returns the payload interpreted as text.
func (m Message) String() string {
	return string(m.Data)
}
