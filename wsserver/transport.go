package wsserver

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// MessageReader is the receiving half of a connection. ReadMessage blocks for
// the next message; a close frame from the peer is returned as a CloseMessage
// value rather than an error.
type MessageReader interface {
	ReadMessage() (Message, error)
}

// MessageWriter is the sending half of a connection. WriteMessage writes and
// flushes one message. Close tears down the whole connection and may be
// called concurrently with WriteMessage.
type MessageWriter interface {
	WriteMessage(msg Message) error
	Close() error
}

// splitConn divides an upgraded connection into independent halves. gorilla
// allows one concurrent reader and one concurrent writer, which is exactly
// the ownership the routers need.
func splitConn(conn *websocket.Conn) (MessageReader, MessageWriter) {
	return &connReader{conn: conn}, &connWriter{conn: conn}
}

type connReader struct {
	conn *websocket.Conn
}

func (r *connReader) ReadMessage() (Message, error) {
	mt, data, err := r.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
			return Close(ce.Code, ce.Text), nil
		}

		return Message{}, err
	}

	return Message{Type: MessageType(mt), Data: data}, nil
}

type connWriter struct {
	conn *websocket.Conn
}

func (w *connWriter) WriteMessage(msg Message) error {
	if msg.IsClose() {
		code := msg.CloseCode
		if code == 0 {
			code = websocket.CloseNormalClosure
		}

		return w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, msg.CloseText))
	}

	if msg.Type == PingMessage || msg.Type == PongMessage {
		return w.conn.WriteControl(int(msg.Type), msg.Data, time.Time{})
	}

	return w.conn.WriteMessage(int(msg.Type), msg.Data)
}

func (w *connWriter) Close() error {
	return w.conn.Close()
}
