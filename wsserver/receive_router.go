package wsserver

import (
	"context"
	"errors"
	"net"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/gorilla/websocket"
)

// receiveRouter starts one receiving unit per dispatched connection.
func (s *Server[Id]) receiveRouter(ctx context.Context) error {
	for {
		entry, err := s.receiveDispatch.Pop(ctx)
		if err != nil {
			return err
		}

		go s.receive(entry)
	}
}

// receive delivers the messages of one connection to the handler in wire
// order until the peer closes or the read fails.
func (s *Server[Id]) receive(e receiveEntry[Id]) {
	for {
		msg, err := e.reader.ReadMessage()
		if err != nil {
			s.logReadError(e, err)
			s.disconnect(e.id, e.link, reasonReadError)
			return
		}

		if msg.IsClose() {
			s.log.Debug("client sent close",
				logger.Field{Key: "id", Value: e.id},
				logger.Field{Key: "code", Value: msg.CloseCode})
			s.disconnect(e.id, e.link, reasonClosed)
			return
		}

		s.metrics.received.Inc()
		s.handler.OnMessage(e.id, msg)
	}
}

// logReadError logs at warn unless the failure was caused by this server
// closing the connection.
func (s *Server[Id]) logReadError(e receiveEntry[Id], err error) {
	fields := []logger.Field{{Key: "id", Value: e.id}, {Key: "error", Value: err}}
	if !s.isLive(e.id, e.link) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		s.log.Debug("receive ended", fields...)
		return
	}

	s.log.Warn("error while receiving messages", fields...)
}
