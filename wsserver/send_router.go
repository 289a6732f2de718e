package wsserver

import (
	"context"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/gorilla/websocket"
)

// sendRouter starts one sending unit per dispatched connection.
func (s *Server[Id]) sendRouter(ctx context.Context) error {
	for {
		entry, err := s.sendDispatch.Pop(ctx)
		if err != nil {
			return err
		}

		go s.send(entry)
	}
}

// send writes queued outbound messages of one connection in order. The unit
// owns the writer; a failed write ends the connection and drops whatever is
// still queued. When the application closes the queue, the remaining
// messages are written followed by a normal close frame.
func (s *Server[Id]) send(e sendEntry[Id]) {
	for {
		msg, err := e.out.next(context.Background())
		if err != nil {
			if s.isLive(e.id, e.link) {
				_ = e.writer.WriteMessage(Close(websocket.CloseNormalClosure, ""))
			}
			return
		}

		if err := e.writer.WriteMessage(msg); err != nil {
			s.log.Warn("forced disconnect (failed to send message)",
				logger.Field{Key: "id", Value: e.id},
				logger.Field{Key: "error", Value: err})
			s.disconnect(e.id, e.link, reasonWriteErr)
			return
		}

		s.metrics.sent.Inc()
		if msg.IsClose() {
			e.out.abort()
			return
		}
	}
}
