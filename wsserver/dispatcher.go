package wsserver

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/google/uuid"
)

// ServeHTTP upgrades r to a websocket connection and dispatches it. The HTTP
// server calls it on a goroutine per request, so a slow handshake never holds
// up other clients. It can be mounted on any mux; Run serves it on
// Config.Path.
func (s *Server[Id]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.handshakeFailures.Inc()
		s.log.Warn("client failed to connect",
			logger.Field{Key: "addr", Value: r.RemoteAddr},
			logger.Field{Key: "error", Value: err})
		return
	}

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	reader, writer := splitConn(conn)
	if err := s.accept(conn.RemoteAddr(), reader, writer); err != nil {
		s.log.Error("failed to dispatch connection", logger.Field{Key: "error", Value: err})
		s.fail(err)
	}
}

// accept asks the handler to approve an upgraded connection and, when it
// does, hands the two halves to the routers. Rejected connections are closed
// without further callbacks. A returned error means a dispatch queue refused
// the hand-off, which only happens once the server is shutting down.
func (s *Server[Id]) accept(addr net.Addr, reader MessageReader, writer MessageWriter) error {
	out := NewOutbound()
	id, ok := s.handler.OnConnect(addr, out)
	if !ok {
		s.metrics.rejected.Inc()
		s.log.Debug("client rejected by handler", logger.Field{Key: "addr", Value: addr.String()})
		out.abort()
		_ = writer.Close()
		return nil
	}

	l := &link{out: out, closer: writer, conn: uuid.New().String()}
	if _, loaded := s.links.LoadOrStore(id, l); loaded {
		s.metrics.rejected.Inc()
		s.log.Error("client refused",
			logger.Field{Key: "id", Value: id},
			logger.Field{Key: "addr", Value: addr.String()},
			logger.Field{Key: "error", Value: ErrDuplicateIdentity})
		out.abort()
		_ = writer.Close()
		return nil
	}

	s.metrics.accepted.Inc()
	s.metrics.active.Inc()
	s.log.Info("client connected",
		logger.Field{Key: "id", Value: id},
		logger.Field{Key: "conn", Value: l.conn},
		logger.Field{Key: "addr", Value: addr.String()})

	if err := s.sendDispatch.Push(sendEntry[Id]{id: id, out: out, writer: writer, link: l}); err != nil {
		s.disconnect(id, l, reasonShutdown)
		return fmt.Errorf("send dispatch for %v: %w", id, err)
	}

	if err := s.receiveDispatch.Push(receiveEntry[Id]{id: id, reader: reader, link: l}); err != nil {
		s.disconnect(id, l, reasonShutdown)
		return fmt.Errorf("receive dispatch for %v: %w", id, err)
	}

	return nil
}

// acceptLoop serves upgrade requests on the bound listener. It ends when the
// listener fails, a dispatch hand-off fails, or ctx is done.
func (s *Server[Id]) acceptLoop(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	srv := &http.Server{Handler: mux}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case err := <-s.fatal:
		_ = srv.Close()
		return err
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	}
}
