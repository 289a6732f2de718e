// Package wsserver is an event-driven websocket server core. It accepts many
// concurrent connections, splits each into a receiving and a sending half,
// and reports their lifecycle (connect, message, disconnect) to a single
// application Handler keyed by an identity the handler assigns.
//
// Four long-lived tasks make up a running server: the handler's main loop,
// the accept dispatcher, the receive router and the send router. The
// dispatcher hands fresh connection halves to the routers through two
// unbounded queues, and each router starts one goroutine per connection.
// If any of the four tasks ends, the whole server ends.
package wsserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/cyberinferno/go-wsrouter/mailbox"
	"github.com/cyberinferno/go-wsrouter/safemap"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTaskExited is reported when one of the server's long-lived tasks
	// returns without an error of its own.
	ErrTaskExited = errors.New("task exited")

	// ErrAlreadyRunning is returned by Run when the server is already running.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrDuplicateIdentity is logged when the handler hands out an identity
	// that still belongs to a live connection.
	ErrDuplicateIdentity = errors.New("duplicate identity")
)

// link is the registry entry of one live connection. Its address is the
// token both routing units present when they report the end of the
// connection; whoever removes it first performs the teardown.
type link struct {
	out    *Outbound
	closer io.Closer
	// conn tells apart successive connections that reuse an identity in logs.
	conn string
}

type receiveEntry[Id comparable] struct {
	id     Id
	reader MessageReader
	link   *link
}

type sendEntry[Id comparable] struct {
	id     Id
	out    *Outbound
	writer MessageWriter
	link   *link
}

// Server routes websocket connections to a Handler. Create it with New and
// start it with Run, or use Start to run it for the life of the process.
type Server[Id comparable] struct {
	config   Config
	handler  Handler[Id]
	log      logger.Logger
	metrics  *metrics
	upgrader websocket.Upgrader

	receiveDispatch *mailbox.Mailbox[receiveEntry[Id]]
	sendDispatch    *mailbox.Mailbox[sendEntry[Id]]
	links           *safemap.SafeMap[Id, *link]
	fatal           chan error

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
}

// New creates a Server for handler. Missing Config fields fall back to the
// values of DefaultConfig.
//
// Parameters:
//   - config: Server settings
//   - handler: Application callbacks shared by every connection
//
// Returns:
//   - A Server that is not yet listening
func New[Id comparable](config Config, handler Handler[Id]) *Server[Id] {
	defaults := DefaultConfig(config.Address, config.Port)
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Namespace == "" {
		config.Namespace = defaults.Namespace
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = defaults.CheckOrigin
	}

	return &Server[Id]{
		config:  config,
		handler: handler,
		log:     config.Logger.With(logger.Field{Key: "server", Value: config.Name}),
		metrics: newMetrics(config.Registerer, config.Namespace),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		receiveDispatch: mailbox.New[receiveEntry[Id]](),
		sendDispatch:    mailbox.New[sendEntry[Id]](),
		links:           safemap.NewSafeMap[Id, *link](),
		fatal:           make(chan error, 1),
	}
}

// Listen binds the configured address. Run calls it when needed; calling it
// first lets callers learn the bound address through Addr. Calling it again
// is a no-op.
//
// Returns:
//   - An error if binding fails
func (s *Server[Id]) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.config.Address, strconv.FormatUint(uint64(s.config.Port), 10))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("server failed to listen", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to listen on %s: %w", s.config.Name, addr, err)
	}

	s.listener = ln
	s.log.Info("server listening", logger.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server[Id]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Connections returns the number of live connections.
func (s *Server[Id]) Connections() int {
	return s.links.Len()
}

// Run serves connections until one of the server's tasks ends or ctx is
// done, then closes every live connection. It always returns a non-nil error
// describing the first task that ended. A Server runs at most once.
//
// Parameters:
//   - ctx: Context whose cancellation stops the server
//
// Returns:
//   - The error that ended the server
func (s *Server[Id]) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	s.spawn(gctx, g, "main loop", func(ctx context.Context) error {
		s.handler.MainLoop(ctx)
		return nil
	})
	s.spawn(gctx, g, "accept dispatcher", s.acceptLoop)
	s.spawn(gctx, g, "receive router", s.receiveRouter)
	s.spawn(gctx, g, "send router", s.sendRouter)

	err := g.Wait()
	s.shutdown()
	return err
}

// spawn runs fn as one of the server's long-lived tasks. A task ending for
// any reason ends the group.
func (s *Server[Id]) spawn(ctx context.Context, g *errgroup.Group, name string, fn func(context.Context) error) {
	g.Go(func() error {
		err := fn(ctx)
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = ErrTaskExited
		}

		s.log.Debug("server task ended", logger.Field{Key: "task", Value: name}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("%s: %w", name, err)
	})
}

// fail ends the accept dispatcher with err. Only the first error is kept.
func (s *Server[Id]) fail(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// disconnect tears down the connection registered under id if l is still its
// live entry, and notifies the handler. Calls for a connection that already
// ended are no-ops, so the handler hears about each connection once.
func (s *Server[Id]) disconnect(id Id, l *link, reason string) {
	if !s.links.CompareAndDelete(id, l) {
		return
	}

	l.out.abort()
	_ = l.closer.Close()

	s.metrics.active.Dec()
	s.metrics.disconnects.WithLabelValues(reason).Inc()
	s.log.Info("client disconnected",
		logger.Field{Key: "id", Value: id},
		logger.Field{Key: "conn", Value: l.conn},
		logger.Field{Key: "reason", Value: reason})

	s.handler.OnDisconnect(id)
}

// isLive reports whether l is still the registered entry for id.
func (s *Server[Id]) isLive(id Id, l *link) bool {
	current, ok := s.links.Load(id)
	return ok && current == l
}

func (s *Server[Id]) shutdown() {
	s.receiveDispatch.Abort()
	s.sendDispatch.Abort()
	s.links.Range(func(id Id, l *link) bool {
		s.disconnect(id, l, reasonShutdown)
		return true
	})
}

// Start runs a server for the handler built by newHandler on address:port
// with DefaultConfig. It blocks until the server fails, logs the cause and
// exits the process with status 1.
//
// Parameters:
//   - address: Interface to bind
//   - port: TCP port to bind
//   - newHandler: Builds the handler once for this run
func Start[Id comparable](address string, port uint32, newHandler func() Handler[Id]) {
	config := DefaultConfig(address, port)
	err := New(config, newHandler()).Run(context.Background())
	config.Logger.Error("server terminated", logger.Field{Key: "error", Value: err})
	os.Exit(1)
}
