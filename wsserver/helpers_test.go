package wsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeRead struct {
	msg Message
	err error
}

// fakeConn provides both halves of an in-memory connection. Closing it
// unblocks the reader, like closing a socket.
type fakeConn struct {
	incoming  chan fakeRead
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Message
	writes  int
	failAt  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan fakeRead, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) deliver(msgs ...Message) {
	for _, m := range msgs {
		c.incoming <- fakeRead{msg: m}
	}
}

func (c *fakeConn) breakRead(err error) {
	c.incoming <- fakeRead{err: err}
}

// failWrite makes the n-th write (1-based) and every later one fail.
func (c *fakeConn) failWrite(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAt = n
}

func (c *fakeConn) ReadMessage() (Message, error) {
	select {
	case r := <-c.incoming:
		return r.msg, r.err
	case <-c.closed:
		return Message{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	if c.isClosed() {
		return net.ErrClosed
	}
	if c.failAt > 0 && c.writes >= c.failAt {
		return errBrokenPipe
	}

	c.written = append(c.written, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// recorder is a Handler that logs every callback as a string such as
// "message:c1:hello" and keeps each connection's outbound queue.
type recorder struct {
	mu     sync.Mutex
	events []string
	outs   map[string]*Outbound
	next   int

	approve  func(addr net.Addr) (string, bool)
	mainLoop func(ctx context.Context)
}

func newRecorder() *recorder {
	return &recorder{outs: make(map[string]*Outbound)}
}

func (r *recorder) MainLoop(ctx context.Context) {
	if r.mainLoop != nil {
		r.mainLoop(ctx)
		return
	}
	<-ctx.Done()
}

func (r *recorder) OnConnect(addr net.Addr, out *Outbound) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	if r.approve != nil {
		var ok bool
		if id, ok = r.approve(addr); !ok {
			r.events = append(r.events, "reject:"+addr.String())
			return "", false
		}
	} else {
		r.next++
		id = fmt.Sprintf("c%d", r.next)
	}

	r.outs[id] = out
	r.events = append(r.events, "connect:"+id)
	return id, true
}

func (r *recorder) OnMessage(id string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "message:"+id+":"+msg.String())
}

func (r *recorder) OnDisconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "disconnect:"+id)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// EventsFor returns the events that mention id, in order.
func (r *recorder) EventsFor(id string) []string {
	var out []string
	for _, e := range r.Events() {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) >= 2 && parts[1] == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) Outbound(id string) *Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outs[id]
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.Events() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, event string) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(event) > 0 }, 2*time.Second, 5*time.Millisecond,
		"event %q not seen; got %v", event, r.Events())
}

func testConfig() Config {
	config := DefaultConfig("127.0.0.1", 0)
	config.Name = "test"
	config.Logger = logger.NewNopLogger()
	config.Registerer = prometheus.NewRegistry()
	return config
}

// newRoutedServer returns a server whose two routers are running, without
// binding a listener, so connections can be injected with accept.
func newRoutedServer(t *testing.T, h *recorder) *Server[string] {
	t.Helper()
	s := New[string](testConfig(), h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = s.receiveRouter(ctx); done <- struct{}{} }()
	go func() { _ = s.sendRouter(ctx); done <- struct{}{} }()

	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		s.shutdown()
	})
	return s
}
