package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runningServer struct {
	*Server[string]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *runningServer) url(path string) string {
	return "ws://" + r.Addr().String() + path
}

// stop cancels the server and returns what Run returned.
func (r *runningServer) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	return r.wait(t)
}

func (r *runningServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func runServer(t *testing.T, h Handler[string], config Config) *runningServer {
	t.Helper()
	s := New[string](config, h)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	r := &runningServer{Server: s, cancel: cancel, done: make(chan struct{})}
	go func() {
		r.err = s.Run(ctx)
		close(r.done)
	}()

	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServer_EndToEnd(t *testing.T) {
	h := newRecorder()
	srv := runServer(t, h, testConfig())

	client := dial(t, srv.url("/"))
	h.waitFor(t, "connect:c1")

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	h.waitFor(t, "message:c1:hello")

	require.NoError(t, h.Outbound("c1").SendText("world"))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "world", string(data))

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")))
	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"connect:c1", "message:c1:hello", "disconnect:c1"}, h.Events())
	assert.Equal(t, 0, srv.Connections())
}

func TestServer_HandshakeFailureIsNotFatal(t *testing.T) {
	h := newRecorder()
	srv := runServer(t, h, testConfig())

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dial(t, srv.url("/"))
	h.waitFor(t, "connect:c1")
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.handshakeFailures))
}

func TestServer_AbruptDisconnect(t *testing.T) {
	h := newRecorder()
	srv := runServer(t, h, testConfig())

	client := dial(t, srv.url("/"))
	h.waitFor(t, "connect:c1")

	require.NoError(t, client.UnderlyingConn().Close())
	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.count("disconnect:c1"))
}

func TestServer_RejectedConnectionIsClosed(t *testing.T) {
	h := newRecorder()
	h.approve = func(net.Addr) (string, bool) { return "", false }
	srv := runServer(t, h, testConfig())

	client := dial(t, srv.url("/"))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection should be closed, not left idle")
	}

	events := h.Events()
	require.Len(t, events, 1)
	assert.Contains(t, events[0], "reject:")
}

func TestServer_CustomPath(t *testing.T) {
	config := testConfig()
	config.Path = "/ws"
	h := newRecorder()
	srv := runServer(t, h, config)

	_, resp, err := websocket.DefaultDialer.Dial(srv.url("/other"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	dial(t, srv.url("/ws"))
	h.waitFor(t, "connect:c1")
}

func TestServer_Run(t *testing.T) {
	t.Run("main loop returning ends the server", func(t *testing.T) {
		h := newRecorder()
		h.mainLoop = func(context.Context) {}
		srv := runServer(t, h, testConfig())

		err := srv.wait(t)
		assert.ErrorIs(t, err, ErrTaskExited)
		assert.Contains(t, err.Error(), "main loop")
	})

	t.Run("cancellation ends the server and disconnects clients", func(t *testing.T) {
		h := newRecorder()
		srv := runServer(t, h, testConfig())
		dial(t, srv.url("/"))
		h.waitFor(t, "connect:c1")

		err := srv.stop(t)
		assert.ErrorIs(t, err, context.Canceled)
		h.waitFor(t, "disconnect:c1")
		assert.Equal(t, 1, h.count("disconnect:c1"))
	})

	t.Run("second run is refused", func(t *testing.T) {
		h := newRecorder()
		srv := runServer(t, h, testConfig())
		require.Eventually(t, srv.running.Load, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, srv.Run(context.Background()), ErrAlreadyRunning)
	})

	t.Run("busy port fails to listen", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		config := testConfig()
		config.Port = uint32(ln.Addr().(*net.TCPAddr).Port)
		s := New[string](config, newRecorder())

		err = s.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), strconv.Itoa(int(config.Port)))
		assert.Nil(t, s.Addr())
	})
}

func TestNew_FillsDefaults(t *testing.T) {
	s := New[string](Config{Address: "127.0.0.1"}, newRecorder())
	assert.Equal(t, "wsrouter", s.config.Name)
	assert.Equal(t, "/", s.config.Path)
	assert.NotNil(t, s.config.Logger)
	assert.NotNil(t, s.config.CheckOrigin)
	assert.Nil(t, s.Addr())
	assert.Equal(t, 0, s.Connections())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "text", TextMessage.String())
	assert.Equal(t, "close", CloseMessage.String())
	assert.Equal(t, "unknown", MessageType(99).String())

	assert.False(t, Text("x").IsClose())
	assert.True(t, Close(websocket.CloseGoingAway, "bye").IsClose())
	assert.Equal(t, "payload", Binary([]byte("payload")).String())
}
