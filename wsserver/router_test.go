package wsserver

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/go-wsrouter/mailbox"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccept_ApprovedConnection(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()

	require.NoError(t, s.accept(fakeAddr("10.0.0.1:4000"), conn, conn))

	assert.Equal(t, []string{"connect:c1"}, h.Events())
	assert.Equal(t, 1, s.Connections())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.active))
	assert.NotNil(t, h.Outbound("c1"))
}

func TestAccept_RejectedConnection(t *testing.T) {
	h := newRecorder()
	h.approve = func(net.Addr) (string, bool) { return "", false }
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	conn.deliver(Text("ignored"))

	require.NoError(t, s.accept(fakeAddr("10.0.0.2:4000"), conn, conn))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"reject:10.0.0.2:4000"}, h.Events())
	assert.True(t, conn.isClosed(), "rejected connection must be closed")
	assert.Equal(t, 0, s.Connections())
	assert.Equal(t, 0, s.receiveDispatch.Len())
	assert.Equal(t, 0, s.sendDispatch.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.rejected))
}

func TestAccept_DuplicateLiveIdentity(t *testing.T) {
	h := newRecorder()
	h.approve = func(net.Addr) (string, bool) { return "same", true }
	s := newRoutedServer(t, h)

	first := newFakeConn()
	second := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), first, first))
	require.NoError(t, s.accept(fakeAddr("b:2"), second, second))

	assert.True(t, second.isClosed())
	assert.False(t, first.isClosed())
	assert.Equal(t, 1, s.Connections())

	first.deliver(Text("still routed"))
	h.waitFor(t, "message:same:still routed")
}

func TestReceive_PreservesOrder(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	conn.deliver(Text("m1"), Text("m2"), Binary([]byte("m3")))
	h.waitFor(t, "message:c1:m3")

	assert.Equal(t, []string{"connect:c1", "message:c1:m1", "message:c1:m2", "message:c1:m3"}, h.Events())
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.received))
}

func TestReceive_CloseFrameDisconnectsOnce(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	conn.deliver(Text("before"), Close(websocket.CloseNormalClosure, "bye"), Text("after"))
	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"connect:c1", "message:c1:before", "disconnect:c1"}, h.Events())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, s.Connections())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.disconnects.WithLabelValues(reasonClosed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.active))
}

func TestReceive_ReadErrorDisconnects(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	conn.breakRead(io.ErrUnexpectedEOF)
	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, h.count("disconnect:c1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.disconnects.WithLabelValues(reasonReadError)))
}

func TestSend_WritesInOrder(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	out := h.Outbound("c1")
	require.NoError(t, out.SendText("o1"))
	require.NoError(t, out.SendText("o2"))
	require.NoError(t, out.Send(Binary([]byte{1, 2})))

	require.Eventually(t, func() bool { return len(conn.Written()) == 3 }, 2*time.Second, 5*time.Millisecond)
	written := conn.Written()
	assert.Equal(t, "o1", written[0].String())
	assert.Equal(t, "o2", written[1].String())
	assert.Equal(t, BinaryMessage, written[2].Type)
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.sent))
}

func TestSend_WriteFailureDisconnectsAndDropsRest(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	conn.failWrite(2)
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	out := h.Outbound("c1")
	for _, m := range []string{"o1", "o2", "o3", "o4"} {
		_ = out.SendText(m)
	}

	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)

	written := conn.Written()
	require.Len(t, written, 1)
	assert.Equal(t, "o1", written[0].String())
	assert.Equal(t, 1, h.count("disconnect:c1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.disconnects.WithLabelValues(reasonWriteErr)))

	assert.ErrorIs(t, out.SendText("late"), mailbox.ErrClosed)
	assert.Equal(t, 0, out.Pending())
}

func TestDisconnect_BothPathsNotifyOnce(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	conn.failWrite(1)
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	_ = h.Outbound("c1").SendText("boom")
	conn.breakRead(io.ErrUnexpectedEOF)

	h.waitFor(t, "disconnect:c1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.count("disconnect:c1"))
}

func TestOutbound_CloseFlushesThenSendsCloseFrame(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	out := h.Outbound("c1")
	require.NoError(t, out.SendText("last words"))
	out.Close()
	assert.ErrorIs(t, out.SendText("too late"), mailbox.ErrClosed)

	require.Eventually(t, func() bool { return len(conn.Written()) == 2 }, 2*time.Second, 5*time.Millisecond)
	written := conn.Written()
	assert.Equal(t, "last words", written[0].String())
	assert.True(t, written[1].IsClose())
	assert.Equal(t, websocket.CloseNormalClosure, written[1].CloseCode)

	// The peer answers the close frame; only then does the connection end.
	assert.Equal(t, 0, h.count("disconnect:c1"))
	conn.deliver(Close(websocket.CloseNormalClosure, ""))
	h.waitFor(t, "disconnect:c1")
}

func TestIsolation_FailureOnOneConnectionLeavesOthersAlone(t *testing.T) {
	h := newRecorder()
	s := newRoutedServer(t, h)

	a := newFakeConn()
	b := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), a, a))
	require.NoError(t, s.accept(fakeAddr("b:2"), b, b))

	a.failWrite(1)
	_ = h.Outbound("c1").SendText("fails")
	a.breakRead(io.ErrUnexpectedEOF)
	h.waitFor(t, "disconnect:c1")

	b.deliver(Text("b1"), Text("b2"))
	require.NoError(t, h.Outbound("c2").SendText("to b"))
	h.waitFor(t, "message:c2:b2")
	require.Eventually(t, func() bool { return len(b.Written()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"connect:c2", "message:c2:b1", "message:c2:b2"}, h.EventsFor("c2"))
	assert.False(t, b.isClosed())
	assert.Equal(t, 1, s.Connections())
}

func TestShutdown_DisconnectsLiveConnections(t *testing.T) {
	h := newRecorder()
	s := New[string](testConfig(), h)
	conn := newFakeConn()
	require.NoError(t, s.accept(fakeAddr("a:1"), conn, conn))

	s.shutdown()

	assert.Equal(t, []string{"connect:c1", "disconnect:c1"}, h.Events())
	assert.True(t, conn.isClosed())

	late := newFakeConn()
	err := s.accept(fakeAddr("b:2"), late, late)
	assert.ErrorIs(t, err, mailbox.ErrClosed)
	assert.True(t, late.isClosed())
	assert.Equal(t, 1, h.count("disconnect:c2"))
}
