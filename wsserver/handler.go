package wsserver

import (
	"context"
	"net"
)

// Handler is the application logic plugged into a Server. One instance serves
// every connection, so all methods must be safe for concurrent use and should
// return quickly.
type Handler[Id comparable] interface {
	// MainLoop runs once for the lifetime of the server, concurrently with
	// connection handling. It should block until ctx is done; returning is
	// treated as a fatal server failure.
	MainLoop(ctx context.Context)

	// OnConnect approves or rejects a freshly upgraded connection. Returning
	// false drops the connection without any further callback. The outbound
	// queue is the only way to write to this peer and may be used from any
	// goroutine.
	//
	// Parameters:
	//   - addr: Remote address of the peer
	//   - out: Outbound queue for the connection
	//
	// Returns:
	//   - The identity naming the connection while it is live
	//   - false to reject the connection
	OnConnect(addr net.Addr, out *Outbound) (Id, bool)

	// OnMessage handles one message from the peer named by id. Messages of a
	// single connection arrive in wire order.
	OnMessage(id Id, msg Message)

	// OnDisconnect reports that the connection named by id has ended, whether
	// through a close frame, a read error, or a write failure. It is called
	// exactly once per accepted connection.
	OnDisconnect(id Id)
}
