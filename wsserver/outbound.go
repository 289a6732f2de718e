package wsserver

import (
	"context"

	"github.com/cyberinferno/go-wsrouter/mailbox"
)

// Outbound is the per-connection queue the application pushes messages into.
// It is unbounded and safe to use from any number of goroutines. The server
// writes queued messages to the peer in the order they were sent.
//
// Once the connection has ended, Send returns mailbox.ErrClosed and the
// message is dropped.
type Outbound struct {
	box *mailbox.Mailbox[Message]
}

// NewOutbound returns an empty, open Outbound. The server creates one per
// connection; handlers only need this for tests.
func NewOutbound() *Outbound {
	return &Outbound{box: mailbox.New[Message]()}
}

// Send queues msg for delivery.
//
// Parameters:
//   - msg: The message to write to the peer
//
// Returns:
//   - mailbox.ErrClosed if the connection has ended or Close was called
func (o *Outbound) Send(msg Message) error {
	return o.box.Push(msg)
}

// SendText queues a text message.
func (o *Outbound) SendText(s string) error {
	return o.Send(Text(s))
}

// Close asks the server to finish the connection: messages already queued are
// written, followed by a normal close frame. Further sends fail.
func (o *Outbound) Close() {
	o.box.Close()
}

// Closed reports whether the queue accepts no more messages.
func (o *Outbound) Closed() bool {
	return o.box.Closed()
}

// Pending returns the number of messages waiting to be written.
func (o *Outbound) Pending() int {
	return o.box.Len()
}

func (o *Outbound) next(ctx context.Context) (Message, error) {
	return o.box.Pop(ctx)
}

func (o *Outbound) abort() {
	o.box.Abort()
}
