// Package wsclient provides an event-driven websocket client that reports
// connection state changes, received messages and errors through registered
// handlers. It supports optional auto-reconnect and write/read timeouts.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("not connected")

	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("client is closed")
)

// ConnectionState represents the current state of the client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial in progress
	Connected                           // Handshake completed
	Reconnecting                        // Waiting to redial (AutoReconnect only)
	Closed                              // Close was called; the client is finished
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState
	URL       string
	Timestamp time.Time
	Error     error // set when the change was caused by an error
}

// MessageEvent carries one message received from the server.
type MessageEvent struct {
	Type      int // websocket.TextMessage or websocket.BinaryMessage
	Data      []byte
	Timestamp time.Time
}

// ErrorEvent is emitted when a dial, read or write fails.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is invoked on its own goroutine for every state change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is invoked on the read goroutine, so messages arrive in
// order; it should return quickly.
type MessageHandler func(event MessageEvent)

// ErrorHandler is invoked on its own goroutine for every error.
type ErrorHandler func(event ErrorEvent)

// Config holds the client settings.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:9000/".
	URL string
	// Header is sent with the upgrade request.
	Header http.Header
	// AutoReconnect redials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay before each redial.
	ReconnectInterval time.Duration
	// HandshakeTimeout bounds the dial and upgrade.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout bounds the wait for each message; 0 means no timeout.
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config for url with AutoReconnect off,
// ReconnectInterval 5s, HandshakeTimeout 10s, WriteTimeout 10s and no read
// timeout.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectInterval: 5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is an event-driven websocket client. Register handlers, then call
// Connect. It is safe for concurrent use.
type Client struct {
	config Config
	dialer *websocket.Dialer

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler
	onError           ErrorHandler

	mu               sync.RWMutex
	conn             *websocket.Conn
	state            ConnectionState
	closed           bool
	reconnectStarted bool

	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}
	wg            sync.WaitGroup
}

// NewClient creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client; call Close when done
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState registers the state change handler, replacing any previous one.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the message handler, replacing any previous one.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured URL and starts reading.
//
// Parameters:
//   - ctx: Context bounding the dial
//
// Returns:
//   - ErrClientClosed after Close, an error if already connected, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed, state := c.closed, c.state
	c.mu.RUnlock()

	if closed {
		return ErrClientClosed
	}
	if state == Connected || state == Connecting {
		return errors.New("already connected or connecting")
	}

	return c.connect(ctx)
}

// Send writes one message. On a write error the connection is dropped and,
// with AutoReconnect, redialed.
//
// Parameters:
//   - messageType: websocket.TextMessage or websocket.BinaryMessage
//   - data: The payload
//
// Returns:
//   - ErrNotConnected without an open connection, or the write error
func (c *Client) Send(messageType int, data []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if err := conn.WriteMessage(messageType, data); err != nil {
		c.emitError(err)
		_ = conn.Close()
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// SendText writes a text message.
func (c *Client) SendText(s string) error {
	return c.Send(websocket.TextMessage, []byte(s))
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Close sends a normal close frame, closes the connection and stops all
// goroutines. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(Connecting, nil)

	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}

	c.conn = conn
	startReconnect := c.config.AutoReconnect && !c.reconnectStarted
	c.reconnectStarted = c.reconnectStarted || startReconnect
	c.wg.Add(1)
	if startReconnect {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.setState(Connected, nil)

	go c.readLoop(conn)
	if startReconnect {
		go c.reconnectHandler()
	}

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}

		c.emitMessage(mt, data)
	}
}

// dropConn forgets conn after a read failure and schedules a redial.
func (c *Client) dropConn(conn *websocket.Conn, err error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.emitError(err)
	}

	c.setState(Disconnected, err)
	c.triggerReconnect()
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		c.setState(Reconnecting, nil)

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		if c.isClosed() {
			return
		}

		if err := c.connect(context.Background()); err != nil && !errors.Is(err, ErrClientClosed) {
			c.triggerReconnect()
		}
	}
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			URL:       c.config.URL,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitMessage(mt int, data []byte) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		handler(MessageEvent{Type: mt, Data: data, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
