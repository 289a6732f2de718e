// Package chat provides Hub, a ready-made wsserver.Handler that names each
// connection "c1", "c2", ... and either echoes messages back to their sender
// or relays them to every connected client. A heartbeat loop pings clients
// and keeps their presence entries fresh.
package chat

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-wsrouter/idgenerator"
	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/cyberinferno/go-wsrouter/presence"
	"github.com/cyberinferno/go-wsrouter/safemap"
	"github.com/cyberinferno/go-wsrouter/wsserver"
	"golang.org/x/time/rate"
)

// Mode selects what the hub does with an incoming message.
type Mode int

const (
	// Echo sends each message back to its sender only.
	Echo Mode = iota
	// Broadcast relays each message to every connected client.
	Broadcast
)

// ParseMode converts "echo" or "broadcast" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "echo":
		return Echo, nil
	case "broadcast":
		return Broadcast, nil
	default:
		return Echo, fmt.Errorf("unknown chat mode %q", s)
	}
}

// String returns the mode name.
func (m Mode) String() string {
	if m == Broadcast {
		return "broadcast"
	}
	return "echo"
}

// Config holds Hub settings.
type Config struct {
	Mode Mode
	// IdPrefix precedes the connection counter in identities.
	IdPrefix string
	// MaxClients rejects new connections once reached; 0 means no limit.
	MaxClients int
	// Greeting, when set, is sent to each client right after it connects.
	Greeting string
	// HeartbeatInterval is the period of pings and presence refreshes.
	HeartbeatInterval time.Duration
	// MessageRate caps the messages per second accepted from each client;
	// excess messages are dropped. 0 means no limit.
	MessageRate float64
	// MessageBurst is the number of messages a client may send at once
	// before MessageRate applies. Values below 1 are treated as 1.
	MessageBurst int
	// Presence records online identities. Nil uses an in-memory store.
	Presence presence.Store
	// Logger receives hub log entries. Nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns an echo hub with prefix "c", no client limit, no
// greeting, a 30s heartbeat and in-memory presence.
func DefaultConfig() Config {
	return Config{
		Mode:              Echo,
		IdPrefix:          "c",
		HeartbeatInterval: 30 * time.Second,
	}
}

const presenceTimeout = time.Second

type client struct {
	out     *wsserver.Outbound
	addr    string
	limiter *rate.Limiter
}

// Hub implements wsserver.Handler[string].
type Hub struct {
	config   Config
	ids      *idgenerator.IdGenerator
	clients  *safemap.SafeMap[string, *client]
	presence presence.Store
	log      logger.Logger
}

var _ wsserver.Handler[string] = (*Hub)(nil)

// NewHub creates a Hub.
//
// Parameters:
//   - config: Hub settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new Hub with no clients
func NewHub(config Config) *Hub {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}

	store := config.Presence
	if store == nil {
		ttl := 2 * config.HeartbeatInterval
		store = presence.NewMemoryStore(ttl, ttl)
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Hub{
		config:   config,
		ids:      idgenerator.NewIdGenerator(config.IdPrefix, 0),
		clients:  safemap.NewSafeMap[string, *client](),
		presence: store,
		log:      log,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return h.clients.Len()
}

// Presence returns the store the hub records online identities in.
func (h *Hub) Presence() presence.Store {
	return h.presence
}

// MainLoop pings every client and refreshes its presence entry once per
// heartbeat until ctx is done.
func (h *Hub) MainLoop(ctx context.Context) {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.heartbeat(ctx)
		}
	}
}

func (h *Hub) heartbeat(ctx context.Context) {
	h.clients.Range(func(id string, c *client) bool {
		_ = c.out.Send(wsserver.Ping(nil))
		h.markOnline(ctx, id, c.addr)
		return true
	})

	count, err := h.presence.Count(ctx)
	if err != nil {
		h.log.Warn("presence count failed", logger.Field{Key: "error", Value: err})
		return
	}

	h.log.Debug("heartbeat", logger.Field{Key: "clients", Value: h.clients.Len()}, logger.Field{Key: "online", Value: count})
}

// OnConnect assigns the next identity unless the hub is full.
func (h *Hub) OnConnect(addr net.Addr, out *wsserver.Outbound) (string, bool) {
	if h.config.MaxClients > 0 && h.clients.Len() >= h.config.MaxClients {
		h.log.Warn("hub full, rejecting client", logger.Field{Key: "addr", Value: addr.String()})
		return "", false
	}

	id := h.ids.Id()
	c := &client{out: out, addr: addr.String()}
	if h.config.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.config.MessageRate), max(h.config.MessageBurst, 1))
	}
	h.clients.Store(id, c)
	h.markOnline(context.Background(), id, addr.String())

	if h.config.Greeting != "" {
		_ = out.SendText(h.config.Greeting)
	}

	return id, true
}

// OnMessage echoes or relays text and binary messages. Relayed text is
// prefixed with the sender's identity.
func (h *Hub) OnMessage(id string, msg wsserver.Message) {
	if msg.Type != wsserver.TextMessage && msg.Type != wsserver.BinaryMessage {
		return
	}

	sender, ok := h.clients.Load(id)
	if !ok {
		return
	}
	if sender.limiter != nil && !sender.limiter.Allow() {
		h.log.Debug("message dropped (rate limited)", logger.Field{Key: "id", Value: id})
		return
	}

	if h.config.Mode == Echo {
		_ = sender.out.Send(msg)
		return
	}

	relay := msg
	if msg.Type == wsserver.TextMessage {
		relay = wsserver.Text(id + ": " + msg.String())
	}

	h.clients.Range(func(_ string, c *client) bool {
		_ = c.out.Send(relay)
		return true
	})
}

// OnDisconnect forgets the client.
func (h *Hub) OnDisconnect(id string) {
	h.clients.Delete(id)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.MarkOffline(ctx, id); err != nil {
		h.log.Warn("presence update failed", logger.Field{Key: "id", Value: id}, logger.Field{Key: "error", Value: err})
	}
}

func (h *Hub) markOnline(ctx context.Context, id, addr string) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	if err := h.presence.MarkOnline(ctx, id, addr); err != nil {
		h.log.Warn("presence update failed", logger.Field{Key: "id", Value: id}, logger.Field{Key: "error", Value: err})
	}
}
