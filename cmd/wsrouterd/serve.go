package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-wsrouter/chat"
	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/cyberinferno/go-wsrouter/presence"
	"github.com/cyberinferno/go-wsrouter/wsserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	address        string
	port           uint32
	path           string
	mode           string
	maxClients     int
	greeting       string
	heartbeat      time.Duration
	messageRate    float64
	messageBurst   int
	maxMessageSize int64
	logLevel       string
	logDir         string
	adminAddr      string
	redisAddr      string
}

func serveCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server",
		Long: `Run the websocket server with the chat hub attached.

The server runs until it fails or receives SIGINT/SIGTERM. Presence is kept
in memory unless --redis-addr is given. Health, metrics and presence
endpoints are served on --admin-addr when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.address, "address", "0.0.0.0", "Interface to bind")
	flags.Uint32VarP(&opts.port, "port", "p", 9000, "Port to bind")
	flags.StringVar(&opts.path, "path", "/", "HTTP path accepting websocket upgrades")
	flags.StringVar(&opts.mode, "mode", "echo", "Hub mode: echo or broadcast")
	flags.IntVar(&opts.maxClients, "max-clients", 0, "Reject connections beyond this many (0 = unlimited)")
	flags.StringVar(&opts.greeting, "greeting", "", "Text sent to each client on connect")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "Ping and presence refresh interval")
	flags.Float64Var(&opts.messageRate, "message-rate", 0, "Messages per second accepted from each client (0 = unlimited)")
	flags.IntVar(&opts.messageBurst, "message-burst", 10, "Messages a client may send at once before --message-rate applies")
	flags.Int64Var(&opts.maxMessageSize, "max-message-size", 0, "Maximum incoming message size in bytes (0 = unlimited)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logDir, "log-dir", "", "Also write daily-rotated log files to this directory")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "Serve /healthz, /metrics and /presence on this address, e.g. :9100")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Keep presence in Redis at this address")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	mode, err := chat.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	log, err := newLogger(opts)
	if err != nil {
		return err
	}
	defer log.Close()

	store, closeStore, err := newPresenceStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := chat.NewHub(chat.Config{
		Mode:              mode,
		IdPrefix:          "c",
		MaxClients:        opts.maxClients,
		Greeting:          opts.greeting,
		HeartbeatInterval: opts.heartbeat,
		MessageRate:       opts.messageRate,
		MessageBurst:      opts.messageBurst,
		Presence:          store,
		Logger:            log.With(logger.Field{Key: "component", Value: "hub"}),
	})

	config := wsserver.DefaultConfig(opts.address, opts.port)
	config.Path = opts.path
	config.MaxMessageSize = opts.maxMessageSize
	config.Logger = log
	config.Registerer = registry
	srv := wsserver.New[string](config, hub)

	if opts.adminAddr != "" {
		go serveAdmin(opts.adminAddr, adminRouter(registry, hub, store), log)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info("server stopped by signal")
		return nil
	}

	log.Error("server terminated", logger.Field{Key: "error", Value: err})
	return err
}

func newLogger(opts serveOptions) (logger.Logger, error) {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, err
	}

	if opts.logDir != "" {
		return logger.NewZerologFileLogger("wsrouterd", opts.logDir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), "wsrouterd", level), nil
}

func newPresenceStore(ctx context.Context, opts serveOptions) (presence.Store, func(), error) {
	ttl := 2 * opts.heartbeat
	if opts.redisAddr == "" {
		return presence.NewMemoryStore(ttl, ttl), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s unreachable: %w", opts.redisAddr, err)
	}

	return presence.NewRedisStore(client, presence.DefaultKeyPrefix, ttl), func() { _ = client.Close() }, nil
}
