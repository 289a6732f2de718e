package wsserver

import (
	"net/http"
	"os"

	"github.com/cyberinferno/go-wsrouter/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config holds the settings of a Server.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Address is the interface to bind, e.g. "0.0.0.0" or "127.0.0.1".
	Address string
	// Port is the TCP port to bind; 0 picks a free port.
	Port uint32
	// Path is the HTTP path that accepts websocket upgrades.
	Path string
	// ReadBufferSize and WriteBufferSize size the transport's I/O buffers.
	ReadBufferSize  int
	WriteBufferSize int
	// MaxMessageSize limits incoming messages in bytes; 0 means no limit.
	MaxMessageSize int64
	// CheckOrigin validates the Origin header of upgrade requests. Nil
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool
	// Logger receives server log entries.
	Logger logger.Logger
	// Namespace prefixes the Prometheus metric names.
	Namespace string
	// Registerer receives the server metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config for address:port with defaults: Name
// "wsrouter", Path "/", 4 KiB buffers, no message size limit, every origin
// accepted, info-level JSON logging to stdout, and unregistered metrics.
//
// Parameters:
//   - address: Interface to bind
//   - port: TCP port to bind
//
// Returns:
//   - The default Config
func DefaultConfig(address string, port uint32) Config {
	return Config{
		Name:            "wsrouter",
		Address:         address,
		Port:            port,
		Path:            "/",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
		Logger:          logger.NewZerologLogger(zerolog.New(os.Stdout), "wsrouter", zerolog.InfoLevel),
		Namespace:       "wsrouter",
	}
}
