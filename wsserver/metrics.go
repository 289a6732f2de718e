package wsserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonClosed    = "closed"
	reasonReadError = "read_error"
	reasonWriteErr  = "write_error"
	reasonShutdown  = "shutdown"
)

type metrics struct {
	accepted          prometheus.Counter
	rejected          prometheus.Counter
	handshakeFailures prometheus.Counter
	active            prometheus.Gauge
	received          prometheus.Counter
	sent              prometheus.Counter
	disconnects       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections approved by the handler",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections rejected by the handler or dropped as duplicates",
		}),
		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Upgrade requests that failed the websocket handshake",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently live",
		}),
		received: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages delivered to the handler",
		}),
		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages written to peers",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Ended connections by cause",
		}, []string{"reason"}),
	}
}
