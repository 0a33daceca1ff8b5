package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "livelink"

// metrics holds the server's instruments, registered against the configured
// registry so embedders can aggregate or isolate them.
type metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesReceived  prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	commandDuration   prometheus.Histogram
	rpcTotal          *prometheus.CounterVec
	broadcastsTotal   prometheus.Counter
	syncBatchesTotal  *prometheus.CounterVec
	syncObjectsTotal  prometheus.Counter
	handlerPanics     prometheus.Counter
	queueDepth        prometheus.Gauge
}

func newMetrics(reg *prometheus.Registry) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Currently connected WebSocket clients.",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections.",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Inbound text frames across all connections.",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands processed, by canonical type and outcome.",
		}, []string{"type", "status"}),
		commandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Wall time spent handling one command.",
			Buckets:   prometheus.DefBuckets,
		}),
		rpcTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rpc_total",
			Help:      "JSON-RPC envelopes processed, by method.",
		}, []string{"method"}),
		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to all connections.",
		}),
		syncBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_batches_total",
			Help:      "Sync batches broadcast, by mode.",
		}, []string{"mode"}),
		syncObjectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_objects_total",
			Help:      "Objects carried across all sync batches.",
		}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered in command handlers.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_queue_depth",
			Help:      "Callbacks still queued after the latest drain.",
		}),
	}
}
