package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BusMetrics captures counters for bus clients and workers.
type BusMetrics interface {
	IncEnqueued(actionType string)
	IncProcessed(actionType, outcome string)
	IncReplyTimeouts(actionType string)
	ObserveHandlerDuration(actionType string, durationSeconds float64)
}

// GatewayMetrics captures connection and delivery metrics for the gateway.
type GatewayMetrics interface {
	SetLiveConnections(count float64)
	IncSends(outcome string)
	IncBroadcasts()
	IncSweepDisconnects()
}

// Noop implements BusMetrics without emitting anything.
type Noop struct{}

func (Noop) IncEnqueued(string)                     {}
func (Noop) IncProcessed(string, string)            {}
func (Noop) IncReplyTimeouts(string)                {}
func (Noop) ObserveHandlerDuration(string, float64) {}

// NoopGateway implements GatewayMetrics without emitting anything.
type NoopGateway struct{}

func (NoopGateway) SetLiveConnections(float64) {}
func (NoopGateway) IncSends(string)            {}
func (NoopGateway) IncBroadcasts()             {}
func (NoopGateway) IncSweepDisconnects()       {}

// Prom implements BusMetrics backed by Prometheus collectors.
type Prom struct {
	enqueued      *prometheus.CounterVec
	processed     *prometheus.CounterVec
	replyTimeouts *prometheus.CounterVec
	handlerDur    *prometheus.HistogramVec
	once          sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_enqueued_total",
			Help:      "Actions enqueued by action type",
		}, []string{"action_type"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_processed_total",
			Help:      "Actions processed by action type and outcome",
		}, []string{"action_type", "outcome"}),
		replyTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_timeouts_total",
			Help:      "Pseudo-sync calls that timed out by action type",
		}, []string{"action_type"}),
		handlerDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler latency by action type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_type"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.enqueued, p.processed, p.replyTimeouts, p.handlerDur)
	})
	return p
}

func (p *Prom) IncEnqueued(actionType string) {
	p.enqueued.WithLabelValues(actionType).Inc()
}

func (p *Prom) IncProcessed(actionType, outcome string) {
	p.processed.WithLabelValues(actionType, outcome).Inc()
}

func (p *Prom) IncReplyTimeouts(actionType string) {
	p.replyTimeouts.WithLabelValues(actionType).Inc()
}

func (p *Prom) ObserveHandlerDuration(actionType string, durationSeconds float64) {
	p.handlerDur.WithLabelValues(actionType).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	connections prometheus.Gauge
	sends       *prometheus.CounterVec
	broadcasts  prometheus.Counter
	sweeps      prometheus.Counter
	once        sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with gauges/counters.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Live WebSocket connections",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_sends_total",
			Help:      "Session sends by outcome",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_broadcasts_total",
			Help:      "Tenant broadcast fan-outs",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_sweep_disconnects_total",
			Help:      "Connections removed by the staleness sweep",
		}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.connections, g.sends, g.broadcasts, g.sweeps)
	})
	return g
}

func (g *gatewayProm) SetLiveConnections(count float64) { g.connections.Set(count) }
func (g *gatewayProm) IncSends(outcome string)          { g.sends.WithLabelValues(outcome).Inc() }
func (g *gatewayProm) IncBroadcasts()                   { g.broadcasts.Inc() }
func (g *gatewayProm) IncSweepDisconnects()             { g.sweeps.Inc() }
