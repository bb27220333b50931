// Package metrics tracks the five operational counters (quotes received,
// responded, rejected; depth pushes; reconnections), mirroring each into
// a Prometheus counter registered in init() and served by promhttp at
// /metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/darkpool-rfq/mm-agent/pkg/types"
)

var (
	quotesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mm_agent_quotes_received_total",
		Help: "Quote requests received from the hub.",
	})
	quotesResponded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mm_agent_quotes_responded_total",
		Help: "Quote requests answered with a signed order.",
	})
	quotesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_agent_quotes_rejected_total",
		Help: "Quote requests rejected, by reason.",
	}, []string{"reason"})
	depthPushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mm_agent_depth_pushes_total",
		Help: "Depth snapshots published.",
	})
	reconnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mm_agent_reconnections_total",
		Help: "Session reconnections performed by the supervisor.",
	})
	sessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_agent_session_state",
		Help: "Current session state: 0=disconnected 1=live.",
	})
)

func init() {
	prometheus.MustRegister(quotesReceived, quotesResponded, quotesRejected, depthPushes, reconnections, sessionState)
}

// Counters holds the in-process atomic counters mirrored into Prometheus.
// A single Counters value is shared by the session engine (which updates
// it) and the status server (which reads a snapshot of it).
type Counters struct {
	quotesReceived  uint64
	quotesResponded uint64
	quotesRejected  uint64
	depthPushes     uint64
	reconnections   uint64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) IncQuotesReceived() {
	atomic.AddUint64(&c.quotesReceived, 1)
	quotesReceived.Inc()
}

func (c *Counters) IncQuotesResponded() {
	atomic.AddUint64(&c.quotesResponded, 1)
	quotesResponded.Inc()
}

func (c *Counters) IncQuotesRejected(reason types.RejectReason) {
	atomic.AddUint64(&c.quotesRejected, 1)
	quotesRejected.WithLabelValues(string(reason)).Inc()
}

func (c *Counters) IncDepthPushes() {
	atomic.AddUint64(&c.depthPushes, 1)
	depthPushes.Inc()
}

func (c *Counters) IncReconnections() {
	atomic.AddUint64(&c.reconnections, 1)
	reconnections.Inc()
}

// SetLive flips the session-state gauge; live=true sets it to 1.
func (c *Counters) SetLive(live bool) {
	if live {
		sessionState.Set(1)
		return
	}
	sessionState.Set(0)
}

// Snapshot returns a read-only view of the counters for /api/status.
func (c *Counters) Snapshot() types.Metrics {
	return types.Metrics{
		QuotesReceived:  int64(atomic.LoadUint64(&c.quotesReceived)),
		QuotesResponded: int64(atomic.LoadUint64(&c.quotesResponded)),
		QuotesRejected:  int64(atomic.LoadUint64(&c.quotesRejected)),
		DepthPushes:     int64(atomic.LoadUint64(&c.depthPushes)),
		Reconnections:   int64(atomic.LoadUint64(&c.reconnections)),
	}
}
