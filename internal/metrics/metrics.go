// Package metrics exposes sync engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry
	inbound  *prometheus.CounterVec
	outbound *prometheus.CounterVec
	blocks   prometheus.Histogram
}

// New registers the collectors on a fresh registry. A nil registry creates one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casesync_inbound_messages_total",
			Help: "Inbound messages by outcome",
		}, []string{"action"}),
		outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casesync_outbound_replies_total",
			Help: "Outbound replies by result",
		}, []string{"result"}),
		blocks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "casesync_blocks_emitted",
			Help:    "Blocks produced per converted email",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// InboundMessage counts one processed inbound message.
func (m *Metrics) InboundMessage(action string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(action).Inc()
}

// OutboundReply counts one outbound reply attempt.
func (m *Metrics) OutboundReply(result string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(result).Inc()
}

// BlocksEmitted observes the block count of one converted body.
func (m *Metrics) BlocksEmitted(n int) {
	if m == nil {
		return
	}
	m.blocks.Observe(float64(n))
}
