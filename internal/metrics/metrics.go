// Package metrics exposes fedchat routing, federation and persistence
// counters through a dedicated Prometheus registry. A nil *Collector is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routing outcomes.
const (
	OutcomeLocal       = "local"
	OutcomeRelayed     = "relayed"
	OutcomeFlooded     = "flooded"
	OutcomeNotFound    = "not_found"
	OutcomeUnreachable = "unreachable"
	OutcomeRejected    = "rejected"
)

// Collector holds all Prometheus metrics for one server.
type Collector struct {
	registry *prometheus.Registry

	RoutedEvents  *prometheus.CounterVec
	PeerDials     *prometheus.CounterVec
	PeersActive   prometheus.Gauge
	Sessions      prometheus.Gauge
	PresenceSize  *prometheus.GaugeVec
	DroppedFrames *prometheus.CounterVec
	StateFlushes  *prometheus.CounterVec
	FlushedDocs   prometheus.Counter
	ListReloads   *prometheus.CounterVec
}

// New creates a collector with its own registry under namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RoutedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_events_total",
			Help:      "Events handled by the routing core by kind and outcome",
		}, []string{"kind", "outcome"}),
		PeerDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_dials_total",
			Help:      "Outbound peer dial attempts by result",
		}, []string{"result"}),
		PeersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_established",
			Help:      "Established peer connections",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_sessions",
			Help:      "Connected client sessions",
		}),
		PresenceSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_entries",
			Help:      "Presence directory entries by scope",
		}, []string{"scope"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped before dispatch by reason",
		}, []string{"reason"}),
		StateFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_flushes_total",
			Help:      "Write-behind flushes by status",
		}, []string{"status"}),
		FlushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_flushed_docs_total",
			Help:      "Snapshot documents written to storage",
		}),
		ListReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_reloads_total",
			Help:      "List file reloads by list",
		}, []string{"list"}),
	}
	c.registry.MustRegister(
		c.RoutedEvents, c.PeerDials, c.PeersActive, c.Sessions, c.PresenceSize,
		c.DroppedFrames, c.StateFlushes, c.FlushedDocs, c.ListReloads,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Routed(kind, outcome string) {
	if c == nil {
		return
	}
	c.RoutedEvents.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Dial(result string) {
	if c == nil {
		return
	}
	c.PeerDials.WithLabelValues(result).Inc()
}

func (c *Collector) SetPeers(n int) {
	if c == nil {
		return
	}
	c.PeersActive.Set(float64(n))
}

func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(n))
}

func (c *Collector) SetPresence(local, remote int) {
	if c == nil {
		return
	}
	c.PresenceSize.WithLabelValues("local").Set(float64(local))
	c.PresenceSize.WithLabelValues("remote").Set(float64(remote))
}

func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.DroppedFrames.WithLabelValues(reason).Inc()
}

func (c *Collector) Flushed(docs int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.StateFlushes.WithLabelValues("error").Inc()
		return
	}
	c.StateFlushes.WithLabelValues("ok").Inc()
	c.FlushedDocs.Add(float64(docs))
}

func (c *Collector) Reloaded(list string) {
	if c == nil {
		return
	}
	c.ListReloads.WithLabelValues(list).Inc()
}
