// Package metrics exposes Prometheus counters for votes, state transitions, and moderation.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

const namespace = "tagvote"

// Vote operations recorded in votes_total.
const (
	OpCast   = "cast"
	OpChange = "change"
	OpRemove = "remove"
	OpNoop   = "noop"
)

// Metrics holds every collector the server records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	votes       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	moderation  *prometheus.CounterVec
	conflicts   prometheus.Counter
	registry    *prometheus.Registry
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry(), true)
}

// NewWithRegistry registers on the given registry. Runtime collectors are
// only added when withRuntime is true.
func NewWithRegistry(registry *prometheus.Registry, withRuntime bool) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register tagvote metrics: %w", err)
	}
	if withRuntime {
		if err := registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("failed to register go collector: %w", err)
		}
		if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("failed to register process collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.votes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_total",
		Help:      "Vote mutations by entity type and operation",
	}, []string{"entity_type", "op"})

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Automatic association state changes",
	}, []string{"transition"})

	m.moderation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_total",
		Help:      "Moderator decisions applied, one per association",
	}, []string{"decision"})

	m.conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Writes rejected because the database was busy",
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.votes.Describe(ch)
	m.transitions.Describe(ch)
	m.moderation.Describe(ch)
	m.conflicts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.votes.Collect(ch)
	m.transitions.Collect(ch)
	m.moderation.Collect(ch)
	m.conflicts.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordVote counts one vote operation.
func (m *Metrics) RecordVote(t domain.EntityType, outcome domain.VoteOutcome) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(string(t), opFor(outcome)).Inc()
}

func opFor(outcome domain.VoteOutcome) string {
	switch outcome {
	case domain.VoteCreated:
		return OpCast
	case domain.VoteChanged:
		return OpChange
	case domain.VoteRemoved:
		return OpRemove
	default:
		return OpNoop
	}
}

// RecordTransition counts an automatic state change. TransitionNone is ignored.
func (m *Metrics) RecordTransition(t domain.Transition) {
	if m == nil || t == domain.TransitionNone {
		return
	}
	m.transitions.WithLabelValues(string(t)).Inc()
}

// RecordModeration counts n associations moderated with decision d.
func (m *Metrics) RecordModeration(d domain.Decision, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.moderation.WithLabelValues(string(d)).Add(float64(n))
}

// RecordConflict counts one busy-database rejection.
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
