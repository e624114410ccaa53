// Package metrics exposes Prometheus instrumentation for the reconciliation
// loop and effect dispatcher: ping duration, per-state agent counts, and
// effect outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kandev/ciagent/internal/scheduler/record"
)

// Recorder records the observable events of one reconciliation loop.
type Recorder struct {
	pingDuration   *prometheus.HistogramVec
	agentsByState  *prometheus.GaugeVec
	effectOutcomes *prometheus.CounterVec
}

// New constructs a Recorder and registers its collectors against reg.
// Pass prometheus.DefaultRegisterer for the global registry.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		pingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ciagent_reconcile_ping_duration_seconds",
				Help:    "Duration of one reconciliation ping across all cluster profiles.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"cluster"},
		),
		agentsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ciagent_agents_by_state",
				Help: "Number of tracked agent records, by cluster and lifecycle state.",
			},
			[]string{"cluster", "state"},
		),
		effectOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ciagent_effect_outcomes_total",
				Help: "Total number of dispatched effects, by effect type and outcome.",
			},
			[]string{"effect", "outcome"},
		),
	}
}

// ObservePing records the wall-clock duration of a ping against one cluster.
func (r *Recorder) ObservePing(cluster string, d time.Duration) {
	r.pingDuration.WithLabelValues(cluster).Observe(d.Seconds())
}

// SetStateCounts replaces the gauge readings for one cluster with counts
// freshly tallied from a reconciliation pass; states absent from counts are
// reset to zero so a state that drains to empty doesn't linger on the graph.
func (r *Recorder) SetStateCounts(cluster string, counts map[record.State]int) {
	for _, s := range allStates {
		r.agentsByState.WithLabelValues(cluster, string(s)).Set(float64(counts[s]))
	}
}

var allStates = []record.State{
	record.Launching, record.Pending, record.Starting, record.Running,
	record.Retiring, record.Draining, record.Killing, record.Killed,
	record.Removing, record.Terminated, record.Failed, record.Legacy, record.Orphan,
}

// IncEffectSuccess records a successfully-applied effect.
func (r *Recorder) IncEffectSuccess(effect string) {
	r.effectOutcomes.WithLabelValues(effect, "success").Inc()
}

// IncEffectFailure records an effect whose execution returned an error.
func (r *Recorder) IncEffectFailure(effect string) {
	r.effectOutcomes.WithLabelValues(effect, "failure").Inc()
}
