package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/scheduler/record"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestSetStateCountsZeroesAbsentStates(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.SetStateCounts("aws-dev", map[record.State]int{record.Running: 3})

	f := gatherMetric(t, reg, "ciagent_agents_by_state")
	require.NotNil(t, f)

	var running, launching float64
	for _, m := range f.Metric {
		var state string
		for _, lbl := range m.Label {
			if lbl.GetName() == "state" {
				state = lbl.GetValue()
			}
		}
		switch state {
		case "running":
			running = m.GetGauge().GetValue()
		case "launching":
			launching = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 3.0, running)
	assert.Equal(t, 0.0, launching)
}

func TestIncEffectOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.IncEffectSuccess("createExecutorJob")
	r.IncEffectFailure("createExecutorJob")

	f := gatherMetric(t, reg, "ciagent_effect_outcomes_total")
	require.NotNil(t, f)
	assert.Len(t, f.Metric, 2)
}

func TestObservePingRecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObservePing("aws-dev", 10*time.Millisecond)

	f := gatherMetric(t, reg, "ciagent_reconcile_ping_duration_seconds")
	require.NotNil(t, f)
	require.Len(t, f.Metric, 1)
	assert.Equal(t, uint64(1), f.Metric[0].GetHistogram().GetSampleCount())
}
