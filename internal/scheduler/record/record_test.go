package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/scheduler/resources"
)

func fixedNow(t time.Time) func() {
	orig := Now
	Now = func() time.Time { return t }
	return func() { Now = orig }
}

func TestInitAppendsFirstEvent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(base)()

	r := Init("c/r/e/build-agent-0", Launching, []string{"prod"}, resources.Vector{CPU: 1}, "launched")

	require.Len(t, r.Events, 1)
	assert.Equal(t, Launching, r.State)
	assert.Equal(t, Launching, r.Events[0].State)
	assert.Equal(t, "launched", r.Events[0].Message)
}

func TestUpdateSetsStateAndAppends(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(base)()

	r := Init("c/r/e/build-agent-0", Launching, nil, resources.Vector{}, "launched")
	r = Update(r, Pending, "job created")

	assert.Equal(t, Pending, r.State)
	require.Len(t, r.Events, 2)
	assert.Equal(t, Pending, LastEvent(r).State)
}

func TestUpdatePreservesLaunchedForWhileInFlight(t *testing.T) {
	r := Init("c/r/e/build-agent-0", Launching, nil, resources.Vector{}, "requested")
	r.LaunchedFor = "job-1"

	r = Update(r, Pending, "job created")
	assert.Equal(t, "job-1", r.LaunchedFor, "launchedFor must survive launching -> pending")

	r = Update(r, Starting, "agent registered")
	assert.Equal(t, "job-1", r.LaunchedFor, "launchedFor must survive pending -> starting")
}

func TestUpdateClearsLaunchedForOnceNoLongerInFlight(t *testing.T) {
	r := Init("c/r/e/build-agent-0", Launching, nil, resources.Vector{}, "requested")
	r.LaunchedFor = "job-1"

	r = Update(r, Running, "agent idle")
	assert.Empty(t, r.LaunchedFor, "launchedFor must clear once the record leaves {launching, pending, starting} (I4)")
}

func TestEventsBoundedAtCap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(base)()

	r := Init("c/r/e/build-agent-0", Launching, nil, resources.Vector{}, "init")
	for i := 0; i < 100; i++ {
		r = Update(r, Running, "retry")
	}
	assert.Len(t, r.Events, maxEvents)
}

func TestStaleUsesLastEventTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := fixedNow(base)

	r := Init("c/r/e/build-agent-0", Launching, nil, resources.Vector{}, "init")
	r.LastActive = base.Add(-10 * time.Hour) // LastActive is stale, but events are fresh

	assert.False(t, Stale(r, 600*time.Second), "Stale should use last event time, not LastActive (B3)")

	restore()
	defer fixedNow(base.Add(601 * time.Second))()
	assert.True(t, Stale(r, 600*time.Second))
}

func TestIdleForRequiresLastActiveSet(t *testing.T) {
	r := Record{Idle: true}
	assert.False(t, IdleFor(r, 0), "IdleFor should be false when LastActive is unset regardless of ttl (B2)")
}

func TestIdleForRequiresIdleFlag(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(base.Add(time.Hour))()

	r := Record{Idle: false, LastActive: base}
	assert.False(t, IdleFor(r, time.Second))
}

func TestMarkActiveClearsIdle(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	defer fixedNow(base)()

	r := Record{Idle: true}
	r = MarkActive(r)
	assert.False(t, r.Idle)
	assert.True(t, r.LastActive.Equal(base))
}

func TestHasEnvironmentSupersetFilter(t *testing.T) {
	r := Record{Environments: []string{"prod", "staging"}}
	assert.True(t, HasEnvironment(r, "prod"))
	assert.False(t, HasEnvironment(r, "dev"))
}
