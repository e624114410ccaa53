package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

func fixedNow(t time.Time) func() {
	orig := record.Now
	record.Now = func() time.Time { return t }
	return func() { record.Now = orig }
}

func newRecord(state record.State) record.Record {
	return record.Init("aws-dev/www/prod/build-agent-0", state, []string{"prod"}, resources.Vector{CPU: 1}, "init")
}

func TestLaunchingToStartingOnActiveJob(t *testing.T) {
	r := newRecord(record.Launching)
	job := executor.JobSummary{Active: 1}

	res := Manage(true, r, true, job, false, ciserver.AgentInfo{}, DefaultTimeouts)

	require.True(t, res.HasNext)
	assert.Equal(t, record.Starting, res.Next.State)
	assert.False(t, res.HasEffect, "expected no effect on a bare stay transition")
}

func TestLaunchingToPendingOnPendingJob(t *testing.T) {
	r := newRecord(record.Launching)
	job := executor.JobSummary{Pending: 1}

	res := Manage(true, r, true, job, false, ciserver.AgentInfo{}, DefaultTimeouts)

	require.True(t, res.HasNext)
	assert.Equal(t, record.Pending, res.Next.State)
}

func TestLaunchingStaleGoesFailed(t *testing.T) {
	base := time.Now()
	defer fixedNow(base)()
	r := newRecord(record.Launching)

	defer fixedNow(base.Add(601 * time.Second))()

	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Failed, res.Next.State)
}

func TestPendingToRunningOnRegistration(t *testing.T) {
	r := newRecord(record.Pending)
	agent := ciserver.AgentInfo{ConfigState: ciserver.Enabled, AgentState: ciserver.Idle}

	res := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Running, res.Next.State)
}

func TestRunningIdleRetirement(t *testing.T) {
	base := time.Now()
	defer fixedNow(base)()

	r := newRecord(record.Running)
	r.Idle = true
	r.LastActive = base.Add(-301 * time.Second)

	agent := ciserver.AgentInfo{ConfigState: ciserver.Enabled, AgentState: ciserver.Idle}
	res := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)

	require.True(t, res.HasNext)
	assert.Equal(t, record.Retiring, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, DisableCIAgent, res.Effect.Type)
}

func TestRunningMissingGoesKilling(t *testing.T) {
	r := newRecord(record.Running)
	agent := ciserver.AgentInfo{ConfigState: ciserver.Enabled, AgentState: ciserver.Missing}

	res := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Killing, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, KillExecutorJob, res.Effect.Type)
}

func TestRunningActiveMarksActive(t *testing.T) {
	r := newRecord(record.Running)
	r.Idle = true
	agent := ciserver.AgentInfo{ConfigState: ciserver.Enabled, AgentState: ciserver.Building}

	res := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.False(t, res.HasEffect)
	assert.False(t, res.Next.Idle, "expected Idle to be cleared by MarkActive")
}

func TestDrainingToKillingOnIdleOrMissing(t *testing.T) {
	r := newRecord(record.Draining)
	agent := ciserver.AgentInfo{AgentState: ciserver.Idle}

	res := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Killing, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, KillExecutorJob, res.Effect.Type)

	missing := ciserver.AgentInfo{AgentState: ciserver.Missing}
	res = Manage(true, r, false, executor.JobSummary{}, true, missing, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Killing, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, KillExecutorJob, res.Effect.Type)
}

func TestKillingToKilledWhenJobDead(t *testing.T) {
	r := newRecord(record.Killing)

	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Killed, res.Next.State)
	assert.False(t, res.HasEffect, "transition to killed itself emits no new effect")
}

func TestKilledToRemovingWhenJobGone(t *testing.T) {
	r := newRecord(record.Killed)

	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Removing, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, DeleteCIAgent, res.Effect.Type)
}

func TestRemovingToTerminatedWhenUnregistered(t *testing.T) {
	r := newRecord(record.Removing)

	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Terminated, res.Next.State)
}

func TestNoRecordAdoptsLegacy(t *testing.T) {
	agent := ciserver.AgentInfo{AgentID: "aws-dev/www/prod/test-agent-9", ConfigState: ciserver.Enabled, AgentState: ciserver.Idle}

	res := Manage(false, record.Record{}, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Legacy, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, DisableCIAgent, res.Effect.Type)
}

func TestNoRecordAdoptsOrphan(t *testing.T) {
	job := executor.JobSummary{AgentID: "aws-dev/www/prod/test-agent-7", Active: 1}

	res := Manage(false, record.Record{}, true, job, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Orphan, res.Next.State)
	require.True(t, res.HasEffect)
	assert.Equal(t, KillExecutorJob, res.Effect.Type)
}

func TestNoRecordNoJobNoAgentIsNoOp(t *testing.T) {
	res := Manage(false, record.Record{}, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	assert.False(t, res.HasNext)
	assert.False(t, res.HasEffect)
}

func TestTerminalTombstoneAfterTTL(t *testing.T) {
	base := time.Now()
	defer fixedNow(base)()

	r := newRecord(record.Terminated)
	defer fixedNow(base.Add(301 * time.Second))()

	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.True(t, IsTombstone(res.Next))
}

func TestFailedNoTombstoneBeforeTTL(t *testing.T) {
	r := newRecord(record.Failed)
	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	assert.False(t, res.HasNext)
}

func TestUnknownStateFallsBackToFailed(t *testing.T) {
	r := newRecord(record.State("bogus"))
	res := Manage(true, r, false, executor.JobSummary{}, false, ciserver.AgentInfo{}, DefaultTimeouts)
	require.True(t, res.HasNext)
	assert.Equal(t, record.Failed, res.Next.State)
}

// R2: reapplying Manage with the same evidence after the first result
// produces no new effect (idempotence, absent a timeout).
func TestNoOpUntilEvidenceChangesR2(t *testing.T) {
	r := newRecord(record.Running)
	r.Idle = true
	r.LastActive = time.Now().Add(-301 * time.Second)
	agent := ciserver.AgentInfo{ConfigState: ciserver.Enabled, AgentState: ciserver.Idle}

	first := Manage(true, r, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	require.True(t, first.HasEffect)

	second := Manage(true, first.Next, false, executor.JobSummary{}, true, agent, DefaultTimeouts)
	assert.False(t, second.HasEffect, "expected no new effect on immediate reapplication")
}
