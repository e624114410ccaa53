// Package statemachine implements the per-agent transition table:
// manage(record, execJob, ciAgent) -> (next record, effect) for every
// state (spec.md §2.7, §4.7). Effects are values, never closures, so they
// are safe to hand to the dispatcher's worker pool.
package statemachine

import (
	"time"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

// Timeouts bundles the staleness thresholds the transition table reads.
// Held as a value rather than package-level constants so tests can shrink
// them.
type Timeouts struct {
	Launching  time.Duration // spec.md: 600s
	Pending    time.Duration // 600s
	Starting   time.Duration // 600s
	Retiring   time.Duration // 120s
	Killing    time.Duration // 120s
	Removing   time.Duration // 120s
	Legacy     time.Duration // 60s
	Orphan     time.Duration // 60s
	Failed     time.Duration // 600s (TTL)
	Terminated time.Duration // 300s (TTL)
	Idle       time.Duration // 300s (retirement)
}

// DefaultTimeouts holds the literal values from spec.md §4.7.
var DefaultTimeouts = Timeouts{
	Launching:  600 * time.Second,
	Pending:    600 * time.Second,
	Starting:   600 * time.Second,
	Retiring:   120 * time.Second,
	Killing:    120 * time.Second,
	Removing:   120 * time.Second,
	Legacy:     60 * time.Second,
	Orphan:     60 * time.Second,
	Failed:     600 * time.Second,
	Terminated: 300 * time.Second,
	Idle:       300 * time.Second,
}

// EffectType tags the kind of side effect a transition emits.
type EffectType string

const (
	KillExecutorJob   EffectType = "killExecutorJob"
	DisableCIAgent    EffectType = "disableCIAgent"
	DeleteCIAgent     EffectType = "deleteCIAgent"
	CreateExecutorJob EffectType = "createExecutorJob"
)

// Effect is a data value describing a side effect to run off the writer
// thread, with the follow-up state to apply on success/failure (spec.md
// §4.7, §4.8). AgentID identifies which record the follow-up applies to.
type Effect struct {
	Type    EffectType
	AgentID string
	Reason  string

	OnSuccessState   record.State
	OnSuccessMessage string

	// HasFailure reports whether OnFailureState/Message apply. When
	// false, a failed effect is logged and the agent is left in its
	// current state for the next ping to retry (spec.md §4.8).
	HasFailure       bool
	OnFailureState   record.State
	OnFailureMessage string

	// CreateJobSpec/CreateResources/CreateRole/CreateEnv are populated
	// only for CreateExecutorJob effects, constructed by
	// core.Service.CreateAgent (requestNewAgent) rather than by Manage itself (spec.md
	// §4.8: "createExecutorJob is the only effect initiated directly by
	// requestNewAgent, outside the ping loop").
	CreateJobSpec   executor.JobSpec
	CreateResources resources.Vector
	CreateRole      string
	CreateEnv       string
}

// Tombstone is the sentinel NextRecord value meaning "remove from store".
var Tombstone = record.Record{AgentID: "\x00tombstone"}

// IsTombstone reports whether r is the Tombstone sentinel.
func IsTombstone(r record.Record) bool {
	return r.AgentID == Tombstone.AgentID
}

// Result is the outcome of one state-machine step: a possibly-nil next
// record (nil meaning "no change") and a possibly-nil effect.
type Result struct {
	HasNext   bool
	Next      record.Record
	HasEffect bool
	Effect    Effect
}

func stay(r record.Record, state record.State, msg string) Result {
	return Result{HasNext: true, Next: record.Update(r, state, msg)}
}

func noChange() Result {
	return Result{}
}

func drain(r record.Record, state record.State, msg string) Result {
	next := record.Update(r, state, msg)
	eff := Effect{
		Type:             DisableCIAgent,
		AgentID:          r.AgentID,
		Reason:           msg,
		OnSuccessState:   record.Draining,
		OnSuccessMessage: "ci agent disabled",
	}
	return Result{HasNext: true, Next: next, HasEffect: true, Effect: eff}
}

func kill(r record.Record, state record.State, msg string) Result {
	next := record.Update(r, state, msg)
	eff := Effect{
		Type:             KillExecutorJob,
		AgentID:          r.AgentID,
		Reason:           msg,
		OnSuccessState:   record.Killed,
		OnSuccessMessage: "executor job killed",
	}
	return Result{HasNext: true, Next: next, HasEffect: true, Effect: eff}
}

func terminate(r record.Record, state record.State, msg string) Result {
	next := record.Update(r, state, msg)
	eff := Effect{
		Type:             DeleteCIAgent,
		AgentID:          r.AgentID,
		Reason:           msg,
		OnSuccessState:   record.Terminated,
		OnSuccessMessage: "ci agent deleted",
	}
	return Result{HasNext: true, Next: next, HasEffect: true, Effect: eff}
}

// Manage is the state machine's per-agent step, given the current record
// (if any), the executor's view of the job, and the CI server's view of
// the agent registration (spec.md §4.7).
//
// hasRecord distinguishes "no record" from a zero-value record; similarly
// for hasJob/hasAgent.
func Manage(
	hasRecord bool, r record.Record,
	hasJob bool, job executor.JobSummary,
	hasAgent bool, ciAgent ciserver.AgentInfo,
	t Timeouts,
) Result {
	if !hasRecord {
		return manageNoRecord(hasJob, job, hasAgent, ciAgent)
	}

	switch r.State {
	case record.Launching:
		return manageLaunching(r, hasJob, job, t)
	case record.Pending:
		return managePending(r, hasJob, job, hasAgent, ciAgent, t)
	case record.Starting:
		return manageStarting(r, hasAgent, ciAgent, t)
	case record.Running:
		return manageRunning(r, hasAgent, ciAgent, t)
	case record.Retiring:
		return manageRetiring(r, hasAgent, ciAgent, t)
	case record.Draining:
		return manageDraining(r, hasAgent, ciAgent)
	case record.Killing:
		return manageKilling(r, hasJob, job, t)
	case record.Killed:
		return manageKilled(r, hasJob, job)
	case record.Removing:
		return manageRemoving(r, hasAgent, ciAgent, t)
	case record.Legacy:
		return manageLegacy(r, t)
	case record.Orphan:
		return manageOrphan(r, t)
	case record.Failed:
		return manageTerminalTTL(r, t.Failed)
	case record.Terminated:
		return manageTerminalTTL(r, t.Terminated)
	default:
		return stay(r, record.Failed, "unknown state")
	}
}

func manageNoRecord(hasJob bool, job executor.JobSummary, hasAgent bool, ciAgent ciserver.AgentInfo) Result {
	if hasAgent {
		r := record.Init(ciAgent.AgentID, record.Legacy, nil, resources.Vector{}, "adopted legacy ci registration")
		eff := Effect{
			Type:             DisableCIAgent,
			AgentID:          r.AgentID,
			Reason:           "adopted legacy ci registration",
			OnSuccessState:   record.Draining,
			OnSuccessMessage: "ci agent disabled",
		}
		return Result{HasNext: true, Next: r, HasEffect: true, Effect: eff}
	}
	if hasJob && job.Alive() {
		r := record.Init(job.AgentID, record.Orphan, nil, resources.Vector{}, "adopted orphan executor job")
		eff := Effect{
			Type:             KillExecutorJob,
			AgentID:          r.AgentID,
			Reason:           "adopted orphan executor job",
			OnSuccessState:   record.Killed,
			OnSuccessMessage: "executor job killed",
		}
		return Result{HasNext: true, Next: r, HasEffect: true, Effect: eff}
	}
	return noChange()
}

func manageLaunching(r record.Record, hasJob bool, job executor.JobSummary, t Timeouts) Result {
	if hasJob && job.Active > 0 {
		return stay(r, record.Starting, "executor job active")
	}
	if hasJob && job.Pending > 0 {
		return stay(r, record.Pending, "executor job pending")
	}
	if record.Stale(r, t.Launching) {
		return stay(r, record.Failed, "no activity for 10 min")
	}
	return noChange()
}

func managePending(r record.Record, hasJob bool, job executor.JobSummary, hasAgent bool, ciAgent ciserver.AgentInfo, t Timeouts) Result {
	if hasJob && job.Active > 0 {
		return stay(r, record.Starting, "executor job active")
	}
	if hasAgent && ciAgent.Registered() {
		return stay(r, record.Running, "ci agent registered")
	}
	if record.Stale(r, t.Pending) {
		return kill(r, record.Killing, "stale in pending")
	}
	return noChange()
}

func manageStarting(r record.Record, hasAgent bool, ciAgent ciserver.AgentInfo, t Timeouts) Result {
	if hasAgent && ciAgent.Registered() {
		return stay(r, record.Running, "ci agent registered")
	}
	if record.Stale(r, t.Starting) {
		return kill(r, record.Killing, "stale in starting")
	}
	return noChange()
}

func manageRunning(r record.Record, hasAgent bool, ciAgent ciserver.AgentInfo, t Timeouts) Result {
	if !hasAgent {
		return noChange()
	}
	switch {
	case ciAgent.AgentState == ciserver.AgentDisabled:
		return stay(r, record.Draining, "externally disabled")
	case ciAgent.AgentState == ciserver.Missing || ciAgent.AgentState == ciserver.LostContact:
		return kill(r, record.Killing, "ci agent missing or lost contact")
	case ciAgent.AgentState == ciserver.Idle && record.IdleFor(r, t.Idle):
		return drain(r, record.Retiring, "idle past retirement threshold")
	case ciAgent.AgentState == ciserver.Idle:
		next := record.MarkIdle(r)
		return Result{HasNext: true, Next: next}
	default:
		next := record.MarkActive(r)
		return Result{HasNext: true, Next: next}
	}
}

func manageRetiring(r record.Record, hasAgent bool, ciAgent ciserver.AgentInfo, t Timeouts) Result {
	if hasAgent && ciAgent.ConfigState == ciserver.Disabled {
		return stay(r, record.Draining, "ci agent disabled")
	}
	if record.Stale(r, t.Retiring) {
		return drain(r, record.Retiring, "retry disable")
	}
	return noChange()
}

func manageDraining(r record.Record, hasAgent bool, ciAgent ciserver.AgentInfo) Result {
	if hasAgent && (ciAgent.AgentState == ciserver.Idle || ciAgent.AgentState == ciserver.Missing || ciAgent.AgentState == ciserver.LostContact) {
		return kill(r, record.Killing, "ready to kill")
	}
	return noChange()
}

func manageKilling(r record.Record, hasJob bool, job executor.JobSummary, t Timeouts) Result {
	if !hasJob || !job.Alive() {
		return stay(r, record.Killed, "executor job no longer alive")
	}
	if record.Stale(r, t.Killing) {
		return kill(r, record.Killing, "retry kill")
	}
	return noChange()
}

func manageKilled(r record.Record, hasJob bool, job executor.JobSummary) Result {
	if !hasJob || !job.Alive() {
		return terminate(r, record.Removing, "executor job gone")
	}
	return noChange()
}

func manageRemoving(r record.Record, hasAgent bool, ciAgent ciserver.AgentInfo, t Timeouts) Result {
	if !hasAgent || !ciAgent.Registered() {
		return stay(r, record.Terminated, "ci registration gone")
	}
	if record.Stale(r, t.Removing) {
		return terminate(r, record.Removing, "retry delete")
	}
	return noChange()
}

func manageLegacy(r record.Record, t Timeouts) Result {
	if record.Stale(r, t.Legacy) {
		return drain(r, record.Legacy, "retry disable")
	}
	return noChange()
}

func manageOrphan(r record.Record, t Timeouts) Result {
	if record.Stale(r, t.Orphan) {
		return kill(r, record.Orphan, "retry kill")
	}
	return noChange()
}

func manageTerminalTTL(r record.Record, ttl time.Duration) Result {
	if record.Stale(r, ttl) {
		return Result{HasNext: true, Next: Tombstone}
	}
	return noChange()
}
