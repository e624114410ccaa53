// Package record defines the per-agent state value the scheduler store
// owns: its lifecycle state, event history, and the idle/stale predicates
// the state machine and admission logic read (spec.md §3, §4.2).
package record

import (
	"time"

	"github.com/kandev/ciagent/internal/scheduler/resources"
)

// State is one of the thirteen lifecycle states an agent record can hold.
type State string

const (
	Launching  State = "launching"
	Pending    State = "pending"
	Starting   State = "starting"
	Running    State = "running"
	Retiring   State = "retiring"
	Draining   State = "draining"
	Killing    State = "killing"
	Killed     State = "killed"
	Removing   State = "removing"
	Terminated State = "terminated"
	Failed     State = "failed"
	Legacy     State = "legacy"
	Orphan     State = "orphan"
)

// maxEvents bounds the append-only event log so a long-lived agent's
// history can't grow without bound.
const maxEvents = 50

// Event is one entry in a record's append-only history. The last event's
// Time defines the record's staleness clock (spec.md B3).
type Event struct {
	Time    time.Time
	State   State
	Message string
}

// Record is the scheduler's mutable per-agent value. Every field is owned
// exclusively by the store's single writer (spec.md §3 "Ownership").
type Record struct {
	AgentID      string
	State        State
	Environments []string
	Resources    resources.Vector
	LastActive   time.Time
	Idle         bool
	LaunchedFor  string // CI job id this agent was created for, if any
	Events       []Event
}

// Now is overridable in tests; production code always uses time.Now.
var Now = time.Now

// Init constructs a new record in the given initial state with the given
// resource vector (stored as passed; no defaults are applied here),
// LastActive set to now, and the first event appended via Update
// (spec.md §4.2).
func Init(agentID string, state State, environments []string, res resources.Vector, message string) Record {
	r := Record{
		AgentID:      agentID,
		Environments: environments,
		Resources:    res,
		LastActive:   Now(),
	}
	return Update(r, state, message)
}

// launchDedupStates are the states in which LaunchedFor still identifies
// the CI job this agent was created for (spec.md §3 invariant I4:
// "launchedFor set only while state ∈ {launching, pending, starting}").
var launchDedupStates = map[State]bool{
	Launching: true,
	Pending:   true,
	Starting:  true,
}

// Update advances the record to state, appending an event. Appending
// always happens even when the state is unchanged, since retries refresh
// the staleness clock by design (spec.md §4.7 "Retry discipline").
// LaunchedFor is cleared once the record leaves the in-flight states, so
// it never lingers as a stale job reference for the rest of the agent's
// lifetime (spec.md §3 I4).
func Update(r Record, state State, message string) Record {
	r.State = state
	if !launchDedupStates[state] {
		r.LaunchedFor = ""
	}
	events := append(append([]Event(nil), r.Events...), Event{
		Time:    Now(),
		State:   state,
		Message: message,
	})
	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	r.Events = events
	return r
}

// MarkActive records a work assignment or heartbeat: LastActive advances
// to now and Idle clears.
func MarkActive(r Record) Record {
	r.LastActive = Now()
	r.Idle = false
	return r
}

// MarkIdle records an observed idle CI agent state.
func MarkIdle(r Record) Record {
	r.Idle = true
	return r
}

// LastEvent returns the record's most recent event. Callers must only
// call this on an initialized record (Events is non-empty per I3).
func LastEvent(r Record) Event {
	return r.Events[len(r.Events)-1]
}

// Stale reports whether more than ttl has elapsed since the last event
// (spec.md B3: staleness uses the last event's time, never LastActive).
func Stale(r Record, ttl time.Duration) bool {
	if len(r.Events) == 0 {
		return false
	}
	return Now().Sub(LastEvent(r).Time) > ttl
}

// IdleFor reports whether the record has been idle and inactive for at
// least ttl. A zero LastActive means "never active" and is never stale by
// this predicate (spec.md B2).
func IdleFor(r Record, ttl time.Duration) bool {
	if !r.Idle || r.LastActive.IsZero() {
		return false
	}
	return Now().Sub(r.LastActive) >= ttl
}

// HasEnvironment reports whether env is one of the record's environments,
// treating the record's environment set as a superset filter for
// admission matching (spec.md §9 open question).
func HasEnvironment(r Record, env string) bool {
	for _, e := range r.Environments {
		if e == env {
			return true
		}
	}
	return false
}
