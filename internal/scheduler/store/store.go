// Package store implements the scheduler's single-writer state store
// (spec.md §2.6, §4.6, §5). One writer goroutine processes an ordered
// queue of transition closures; lock-free reads see an atomically
// published snapshot. This generalizes the teacher's RWMutex-guarded map
// of lifecycle instances into the channel+atomic.Pointer shape the spec
// requires for a true lock-free read path.
package store

import (
	"sync/atomic"

	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

// ClusterEntry is the per-cluster mutable state: the profile it was
// created from and the last observed quota (spec.md §3 ClusterState).
type ClusterEntry struct {
	Profile  profile.ClusterProfile
	HasQuota bool
	Quota    resources.Quota
}

// Snapshot is an immutable point-in-time view of the scheduler value.
// Readers take a Snapshot via Store.Load and never see a torn update.
type Snapshot struct {
	Clusters map[string]ClusterEntry
	Agents   map[string]record.Record
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Clusters: make(map[string]ClusterEntry),
		Agents:   make(map[string]record.Record),
	}
}

// clone makes a shallow copy of s with fresh top-level maps, so a
// transition can mutate its copy without racing readers of the
// previously-published snapshot.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Clusters: make(map[string]ClusterEntry, len(s.Clusters)),
		Agents:   make(map[string]record.Record, len(s.Agents)),
	}
	for k, v := range s.Clusters {
		next.Clusters[k] = v
	}
	for k, v := range s.Agents {
		next.Agents[k] = v
	}
	return next
}

// Transition is a pure function of the current snapshot to a next
// snapshot plus zero or more effects. It must never block or perform I/O
// (spec.md §5 "the writer never blocks on I/O; transitions are pure").
type Transition func(*Snapshot) (*Snapshot, []any)

// job is one transition closure submitted to the writer, paired with a
// channel the caller may use to wait for completion (most callers don't).
type job struct {
	fn   Transition
	done chan []any
}

// Store is the single-writer, lock-free-read scheduler store.
type Store struct {
	current atomic.Pointer[Snapshot]
	queue   chan job

	// onEffects receives the effects produced by each transition, in
	// writer order, for handoff to the dispatcher.
	onEffects func([]any)
}

// New constructs a Store with an empty snapshot and starts its writer
// goroutine. onEffects is called, on the writer goroutine, with the
// effects produced by each transition — callers should hand off to the
// dispatcher without blocking the writer.
func New(onEffects func([]any)) *Store {
	s := &Store{
		queue:     make(chan job, 1024),
		onEffects: onEffects,
	}
	s.current.Store(emptySnapshot())
	go s.run()
	return s
}

func (s *Store) run() {
	for j := range s.queue {
		cur := s.current.Load()
		next, effects := j.fn(cur)
		if next != nil {
			s.current.Store(next)
		}
		if len(effects) > 0 && s.onEffects != nil {
			s.onEffects(effects)
		}
		if j.done != nil {
			j.done <- effects
		}
	}
}

// Submit enqueues a transition and returns immediately; the caller does
// not wait for it to run (spec.md §5: "enqueue a transition, returning
// success immediately").
func (s *Store) Submit(fn Transition) {
	s.queue <- job{fn: fn}
}

// SubmitWait enqueues a transition and blocks until the writer has
// applied it, returning the effects it produced. Used by tests and by
// requestNewAgent, which writes its launching record before responding.
func (s *Store) SubmitWait(fn Transition) []any {
	done := make(chan []any, 1)
	s.queue <- job{fn: fn, done: done}
	return <-done
}

// Load takes a lock-free snapshot of the current scheduler value
// (spec.md §4.6 "the store must expose an atomically-updated pointer to
// the current value for lock-free reads"). This is the only synchronous
// read path (shouldAssignWork).
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Close stops the writer goroutine. No further Submit/SubmitWait calls
// may be made afterward.
func (s *Store) Close() {
	close(s.queue)
}

// UpdateAgent is the primary mutation entry point (spec.md §4.6): it
// reads agents[id] (if present), applies fn, and writes the result back.
// fn receives (hasRecord, record) and returns (nextHasRecord, nextRecord,
// effects); returning nextHasRecord=false deletes the record (tombstone).
func (s *Store) UpdateAgent(id string, fn func(hasRecord bool, r record.Record) (bool, record.Record, []any)) {
	s.Submit(func(snap *Snapshot) (*Snapshot, []any) {
		existing, ok := snap.Agents[id]
		keep, next, effects := fn(ok, existing)

		out := snap.clone()
		if keep {
			out.Agents[id] = next
		} else {
			delete(out.Agents, id)
		}
		return out, effects
	})
}

// UpdateAgentWait is UpdateAgent's synchronous counterpart, used where
// the caller needs the resulting effects (e.g. requestNewAgent).
func (s *Store) UpdateAgentWait(id string, fn func(hasRecord bool, r record.Record) (bool, record.Record, []any)) []any {
	return s.SubmitWait(func(snap *Snapshot) (*Snapshot, []any) {
		existing, ok := snap.Agents[id]
		keep, next, effects := fn(ok, existing)

		out := snap.clone()
		if keep {
			out.Agents[id] = next
		} else {
			delete(out.Agents, id)
		}
		return out, effects
	})
}

// SetClusterQuota updates a cluster's quota, used by the reconciliation
// loop's per-cluster quota fetch follow-up (spec.md §4.9 step 2a). A
// missing cluster entry is a no-op (the profile disappeared mid-fetch).
func (s *Store) SetClusterQuota(clusterName string, q resources.Quota) {
	s.Submit(func(snap *Snapshot) (*Snapshot, []any) {
		entry, ok := snap.Clusters[clusterName]
		if !ok {
			return nil, nil
		}
		out := snap.clone()
		entry.HasQuota = true
		entry.Quota = q
		out.Clusters[clusterName] = entry
		return out, nil
	})
}

// EnsureCluster creates or refreshes a cluster entry's profile, used by
// the reconciliation loop before fanning out per-cluster work (spec.md
// §4.9 step 1). Clusters whose profile disappeared are pruned by
// PruneClusters.
func (s *Store) EnsureCluster(p profile.ClusterProfile) {
	s.Submit(func(snap *Snapshot) (*Snapshot, []any) {
		out := snap.clone()
		entry := out.Clusters[p.ClusterName]
		entry.Profile = p
		out.Clusters[p.ClusterName] = entry
		return out, nil
	})
}

// PruneClusters removes any cluster entries whose name is not in keep
// (spec.md §3 "destroyed when the profile disappears").
func (s *Store) PruneClusters(keep map[string]bool) {
	s.Submit(func(snap *Snapshot) (*Snapshot, []any) {
		out := snap.clone()
		for name := range out.Clusters {
			if !keep[name] {
				delete(out.Clusters, name)
			}
		}
		return out, nil
	})
}
