package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

func TestUpdateAgentCreatesAndReads(t *testing.T) {
	s := New(nil)
	defer s.Close()

	s.UpdateAgentWait("c/r/e/build-agent-0", func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		require.False(t, hasRecord, "expected no existing record")
		next := record.Init("c/r/e/build-agent-0", record.Launching, nil, resources.Vector{}, "created")
		return true, next, nil
	})

	snap := s.Load()
	got, ok := snap.Agents["c/r/e/build-agent-0"]
	require.True(t, ok, "expected record to be present after update")
	assert.Equal(t, record.Launching, got.State)
}

func TestUpdateAgentDeleteTombstones(t *testing.T) {
	s := New(nil)
	defer s.Close()

	id := "c/r/e/build-agent-0"
	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(id, record.Terminated, nil, resources.Vector{}, "created"), nil
	})
	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return false, record.Record{}, nil
	})

	_, ok := s.Load().Agents[id]
	assert.False(t, ok, "expected record to be removed")
}

func TestSnapshotIsolationFromConcurrentWrites(t *testing.T) {
	s := New(nil)
	defer s.Close()

	id := "c/r/e/build-agent-0"
	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(id, record.Launching, nil, resources.Vector{}, "created"), nil
	})

	snap := s.Load()
	before := snap.Agents[id]

	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Update(r, record.Pending, "advanced"), nil
	})

	assert.Equal(t, before.State, snap.Agents[id].State, "earlier snapshot must not observe the later mutation")
	assert.Equal(t, record.Pending, s.Load().Agents[id].State, "expected new snapshot to reflect the update")
}

func TestConcurrentSubmitsAreSerialized(t *testing.T) {
	s := New(nil)
	defer s.Close()

	id := "c/r/e/build-agent-0"
	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(id, record.Launching, nil, resources.Vector{}, "created"), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateAgent(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
				return true, record.Update(r, record.Pending, "retry"), nil
			})
		}()
	}
	wg.Wait()

	// Drain the queue via a synchronous no-op to ensure all async
	// submissions above have been applied by the writer.
	s.SubmitWait(func(snap *Snapshot) (*Snapshot, []any) { return nil, nil })

	got := s.Load().Agents[id]
	assert.Len(t, got.Events, 41, "1 init + 40 retries")
}

func TestSetClusterQuota(t *testing.T) {
	s := New(nil)
	defer s.Close()

	s.EnsureCluster(profile.ClusterProfile{ClusterName: "aws-dev", ExecutorURL: "http://x/api"})
	s.SetClusterQuota("aws-dev", resources.Quota{Available: resources.Vector{CPU: 8}})

	s.SubmitWait(func(snap *Snapshot) (*Snapshot, []any) { return nil, nil })

	entry := s.Load().Clusters["aws-dev"]
	require.True(t, entry.HasQuota)
	assert.Equal(t, 8.0, entry.Quota.Available.CPU)
}

func TestPruneClustersRemovesDisappeared(t *testing.T) {
	s := New(nil)
	defer s.Close()

	s.EnsureCluster(profile.ClusterProfile{ClusterName: "aws-dev"})
	s.EnsureCluster(profile.ClusterProfile{ClusterName: "aws-prod"})
	s.PruneClusters(map[string]bool{"aws-dev": true})

	s.SubmitWait(func(snap *Snapshot) (*Snapshot, []any) { return nil, nil })

	got := s.Load().Clusters
	_, stillHasProd := got["aws-prod"]
	assert.False(t, stillHasProd, "expected aws-prod to be pruned")
	_, stillHasDev := got["aws-dev"]
	assert.True(t, stillHasDev, "expected aws-dev to remain")
}

func TestOnEffectsReceivesEmittedEffects(t *testing.T) {
	var mu sync.Mutex
	var seen [][]any

	s := New(func(effects []any) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, effects)
	})
	defer s.Close()

	id := "c/r/e/build-agent-0"
	s.UpdateAgentWait(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(id, record.Launching, nil, resources.Vector{}, "created"), []any{"effect-a"}
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 1)
	assert.Equal(t, "effect-a", seen[0][0])
}
