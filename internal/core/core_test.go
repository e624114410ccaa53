package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/executor/fake"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
	"github.com/kandev/ciagent/internal/scheduler/store"
)

func newTestService(t *testing.T, fc *fake.Client, ci ciserver.Gateway) *Service {
	t.Helper()
	executors := executor.NewCache(func(string) (executor.Client, error) { return fc, nil })
	rec := metrics.New(prometheus.NewRegistry())
	s := New(ci, executors, 2, statemachine.DefaultTimeouts, rec, logger.Default())
	t.Cleanup(s.Close)
	return s
}

func waitForAgent(t *testing.T, s *Service, agentID string, want record.State) record.Record {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r, ok := s.AgentRecord(agentID); ok && r.State == want {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("agent %s never reached state %s", agentID, want)
	return record.Record{}
}

func TestCreateAgentAdmitsAndDispatchesCreateJob(t *testing.T) {
	fc := fake.New()
	ci := ciserver.NewFake()
	s := newTestService(t, fc, ci)

	cluster := profile.ClusterProfile{ClusterName: "aws-dev", ExecutorURL: "http://x/api", Role: "www", Env: "prod", ServerAPIURL: "http://ci"}
	s.ServerPing(context.Background(), []profile.ClusterProfile{cluster})

	err := s.CreateAgent(context.Background(), CreateAgentRequest{
		Cluster:      cluster,
		AgentProfile: profile.AgentProfile{Tag: "www", CPU: "1", RAM: "512", Disk: "1024"},
		Environment:  "prod",
		JobID:        "job-1",
	})
	require.NoError(t, err)

	agentID := "aws-dev/www/prod/www-agent-0"
	r := waitForAgent(t, s, agentID, record.Pending)
	assert.Equal(t, "job created", record.LastEvent(r).Message)
	assert.NotEmpty(t, fc.CreateCalls)
}

func TestJobCompletionMarksAgentActive(t *testing.T) {
	fc := fake.New()
	ci := ciserver.NewFake()
	s := newTestService(t, fc, ci)

	agentID := "aws-dev/www/prod/www-agent-0"
	s.store.UpdateAgentWait(agentID, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		init := record.Init(agentID, record.Running, nil, record.Record{}.Resources, "started")
		init.Idle = true
		return true, init, nil
	})

	require.NoError(t, s.JobCompletion(agentID))
	s.store.SubmitWait(func(snap *store.Snapshot) (*store.Snapshot, []any) { return nil, nil })

	r, ok := s.AgentRecord(agentID)
	require.True(t, ok)
	assert.False(t, r.Idle)
}

func TestValidateClusterAndAgentProfiles(t *testing.T) {
	fc := fake.New()
	ci := ciserver.NewFake()
	s := newTestService(t, fc, ci)

	assert.Empty(t, s.ValidateClusterProfile(profile.ClusterProfile{
		ExecutorURL: "http://x", ClusterName: "c", Role: "r", ServerAPIURL: "http://ci",
	}))
	assert.NotEmpty(t, s.ValidateAgentProfile(profile.AgentProfile{Tag: "INVALID"}))
}

func TestCapabilitiesAllSupported(t *testing.T) {
	fc := fake.New()
	ci := ciserver.NewFake()
	s := newTestService(t, fc, ci)

	caps := s.Capabilities()
	assert.True(t, caps.SupportsPluginStatusReport)
	assert.True(t, caps.SupportsClusterStatusReport)
	assert.True(t, caps.SupportsAgentStatusReport)
}

func TestClusterSnapshotTalliesByState(t *testing.T) {
	fc := fake.New()
	ci := ciserver.NewFake()
	s := newTestService(t, fc, ci)

	a := "aws-dev/www/prod/www-agent-0"
	b := "aws-dev/www/prod/www-agent-1"
	s.store.UpdateAgentWait(a, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(a, record.Running, nil, record.Record{}.Resources, "x"), nil
	})
	s.store.UpdateAgentWait(b, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		return true, record.Init(b, record.Launching, nil, record.Record{}.Resources, "x"), nil
	})

	counts := s.ClusterSnapshot("aws-dev")
	assert.Equal(t, 1, counts[record.Running])
	assert.Equal(t, 1, counts[record.Launching])
}
