// Package reconcile implements the ping-triggered reconciliation loop:
// fan out quota and job-list fetches per cluster, fetch the CI agent
// list on the request thread, join everything by agent id, and dispatch
// one state-machine step per id in the union (spec.md §2.9, §4.9).
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/ciagent/internal/agentid"
	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/common/tracing"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
	"github.com/kandev/ciagent/internal/scheduler/store"
)

const tracerName = "ciagent/reconcile"

// UpdateAgentFunc matches store.Store.UpdateAgent's signature.
type UpdateAgentFunc func(id string, fn func(hasRecord bool, r record.Record) (bool, record.Record, []any))

// Loop drives one reconciliation pass per ping.
type Loop struct {
	store       *store.Store
	executors   *executor.Cache
	ci          ciserver.Gateway
	updateAgent UpdateAgentFunc
	timeouts    statemachine.Timeouts
	metrics     *metrics.Recorder
	log         *logger.Logger
}

// New constructs a reconciliation Loop.
func New(s *store.Store, executors *executor.Cache, ci ciserver.Gateway, updateAgent UpdateAgentFunc, timeouts statemachine.Timeouts, rec *metrics.Recorder, log *logger.Logger) *Loop {
	return &Loop{store: s, executors: executors, ci: ci, updateAgent: updateAgent, timeouts: timeouts, metrics: rec, log: log}
}

// Ping runs one reconciliation pass for the given cluster profiles
// (spec.md §4.9). The CI agent list is fetched on the caller's goroutine,
// after the cluster entries are submitted to the writer but before any
// per-agent state-machine step is dispatched, to minimize writer latency
// (spec.md §9 open question #1).
func (l *Loop) Ping(ctx context.Context, profiles []profile.ClusterProfile) {
	start := time.Now()
	correlationID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, tracerName, "reconcile.Ping")
	span.SetAttributes(attribute.String("correlation_id", correlationID))
	defer span.End()
	log := l.log.WithFields(zap.String("correlation_id", correlationID))
	defer func() {
		elapsed := time.Since(start)
		for _, p := range profiles {
			l.metrics.ObservePing(p.ClusterName, elapsed)
		}
	}()

	keep := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		keep[p.ClusterName] = true
		l.store.EnsureCluster(p)
	}
	l.store.PruneClusters(keep)

	ciAgents, err := l.ci.ListAgents(ctx)
	if err != nil {
		log.Warn("reconcile: listAgents failed, proceeding with empty CI view", zap.Error(err))
		ciAgents = nil
	}
	ciByID := make(map[string]ciserver.AgentInfo, len(ciAgents))
	for _, a := range ciAgents {
		if _, ok := agentid.Parse(a.AgentID); !ok {
			log.Warn("reconcile: ignoring ill-formed agent id from CI server", zap.String("agent_id", a.AgentID))
			continue
		}
		ciByID[a.AgentID] = a
	}

	jobsByID := l.fetchJobsAndQuotas(ctx, profiles, log)

	snap := l.store.Load()
	union := make(map[string]bool, len(snap.Agents)+len(jobsByID)+len(ciByID))
	for id := range snap.Agents {
		union[id] = true
	}
	for id := range jobsByID {
		union[id] = true
	}
	for id := range ciByID {
		union[id] = true
	}

	for id := range union {
		id := id
		job, hasJob := jobsByID[id]
		agent, hasAgent := ciByID[id]
		l.updateAgent(id, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
			res := statemachine.Manage(hasRecord, r, hasJob, job, hasAgent, agent, l.timeouts)
			return applyResult(hasRecord, r, res)
		})
	}
}

func applyResult(hasRecord bool, r record.Record, res statemachine.Result) (bool, record.Record, []any) {
	var effects []any
	if res.HasEffect {
		effects = []any{res.Effect}
	}
	if !res.HasNext {
		return hasRecord, r, effects
	}
	if statemachine.IsTombstone(res.Next) {
		return false, record.Record{}, effects
	}
	return true, res.Next, effects
}

// fetchJobsAndQuotas ensures a connection per cluster's executor, then
// concurrently fetches each cluster's quota (enqueueing SetClusterQuota
// on success) and job list. A cluster whose job-list fetch fails
// contributes an empty list rather than aborting the whole ping (spec.md
// §4.9 step 3: "prevents incorrect orphan decisions when the executor is
// down").
func (l *Loop) fetchJobsAndQuotas(ctx context.Context, profiles []profile.ClusterProfile, log *logger.Logger) map[string]executor.JobSummary {
	type clusterResult struct {
		jobs []executor.JobSummary
	}

	results := make([]clusterResult, len(profiles))

	// Plain errgroup.Group, not WithContext: a cluster's fetch failure must
	// never cancel its siblings (spec.md §4.9 step 3), so every goroutine
	// below always returns nil and errors are handled by logging in place.
	var g errgroup.Group

	for i, p := range profiles {
		i, p := i, p
		g.Go(func() error {
			go l.fetchQuota(p, log)

			var jobs []executor.JobSummary
			err := l.executors.Call(p.ExecutorURL, func(c executor.Client) error {
				var callErr error
				jobs, callErr = c.ListJobs(ctx, p.Role, p.Env)
				return callErr
			})
			if err != nil {
				log.Warn("reconcile: listJobs failed for cluster", zap.String("cluster", p.ClusterName), zap.Error(err))
				jobs = nil
			}
			results[i] = clusterResult{jobs: jobs}
			return nil
		})
	}
	_ = g.Wait()

	jobsByID := make(map[string]executor.JobSummary)
	for _, r := range results {
		for _, j := range r.jobs {
			if _, ok := agentid.Parse(j.AgentID); !ok {
				log.Warn("reconcile: ignoring ill-formed agent id from executor", zap.String("agent_id", j.AgentID))
				continue
			}
			jobsByID[j.AgentID] = j
		}
	}
	return jobsByID
}

func (l *Loop) fetchQuota(p profile.ClusterProfile, log *logger.Logger) {
	err := l.executors.Call(p.ExecutorURL, func(c executor.Client) error {
		quota, qErr := c.GetQuota(context.Background(), p.Role)
		if qErr != nil {
			return qErr
		}
		l.store.SetClusterQuota(p.ClusterName, quota)
		return nil
	})
	if err != nil {
		log.Warn("reconcile: getQuota failed for cluster", zap.String("cluster", p.ClusterName), zap.Error(err))
	}
}
