// Package core wires the scheduler's store, reconciliation loop, effect
// dispatcher, and admission logic into the request-name-dispatched
// interface the CI-server plugin transport calls (spec.md §6). It is the
// one entrypoint internal/plugin's HTTP router talks to.
package core

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/ciagent/internal/agentid"
	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/scheduler/admission"
	"github.com/kandev/ciagent/internal/scheduler/dispatch"
	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/reconcile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
	"github.com/kandev/ciagent/internal/scheduler/store"
)

// PluginID identifies this elastic-agent plugin to the CI server, and is
// embedded in the agent autoregister payload (spec.md §6).
const PluginID = "ciagent-elastic-plugin"

// Service is the core's single entrypoint: it owns the store, dispatcher,
// and reconciliation loop, and answers every CI-server plugin request.
type Service struct {
	store      *store.Store
	executors  *executor.Cache
	ci         ciserver.Gateway
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Loop
	metrics    *metrics.Recorder
	log        *logger.Logger

	mu       sync.Mutex
	profiles []profile.ClusterProfile
}

// New wires a Service from its gateways. workers sizes the effect
// dispatcher's worker pool (spec.md §4.8).
func New(ci ciserver.Gateway, executors *executor.Cache, workers int, timeouts statemachine.Timeouts, rec *metrics.Recorder, log *logger.Logger) *Service {
	s := &Service{
		executors: executors,
		ci:        ci,
		metrics:   rec,
		log:       log,
	}
	s.store = store.New(s.onEffects)
	s.dispatcher = dispatch.New(workers, s.executorURLFor, executors, ci, s.store.UpdateAgent, rec, log)
	s.reconciler = reconcile.New(s.store, executors, ci, s.store.UpdateAgent, timeouts, rec, log)
	return s
}

// Close shuts down the store's writer and the dispatcher's worker pool.
func (s *Service) Close() {
	s.dispatcher.Close()
	s.store.Close()
}

func (s *Service) onEffects(effects []any) {
	s.dispatcher.Submit(effects)
}

// executorURLFor looks up the executor URL for the cluster segment of an
// agent id, from the store's current cluster entries.
func (s *Service) executorURLFor(agentID string) string {
	id, ok := agentid.Parse(agentID)
	if !ok {
		return ""
	}
	entry, ok := s.store.Load().Clusters[id.Cluster]
	if !ok {
		return ""
	}
	return entry.Profile.ExecutorURL
}

// ServerPing runs one reconciliation pass over the supplied cluster
// profiles (spec.md §4.9, request name "server-ping").
func (s *Service) ServerPing(ctx context.Context, profiles []profile.ClusterProfile) error {
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	s.reconciler.Ping(ctx, profiles)
	return nil
}

// CreateAgentRequest is the "create-agent" request body (spec.md §6).
type CreateAgentRequest struct {
	Cluster         profile.ClusterProfile
	AgentProfile    profile.AgentProfile
	Environment     string
	AutoRegisterKey string
	JobID           string
}

// CreateAgent implements requestNewAgent (spec.md §4.8, §4.10): checks
// admission, allocates a name, and — if admitted — synchronously writes
// a launching record and dispatches a createExecutorJob effect.
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) error {
	snap := s.store.Load()

	reqVector := resources.WithDefaults(resources.ProfileResources(req.AgentProfile.CPU, req.AgentProfile.RAM, req.AgentProfile.Disk))
	admissionReq := admission.Request{
		JobID:       req.JobID,
		ClusterName: req.Cluster.ClusterName,
		Env:         req.Environment,
		Resources:   reqVector,
	}
	if !admission.ShouldCreateAgent(snap, admissionReq) {
		s.log.Info("create-agent: admission declined", zap.String("job_id", req.JobID), zap.String("cluster", req.Cluster.ClusterName))
		return nil
	}

	name := admission.AllocateAgentName(snap, req.Cluster.ClusterName, req.Cluster.Role, req.Environment, req.AgentProfile.Tag)
	agentID := agentid.Form(req.Cluster.ClusterName, req.Cluster.Role, req.Environment, name)

	spec := executor.BuildTaskSpec(executor.BootstrapParams{
		SourceURL:       req.Cluster.AgentSourceURL,
		CIServerURL:     req.Cluster.ServerAPIURL,
		AutoRegisterKey: req.AutoRegisterKey,
		Hostname:        name,
		Environments:    req.Environment,
		PluginID:        PluginID,
		AgentID:         agentID,
		InitScript:      req.AgentProfile.InitScript,
	})

	effects := s.store.UpdateAgentWait(agentID, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		if hasRecord {
			// Lost a race with a concurrent create-agent for an id this
			// allocator just picked; leave the existing record alone.
			return true, r, nil
		}
		next := record.Init(agentID, record.Launching, []string{req.Environment}, reqVector, "requested")
		next.LaunchedFor = req.JobID
		eff := statemachine.Effect{
			Type:             statemachine.CreateExecutorJob,
			AgentID:          agentID,
			OnSuccessState:   record.Pending,
			OnSuccessMessage: "job created",
			HasFailure:       true,
			OnFailureState:   record.Failed,
			OnFailureMessage: "create failed",
			CreateJobSpec:    spec,
			CreateResources:  reqVector,
			CreateRole:       req.Cluster.Role,
			CreateEnv:        req.Environment,
		}
		return true, next, []any{eff}
	})
	_ = effects

	s.log.Info("create-agent: admitted", zap.String("agent_id", agentID), zap.String("job_id", req.JobID))
	return nil
}

// ShouldAssignWork answers "should-assign-work" (spec.md §4.10, §5): a
// synchronous, lock-free read against the current snapshot.
func (s *Service) ShouldAssignWork(agentID string, p profile.AgentProfile) bool {
	return admission.ShouldAssignWork(s.store.Load(), p, agentID)
}

// JobCompletion implements "job-completion": marks the named agent
// active (spec.md §6).
func (s *Service) JobCompletion(agentID string) error {
	s.store.UpdateAgent(agentID, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		if !hasRecord {
			return false, record.Record{}, nil
		}
		return true, record.MarkActive(r), nil
	})
	return nil
}

// ValidateClusterProfile answers "validate-cluster-profile".
func (s *Service) ValidateClusterProfile(p profile.ClusterProfile) []profile.FieldError {
	return profile.ValidateClusterProfile(p)
}

// ValidateAgentProfile answers "validate-elastic-agent-profile".
func (s *Service) ValidateAgentProfile(p profile.AgentProfile) []profile.FieldError {
	return profile.ValidateAgentProfile(p, parseFloat)
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// Capabilities answers "get-capabilities" (spec.md §6).
type Capabilities struct {
	SupportsPluginStatusReport  bool `json:"supports_plugin_status_report"`
	SupportsClusterStatusReport bool `json:"supports_cluster_status_report"`
	SupportsAgentStatusReport   bool `json:"supports_agent_status_report"`
}

func (s *Service) Capabilities() Capabilities {
	return Capabilities{
		SupportsPluginStatusReport:  true,
		SupportsClusterStatusReport: true,
		SupportsAgentStatusReport:   true,
	}
}

// FieldMetadata is one entry of the "get-*-profile-metadata" responses.
type FieldMetadata struct {
	Key      string `json:"key"`
	Required bool   `json:"required"`
	Secure   bool   `json:"secure"`
}

// ClusterProfileMetadata answers "get-cluster-profile-metadata".
func (s *Service) ClusterProfileMetadata() []FieldMetadata {
	return []FieldMetadata{
		{Key: "executor_url", Required: true},
		{Key: "cluster_name", Required: true},
		{Key: "role", Required: true},
		{Key: "env", Required: false},
		{Key: "server_api_url", Required: true},
		{Key: "agent_source_url", Required: false},
	}
}

// AgentProfileMetadata answers "get-elastic-agent-profile-metadata".
func (s *Service) AgentProfileMetadata() []FieldMetadata {
	return []FieldMetadata{
		{Key: "tag", Required: true},
		{Key: "environments", Required: false},
		{Key: "cpu", Required: false},
		{Key: "ram", Required: false},
		{Key: "disk", Required: false},
		{Key: "init_script", Required: false},
	}
}

// MigrateConfig answers "migrate-config": normalizes properties,
// returning them unchanged (this core has no legacy config version to
// migrate from).
func (s *Service) MigrateConfig(clusters []profile.ClusterProfile, agents []profile.AgentProfile) ([]profile.ClusterProfile, []profile.AgentProfile) {
	return clusters, agents
}

// ClusterSnapshot reports the agent-by-state counts for one cluster, used
// by cluster-status-report and by the metrics recorder.
func (s *Service) ClusterSnapshot(clusterName string) map[record.State]int {
	counts := make(map[record.State]int)
	for id, r := range s.store.Load().Agents {
		parsed, ok := agentid.Parse(id)
		if ok && parsed.Cluster == clusterName {
			counts[r.State]++
		}
	}
	return counts
}

// RefreshMetrics recomputes and publishes per-cluster agent-state gauges.
// Intended to be called after each ServerPing.
func (s *Service) RefreshMetrics() {
	if s.metrics == nil {
		return
	}
	s.mu.Lock()
	profiles := s.profiles
	s.mu.Unlock()
	for _, p := range profiles {
		s.metrics.SetStateCounts(p.ClusterName, s.ClusterSnapshot(p.ClusterName))
	}
}

// AgentRecord exposes one agent's record for the status-report views, or
// ok=false if unknown.
func (s *Service) AgentRecord(agentID string) (record.Record, bool) {
	r, ok := s.store.Load().Agents[agentID]
	return r, ok
}
