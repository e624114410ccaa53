// Package admission implements the scheduler's "should I launch a new
// agent?" and "should I assign this job to this agent?" decisions, plus
// agent-name allocation (spec.md §2.10, §4.10).
package admission

import (
	"time"

	"github.com/kandev/ciagent/internal/agentid"
	"github.com/kandev/ciagent/internal/scheduler/profile"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/resources"
	"github.com/kandev/ciagent/internal/scheduler/store"
)

// inFlightStates are the states in which a launched-for record still
// counts toward de-duplication (spec.md §4.10).
var inFlightStates = map[record.State]bool{
	record.Launching: true,
	record.Pending:   true,
	record.Starting:  true,
}

// LaunchDedupTTL is the staleness threshold beyond which an in-flight
// launch for the same job no longer blocks a new one (spec.md §4.10).
const LaunchDedupTTL = 600 * time.Second

// Request is the input to ShouldCreateAgent: the job this agent would be
// created for, its target cluster/environment, and the resources its
// profile requests.
type Request struct {
	JobID       string
	ClusterName string
	Env         string
	Resources   resources.Vector
}

// ShouldCreateAgent implements spec.md §4.10's three-step admission
// check against a store snapshot.
func ShouldCreateAgent(snap *store.Snapshot, req Request) bool {
	for _, r := range snap.Agents {
		if r.LaunchedFor == req.JobID && inFlightStates[r.State] && !record.Stale(r, LaunchDedupTTL) {
			return false
		}
	}

	for _, r := range snap.Agents {
		if r.State != record.Running || !r.Idle {
			continue
		}
		if !record.HasEnvironment(r, req.Env) {
			continue
		}
		if resources.Satisfies(req.Resources, r.Resources) {
			return false
		}
	}

	cluster, ok := snap.Clusters[req.ClusterName]
	if ok && cluster.HasQuota && !resources.QuotaAvailable(cluster.Quota, req.Resources) {
		return false
	}

	return true
}

// AllocateAgentName picks the smallest non-negative integer n such that
// "cluster/role/env/tag-agent-n" is not already a key in the snapshot's
// agents (spec.md §4.10).
func AllocateAgentName(snap *store.Snapshot, cluster, role, env, tag string) string {
	for n := 0; ; n++ {
		name := agentid.AgentName(tag, n)
		id := agentid.Form(cluster, role, env, name)
		if _, exists := snap.Agents[id]; !exists {
			return name
		}
	}
}

// ShouldAssignWork is the synchronous, lock-free read path: it looks up
// the agent's resources and reports whether they satisfy the profile's
// request. A missing record returns false (spec.md §4.10, §5).
func ShouldAssignWork(snap *store.Snapshot, p profile.AgentProfile, agentID string) bool {
	r, ok := snap.Agents[agentID]
	if !ok {
		return false
	}
	required := resources.ProfileResources(p.CPU, p.RAM, p.Disk)
	return resources.Satisfies(required, r.Resources)
}
