package plugin

import (
	"github.com/kandev/ciagent/internal/scheduler/profile"
)

// migrateConfigRequest is the "migrate-config" request body (spec.md §6).
type migrateConfigRequest struct {
	ClusterProfiles      []profile.ClusterProfile `json:"cluster_profiles"`
	ElasticAgentProfiles []profile.AgentProfile   `json:"elastic_agent_profiles"`
}

type migrateConfigResponse struct {
	ClusterProfiles      []profile.ClusterProfile `json:"cluster_profiles"`
	ElasticAgentProfiles []profile.AgentProfile   `json:"elastic_agent_profiles"`
}

// validateClusterProfileRequest and validateAgentProfileRequest decode the
// flat settings map, the wire shape the
// CI server posts for both validate-cluster-profile and
// validate-elastic-agent-profile (spec.md §6); fields absent from the
// target profile struct are ignored.
type validateClusterProfileRequest = profile.ClusterProfile
type validateAgentProfileRequest = profile.AgentProfile

// serverPingRequest is the "server-ping" request body.
type serverPingRequest struct {
	AllClusterProfileProperties []profile.ClusterProfile `json:"all_cluster_profile_properties"`
}

// createAgentRequest is the "create-agent" request body.
type createAgentRequest struct {
	ClusterProfileProperties      profile.ClusterProfile `json:"cluster_profile_properties"`
	ElasticAgentProfileProperties profile.AgentProfile   `json:"elastic_agent_profile_properties"`
	Environment                   string                 `json:"environment"`
	AutoRegisterKey               string                 `json:"auto_register_key"`
	JobIdentifier                 jobIdentifier          `json:"job_identifier"`
}

type jobIdentifier struct {
	JobID string `json:"job_id"`
}

// shouldAssignWorkRequest is the "should-assign-work" request body.
type shouldAssignWorkRequest struct {
	Agent                         agentRef             `json:"agent"`
	ClusterProfileProperties      profile.ClusterProfile `json:"cluster_profile_properties"`
	ElasticAgentProfileProperties profile.AgentProfile   `json:"elastic_agent_profile_properties"`
	JobIdentifier                 jobIdentifier          `json:"job_identifier"`
}

type agentRef struct {
	AgentID string `json:"agent_id"`
}

// jobCompletionRequest is the "job-completion" request body.
type jobCompletionRequest struct {
	ElasticAgentID string `json:"elastic_agent_id"`
}

// getIconResponse is the "get-icon" response body.
type getIconResponse struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}
