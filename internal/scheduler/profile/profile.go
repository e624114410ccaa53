// Package profile holds the two configuration entities the CI server
// supplies on every call: ClusterProfile and AgentProfile (spec.md §3),
// plus the field validation the CI server's validate-* requests expose.
package profile

import (
	"fmt"
	"regexp"
)

// ClusterProfile targets one executor instance. It is immutable per
// version and keys the cluster in the store by ClusterName, which must be
// globally unique (the reconciliation join depends on this).
type ClusterProfile struct {
	ExecutorURL    string `json:"executor_url"`
	ClusterName    string `json:"cluster_name"`
	Role           string `json:"role"`
	Env            string `json:"env"`
	ServerAPIURL   string `json:"server_api_url"`
	AgentSourceURL string `json:"agent_source_url,omitempty"`
}

// AgentProfile is a named recipe for an agent: tag, resource request
// strings (parsed by internal/scheduler/resources), and an optional
// init script.
type AgentProfile struct {
	ID           string   `json:"id"`
	Tag          string   `json:"tag"`
	Environments []string `json:"environments,omitempty"`
	CPU          string   `json:"cpu"`
	RAM          string   `json:"ram"`
	Disk         string   `json:"disk"`
	InitScript   string   `json:"init_script,omitempty"`
}

// FieldError is one entry of a validate-* response: {key, message}. An
// empty slice means the profile is valid.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

var tagRE = regexp.MustCompile(`^[a-z]+$`)

const (
	minCPU  = 0.1
	maxCPU  = 32
	minRAM  = 256
	maxRAM  = 262144
	minDisk = 256
	maxDisk = 1048576
)

// ValidateAgentProfile checks an AgentProfile's fields against spec.md §3's
// ranges, returning one FieldError per violation (empty = valid).
func ValidateAgentProfile(p AgentProfile, parseFloat func(string) (float64, bool)) []FieldError {
	var errs []FieldError

	if !tagRE.MatchString(p.Tag) {
		errs = append(errs, FieldError{Key: "tag", Message: "must match [a-z]+"})
	}

	errs = appendRangeError(errs, "cpu", p.CPU, minCPU, maxCPU, parseFloat)
	errs = appendRangeError(errs, "ram", p.RAM, minRAM, maxRAM, parseFloat)
	errs = appendRangeError(errs, "disk", p.Disk, minDisk, maxDisk, parseFloat)

	return errs
}

func appendRangeError(errs []FieldError, key, raw string, min, max float64, parseFloat func(string) (float64, bool)) []FieldError {
	if raw == "" {
		return errs
	}
	v, ok := parseFloat(raw)
	if !ok {
		return append(errs, FieldError{Key: key, Message: "must be a number"})
	}
	if v < min || v > max {
		return append(errs, FieldError{Key: key, Message: fmt.Sprintf("must be between %v and %v", min, max)})
	}
	return errs
}

// ValidateClusterProfile checks the required fields of a ClusterProfile.
func ValidateClusterProfile(p ClusterProfile) []FieldError {
	var errs []FieldError
	if p.ExecutorURL == "" {
		errs = append(errs, FieldError{Key: "executor_url", Message: "is required"})
	}
	if p.ClusterName == "" {
		errs = append(errs, FieldError{Key: "cluster_name", Message: "is required"})
	}
	if p.Role == "" {
		errs = append(errs, FieldError{Key: "role", Message: "is required"})
	}
	if p.ServerAPIURL == "" {
		errs = append(errs, FieldError{Key: "server_api_url", Message: "is required"})
	}
	return errs
}
