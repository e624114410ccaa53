// Package ciserver is the CIServer gateway: four blocking RPCs against
// the upstream CI server's agent-registration API (spec.md §4.5). Unlike
// executor.Client, a CIServer is safe for concurrent use — the CI server
// multiplexes its own transport.
package ciserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AgentConfigState is the CI server's registration state for an agent.
type AgentConfigState string

const (
	Enabled  AgentConfigState = "Enabled"
	Disabled AgentConfigState = "Disabled"
)

// AgentState is the CI server's observed runtime state for an agent.
type AgentState string

const (
	Idle          AgentState = "Idle"
	Building      AgentState = "Building"
	Missing       AgentState = "Missing"
	LostContact   AgentState = "LostContact"
	AgentDisabled AgentState = "Disabled"
)

// AgentInfo is a read-only registration record from the CI server
// (spec.md §3 CIAgentInfo).
type AgentInfo struct {
	AgentID     string           `json:"agent_id"`
	ConfigState AgentConfigState `json:"config_state"`
	AgentState  AgentState       `json:"agent_state"`
}

// Registered reports whether the CI server still considers this agent a
// live registration (spec.md §3 "registered").
func (a AgentInfo) Registered() bool {
	return a.ConfigState == Enabled && a.AgentState != Missing && a.AgentState != LostContact
}

// ServerInfo is the CI server's self-description, returned by
// GetServerInfo.
type ServerInfo struct {
	Version string `json:"version"`
	BaseURL string `json:"base_url"`
}

// ErrorCode enumerates non-OK CIServer response codes.
type ErrorCode string

const (
	ErrBadRequest  ErrorCode = "BAD_REQUEST"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrConflict    ErrorCode = "CONFLICT"
	ErrUnavailable ErrorCode = "UNAVAILABLE"
)

// Error is the typed error every CIServer operation raises on a non-OK
// response.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ciserver: %s: %s", e.Code, e.Message)
}

// Gateway is the capability set the state machine and reconciliation loop
// use to talk to the CI server.
type Gateway interface {
	GetServerInfo(ctx context.Context) (ServerInfo, error)
	ListAgents(ctx context.Context) ([]AgentInfo, error)
	// DisableAgents must be called before DeleteAgents for the same ids
	// (the CI server rejects deletion of an enabled agent); the state
	// machine guarantees this ordering (spec.md §4.5).
	DisableAgents(ctx context.Context, ids []string) error
	DeleteAgents(ctx context.Context, ids []string) error
}

// HTTPGateway is the stdlib net/http implementation of Gateway. The
// contract is four small JSON-over-HTTP calls; no ecosystem HTTP client
// library in the example pack adds anything a thin wrapper doesn't
// already give (see DESIGN.md).
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway constructs a Gateway against baseURL using client, or
// http.DefaultClient if client is nil.
func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateway{baseURL: baseURL, httpClient: client}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ciserver: encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ciserver: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &Error{Code: ErrUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	code := ErrUnavailable
	switch resp.StatusCode {
	case http.StatusBadRequest:
		code = ErrBadRequest
	case http.StatusNotFound:
		code = ErrNotFound
	case http.StatusConflict:
		code = ErrConflict
	}
	return &Error{Code: code, Message: string(body)}
}

func (g *HTTPGateway) GetServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := g.do(ctx, http.MethodGet, "/go/api/info", nil, &info)
	return info, err
}

func (g *HTTPGateway) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var agents []AgentInfo
	err := g.do(ctx, http.MethodGet, "/go/api/elastic/agents", nil, &agents)
	return agents, err
}

func (g *HTTPGateway) DisableAgents(ctx context.Context, ids []string) error {
	return g.do(ctx, http.MethodPost, "/go/api/elastic/agents/disable", map[string][]string{"agent_ids": ids}, nil)
}

func (g *HTTPGateway) DeleteAgents(ctx context.Context, ids []string) error {
	return g.do(ctx, http.MethodPost, "/go/api/elastic/agents/delete", map[string][]string{"agent_ids": ids}, nil)
}
