package ciserver

import (
	"context"
	"sync"
)

// Fake is an in-memory Gateway double for scenario tests.
type Fake struct {
	mu sync.Mutex

	Agents map[string]AgentInfo
	Info   ServerInfo

	DisableCalls [][]string
	DeleteCalls  [][]string
}

// NewFake constructs an empty Fake gateway.
func NewFake() *Fake {
	return &Fake{Agents: make(map[string]AgentInfo)}
}

func (f *Fake) GetServerInfo(ctx context.Context) (ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Info, nil
}

func (f *Fake) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]AgentInfo, 0, len(f.Agents))
	for _, a := range f.Agents {
		out = append(out, a)
	}
	return out, nil
}

func (f *Fake) DisableAgents(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DisableCalls = append(f.DisableCalls, ids)
	for _, id := range ids {
		if a, ok := f.Agents[id]; ok {
			a.ConfigState = Disabled
			f.Agents[id] = a
		}
	}
	return nil
}

func (f *Fake) DeleteAgents(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DeleteCalls = append(f.DeleteCalls, ids)
	for _, id := range ids {
		delete(f.Agents, id)
	}
	return nil
}
