// Package fake provides an in-memory executor.Client double for tests,
// grounded on the teacher's pattern of testing the lifecycle manager
// against a fake docker client rather than a live daemon.
package fake

import (
	"context"
	"sync"

	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

// Client is an in-memory executor.Client. Jobs and quotas are seeded
// directly by tests via the exported fields/methods; it is safe for
// concurrent use (tests may run it behind a real executor.Cache too).
type Client struct {
	mu sync.Mutex

	open  bool
	Jobs  map[string]executor.JobSummary
	Quota map[string]resources.Quota

	// CreateErr, when non-nil, is returned by CreateJob instead of
	// creating the job.
	CreateErr error
	// KillErr, when non-nil, is returned by KillTasks.
	KillErr error

	CreateCalls []string
	KillCalls   []string
}

// New constructs an open fake client.
func New() *Client {
	return &Client{
		open:  true,
		Jobs:  make(map[string]executor.JobSummary),
		Quota: make(map[string]resources.Quota),
	}
}

func (c *Client) ListJobs(ctx context.Context, role, env string) ([]executor.JobSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []executor.JobSummary
	for _, j := range c.Jobs {
		out = append(out, j)
	}
	return out, nil
}

func (c *Client) GetTaskHistory(ctx context.Context, agentID string) (executor.TaskHistory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Jobs[agentID]; !ok {
		return executor.TaskHistory{}, &executor.Error{Code: executor.ErrNotFound, Messages: []string{agentID}}
	}
	return executor.TaskHistory{Status: "running"}, nil
}

func (c *Client) CreateJob(ctx context.Context, role, env, name string, spec executor.JobSpec, res resources.Vector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CreateCalls = append(c.CreateCalls, name)
	if c.CreateErr != nil {
		return c.CreateErr
	}
	if existing, ok := c.Jobs[name]; ok && existing.Alive() {
		return &executor.Error{Code: executor.ErrConflict, Messages: []string{"job already alive"}}
	}
	c.Jobs[name] = executor.JobSummary{AgentID: name, Pending: 1}
	return nil
}

func (c *Client) KillTasks(ctx context.Context, jobKey, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.KillCalls = append(c.KillCalls, jobKey)
	if c.KillErr != nil {
		return c.KillErr
	}
	if j, ok := c.Jobs[jobKey]; ok {
		j.Pending, j.Active = 0, 0
		c.Jobs[jobKey] = j
	}
	return nil
}

func (c *Client) GetQuota(ctx context.Context, role string) (resources.Quota, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Quota[role], nil
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// SetAlive seeds a job summary directly, bypassing CreateJob — used by
// reconciliation tests that need an orphan/legacy job already present.
func (c *Client) SetAlive(agentID string, pending, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Jobs[agentID] = executor.JobSummary{AgentID: agentID, Pending: pending, Active: active}
}
