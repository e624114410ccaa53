// Package executor defines the ExecutorClient gateway abstraction: a
// cached, serialized connection per cluster executor, with typed calls
// for job listing, task history, job creation/kill, and quota (spec.md
// §4.4). The wire encoding lives in internal/executor/grpcclient; tests
// use internal/executor/fake.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/ciagent/internal/scheduler/resources"
)

// JobSummary is a read-only view of one executor job, keyed by agent id
// (spec.md §3 ExecutorJobSummary).
type JobSummary struct {
	AgentID  string
	Pending  int
	Active   int
	Failed   int
	Finished int
}

// Alive reports whether the job still has pending or active tasks.
func (j JobSummary) Alive() bool { return j.Pending > 0 || j.Active > 0 }

// TaskEvent is one entry of a task's history.
type TaskEvent struct {
	Time    string
	Status  string
	Message string
}

// TaskHistory is the latest task descriptor for an agent id.
type TaskHistory struct {
	Status string
	Events []TaskEvent
}

// JobSpec is the task specification materialized for a created job
// (spec.md §6 "Agent bootstrap payload"). The three named processes are
// built by BuildTaskSpec.
type JobSpec struct {
	Install   Process
	Configure Process
	Run       Process
}

// Process is one of the three ordered processes in a JobSpec.
type Process struct {
	Name        string
	Commands    []string
	MaxFailures int
	Ephemeral   bool
	MinDuration int
	Daemon      bool
	Final       bool
}

// ErrorCode enumerates the non-OK response codes an ExecutorClient call
// can raise.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Error is the typed error every ExecutorClient operation raises on a
// non-OK response (spec.md §4.4).
type Error struct {
	Code     ErrorCode
	Messages []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor: %s: %v", e.Code, e.Messages)
}

// Client is the capability set an executor wire adapter must implement.
// A Client instance is NOT safe for concurrent use; callers must hold an
// exclusive lock per instance (spec.md §4.4) — see Cache.
type Client interface {
	ListJobs(ctx context.Context, role, env string) ([]JobSummary, error)
	GetTaskHistory(ctx context.Context, agentID string) (TaskHistory, error)
	CreateJob(ctx context.Context, role, env, name string, spec JobSpec, res resources.Vector) error
	KillTasks(ctx context.Context, jobKey, reason string) error
	GetQuota(ctx context.Context, role string) (resources.Quota, error)
	// IsOpen reports whether the underlying connection is still usable.
	IsOpen() bool
	// Close releases the underlying connection.
	Close() error
}

// Dialer opens a new Client for the given executor URL.
type Dialer func(executorURL string) (Client, error)

// conn pairs a cached client with the lock serializing its calls.
type conn struct {
	mu     sync.Mutex
	client Client
}

// Cache is the connection cache keyed by executorUrl (spec.md §4.4,
// §4.6). The map itself is guarded by muMap; callers hold the returned
// conn's own lock for the duration of a call.
type Cache struct {
	dial  Dialer
	muMap sync.Mutex
	conns map[string]*conn
}

// NewCache constructs an empty connection cache using dial to open new
// connections.
func NewCache(dial Dialer) *Cache {
	return &Cache{dial: dial, conns: make(map[string]*conn)}
}

// Ensure returns the cached connection for url, opening one if absent or
// if the cached connection reports itself closed.
func (c *Cache) Ensure(url string) (*conn, error) {
	c.muMap.Lock()
	defer c.muMap.Unlock()

	if existing, ok := c.conns[url]; ok {
		existing.mu.Lock()
		open := existing.client.IsOpen()
		existing.mu.Unlock()
		if open {
			return existing, nil
		}
		_ = existing.client.Close()
		delete(c.conns, url)
	}

	client, err := c.dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing executor %s: %w", url, err)
	}
	cn := &conn{client: client}
	c.conns[url] = cn
	return cn, nil
}

// Close drops and closes the cached connection for url, if any.
func (c *Cache) Close(url string) {
	c.muMap.Lock()
	defer c.muMap.Unlock()

	if existing, ok := c.conns[url]; ok {
		existing.mu.Lock()
		_ = existing.client.Close()
		existing.mu.Unlock()
		delete(c.conns, url)
	}
}

// Call runs fn against the connection for url under that connection's
// exclusive lock. On any error returned by fn, the connection is dropped
// so the next call reopens it (spec.md §4.4 "mark the connection dirty").
func (c *Cache) Call(url string, fn func(Client) error) error {
	cn, err := c.Ensure(url)
	if err != nil {
		return err
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if err := fn(cn.client); err != nil {
		c.muMap.Lock()
		delete(c.conns, url)
		c.muMap.Unlock()
		_ = cn.client.Close()
		return err
	}
	return nil
}
