// Package dispatch runs state-machine effects on a bounded worker pool,
// off the writer thread, and enqueues follow-up state updates on success
// or failure (spec.md §2.8, §4.8). Grounded on the teacher's bounded
// concurrency loop gating container launches on CanExecute() before
// admitting more work.
package dispatch

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kandev/ciagent/internal/ciserver"
	"github.com/kandev/ciagent/internal/common/appctx"
	"github.com/kandev/ciagent/internal/common/constants"
	"github.com/kandev/ciagent/internal/common/logger"
	"github.com/kandev/ciagent/internal/common/tracing"
	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/metrics"
	"github.com/kandev/ciagent/internal/scheduler/record"
	"github.com/kandev/ciagent/internal/scheduler/statemachine"
)

const tracerName = "ciagent/dispatch"

// effectPriority orders teardown ahead of creation: killing/disabling/
// deleting an agent should never wait behind a pending CreateExecutorJob,
// since teardown is what frees quota for new launches.
func effectPriority(t statemachine.EffectType) int {
	switch t {
	case statemachine.KillExecutorJob:
		return 0
	case statemachine.DisableCIAgent, statemachine.DeleteCIAgent:
		return 1
	case statemachine.CreateExecutorJob:
		return 2
	default:
		return 2
	}
}

// jobHeap is a priority queue of pending effects, ordered by
// effectPriority and, within the same priority, by submission order.
// Grounded on the teacher's task queue heap (internal/orchestrator/queue/queue.go).
type jobHeap []job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	pi, pj := effectPriority(h[i].effect.Type), effectPriority(h[j].effect.Type)
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// effectQueue is an unbounded, mutex-guarded min-heap feeding the worker pool.
type effectQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    jobHeap
	nextSeq uint64
	closed  bool
}

func newEffectQueue() *effectQueue {
	q := &effectQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *effectQueue) push(j job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	j.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, j)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a job is available or the queue is closed, in which
// case ok is false.
func (q *effectQueue) pop() (j job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.heap.Len() == 0 {
		return job{}, false
	}
	return heap.Pop(&q.heap).(job), true
}

func (q *effectQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func loggerFields(eff statemachine.Effect, detail string) []zap.Field {
	fields := []zap.Field{
		zap.String("agent_id", eff.AgentID),
		zap.String("effect", string(eff.Type)),
	}
	if detail != "" {
		fields = append(fields, zap.String("detail", detail))
	}
	return fields
}

// UpdateAgentFunc matches store.Store.UpdateAgent's signature without
// importing the store package, to avoid a dependency cycle (dispatch is
// constructed with the store's method value).
type UpdateAgentFunc func(id string, fn func(hasRecord bool, r record.Record) (bool, record.Record, []any))

// Dispatcher runs effects from a bounded worker pool.
type Dispatcher struct {
	executors   *executor.Cache
	ciserver    ciserver.Gateway
	updateAgent UpdateAgentFunc
	metrics     *metrics.Recorder
	log         *logger.Logger

	queue  *effectQueue
	stopCh chan struct{}
}

type job struct {
	effect      statemachine.Effect
	executorURL string
	seq         uint64
}

// New constructs a Dispatcher with workers worker goroutines draining a
// priority effect queue (teardown effects ahead of creation effects).
func New(workers int, executorURL func(agentID string) string, executors *executor.Cache, ci ciserver.Gateway, updateAgent UpdateAgentFunc, rec *metrics.Recorder, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		executors:   executors,
		ciserver:    ci,
		updateAgent: updateAgent,
		metrics:     rec,
		log:         log,
		queue:       newEffectQueue(),
		stopCh:      make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go d.worker(executorURL)
	}
	return d
}

// Submit enqueues effects for asynchronous execution. It matches the
// store's onEffects callback shape; elements that are not a
// statemachine.Effect are skipped.
func (d *Dispatcher) Submit(effects []any) {
	for _, e := range effects {
		eff, ok := e.(statemachine.Effect)
		if !ok {
			continue
		}
		d.queue.push(job{effect: eff})
	}
}

// Close stops accepting new work, lets running workers drain, and cancels
// the detached context any in-flight run is using.
func (d *Dispatcher) Close() {
	d.queue.close()
	close(d.stopCh)
}

func (d *Dispatcher) worker(executorURL func(agentID string) string) {
	for {
		j, ok := d.queue.pop()
		if !ok {
			return
		}
		d.run(j, executorURL)
	}
}

// run executes one effect and enqueues its follow-up state update. Panics
// inside effect execution are caught and logged so one bad effect can
// never kill the pool (spec.md §4.8).
func (d *Dispatcher) run(j job, executorURL func(agentID string) string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("effect dispatcher: recovered from panic", loggerFields(j.effect, fmt.Sprintf("%v", r))...)
		}
	}()

	timeout := constants.ExecutorCallTimeout
	if j.effect.Type == statemachine.DisableCIAgent || j.effect.Type == statemachine.DeleteCIAgent {
		timeout = constants.CIServerCallTimeout
	}
	base, cancel := appctx.Detached(context.Background(), d.stopCh, timeout)
	defer cancel()

	correlationID := uuid.NewString()
	ctx, span := tracing.StartSpan(base, tracerName, "dispatch.run")
	span.SetAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("effect", string(j.effect.Type)),
		attribute.String("agent_id", j.effect.AgentID),
	)
	defer span.End()

	var err error

	switch j.effect.Type {
	case statemachine.DisableCIAgent:
		err = d.ciserver.DisableAgents(ctx, []string{j.effect.AgentID})
	case statemachine.DeleteCIAgent:
		err = d.ciserver.DeleteAgents(ctx, []string{j.effect.AgentID})
	case statemachine.KillExecutorJob:
		url := executorURL(j.effect.AgentID)
		err = d.executors.Call(url, func(c executor.Client) error {
			return c.KillTasks(ctx, j.effect.AgentID, j.effect.Reason)
		})
	case statemachine.CreateExecutorJob:
		url := executorURL(j.effect.AgentID)
		err = d.executors.Call(url, func(c executor.Client) error {
			return c.CreateJob(ctx, j.effect.CreateRole, j.effect.CreateEnv, j.effect.AgentID, j.effect.CreateJobSpec, j.effect.CreateResources)
		})
	default:
		d.log.Warn("effect dispatcher: unknown effect type", loggerFields(j.effect, "")...)
		return
	}

	if err != nil {
		d.onFailure(j.effect, err)
		return
	}
	d.onSuccess(j.effect)
}

func (d *Dispatcher) onSuccess(eff statemachine.Effect) {
	d.log.Info("effect dispatcher: effect succeeded", loggerFields(eff, "")...)
	d.metrics.IncEffectSuccess(string(eff.Type))
	d.updateAgent(eff.AgentID, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		if !hasRecord {
			return false, record.Record{}, nil
		}
		return true, record.Update(r, eff.OnSuccessState, eff.OnSuccessMessage), nil
	})
}

func (d *Dispatcher) onFailure(eff statemachine.Effect, err error) {
	d.log.Warn("effect dispatcher: effect failed", loggerFields(eff, err.Error())...)
	d.metrics.IncEffectFailure(string(eff.Type))
	if !eff.HasFailure {
		// No explicit failure follow-up: the agent stays in its current
		// state and is retried on the next ping (spec.md §4.8).
		return
	}
	d.updateAgent(eff.AgentID, func(hasRecord bool, r record.Record) (bool, record.Record, []any) {
		if !hasRecord {
			return false, record.Record{}, nil
		}
		msg := fmt.Sprintf("%s: %v", eff.OnFailureMessage, err)
		return true, record.Update(r, eff.OnFailureState, msg), nil
	})
}
