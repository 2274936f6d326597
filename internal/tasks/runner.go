package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/asadbukhari/weather-alert-cache/internal/observability"
)

// Status is the observable state of a scheduled task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// ErrQueueFull is returned by Schedule when the task queue is saturated.
var ErrQueueFull = errors.New("task queue full")

// Fn is a unit of background work. The returned string is the task result
// exposed to pollers; an error marks the task failed.
type Fn func(ctx context.Context) (string, error)

type job struct {
	id   string
	name string
	fn   Fn
}

type record struct {
	result     string
	errMsg     string
	failed     bool
	finishedAt time.Time
}

// Runner executes units of work on a bounded worker pool, detached from the
// caller. Schedule returns a runner-generated task ID immediately; callers
// poll IsRunning/Result/Err. Terminal records stay queryable until pruned.
type Runner struct {
	queue   chan job
	active  cmap.ConcurrentMap[string, time.Time]
	records cmap.ConcurrentMap[string, record]
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner starts workers goroutines consuming a queue of queueSize slots.
func NewRunner(workers, queueSize int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:   make(chan job, queueSize),
		active:  cmap.New[time.Time](),
		records: cmap.New[record](),
		logger:  logger,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

// Schedule enqueues fn and returns its task ID without waiting. The task
// counts as running from this moment, even while queued. Fails only when the
// queue is full or the runner is stopped.
func (r *Runner) Schedule(name string, fn Fn) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", errors.New("runner stopped")
	}
	r.mu.Unlock()

	id := uuid.New().String()
	r.active.Set(id, time.Now())

	select {
	case r.queue <- job{id: id, name: name, fn: fn}:
		observability.TasksQueued.Inc()
		if r.logger != nil {
			r.logger.Info("task scheduled", zap.String("task_id", id), zap.String("name", name))
		}
		return id, nil
	default:
		r.active.Remove(id)
		return "", ErrQueueFull
	}
}

// IsRunning reports whether the task has been scheduled and not yet finished.
func (r *Runner) IsRunning(id string) bool {
	return r.active.Has(id)
}

// Result returns the task result once it succeeded.
func (r *Runner) Result(id string) (string, bool) {
	rec, ok := r.records.Get(id)
	if !ok || rec.failed {
		return "", false
	}
	return rec.result, true
}

// Err returns the task error message once it failed.
func (r *Runner) Err(id string) (string, bool) {
	rec, ok := r.records.Get(id)
	if !ok || !rec.failed {
		return "", false
	}
	return rec.errMsg, true
}

// Status derives the task state from the running set and terminal records.
func (r *Runner) Status(id string) Status {
	if r.active.Has(id) {
		return StatusRunning
	}
	rec, ok := r.records.Get(id)
	if !ok {
		return StatusUnknown
	}
	if rec.failed {
		return StatusFailed
	}
	return StatusSucceeded
}

// PruneFinished drops terminal records older than maxAge and returns how many
// were removed. Running tasks are never touched.
func (r *Runner) PruneFinished(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	r.records.IterCb(func(id string, rec record) {
		if rec.finishedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	})
	for _, id := range stale {
		r.records.Remove(id)
	}
	return len(stale)
}

// Stop cancels task contexts and waits for in-flight work, up to ctx's deadline.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.queue)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.cancel()
		<-done
	}
	r.cancel()
	return nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for j := range r.queue {
		observability.TasksQueued.Dec()
		r.run(ctx, j)
	}
}

// run executes one job, recording exactly one of result/error. A panic in the
// unit of work is recovered and recorded; it never takes the worker down.
func (r *Runner) run(ctx context.Context, j job) {
	observability.TasksRunning.Inc()
	start := time.Now()
	if r.logger != nil {
		r.logger.Info("task started", zap.String("task_id", j.id), zap.String("name", j.name))
	}

	defer func() {
		if p := recover(); p != nil {
			r.finish(j, record{errMsg: fmt.Sprintf("panic: %v", p), failed: true, finishedAt: time.Now()})
			if r.logger != nil {
				r.logger.Error("task panicked", zap.String("task_id", j.id), zap.Any("panic", p))
			}
		}
		observability.TasksRunning.Dec()
	}()

	result, err := j.fn(ctx)
	if err != nil {
		r.finish(j, record{errMsg: err.Error(), failed: true, finishedAt: time.Now()})
		if r.logger != nil {
			r.logger.Error("task failed", zap.String("task_id", j.id),
				zap.String("name", j.name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		}
		return
	}

	r.finish(j, record{result: result, finishedAt: time.Now()})
	if r.logger != nil {
		r.logger.Info("task completed", zap.String("task_id", j.id),
			zap.String("name", j.name), zap.Duration("duration", time.Since(start)))
	}
}

func (r *Runner) finish(j job, rec record) {
	r.records.Set(j.id, rec)
	r.active.Remove(j.id)
	if rec.failed {
		observability.TasksFinishedTotal.WithLabelValues("failed").Inc()
	} else {
		observability.TasksFinishedTotal.WithLabelValues("succeeded").Inc()
	}
}
