// Package queue runs background tasks on a bounded worker pool. Handlers are
// registered by task name; payloads are opaque strings (entity uids), so
// handlers must be idempotent.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload string) error

type job struct {
	task    string
	payload string
}

// Queue dispatches enqueued tasks to registered handlers.
type Queue struct {
	mu       sync.Mutex
	handlers map[string]Handler

	// closeMu serializes Enqueue sends against Shutdown closing the channel
	closeMu sync.RWMutex
	closed  bool
	jobs    chan job

	wg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a queue running workers goroutines over a buffer of backlog
// pending jobs.
func New(workers, backlog int) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	wg, ctx := errgroup.WithContext(ctx)

	q := &Queue{
		handlers: make(map[string]Handler),
		jobs:     make(chan job, backlog),
		wg:       wg,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		wg.Go(q.worker)
	}
	return q
}

// Register binds a handler to a task name. Must be called before the first
// Enqueue of that task.
func (q *Queue) Register(task string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[task] = h
}

func (q *Queue) handler(task string) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[task]
	return h, ok
}

// Enqueue schedules a task. It blocks while the backlog is full and fails
// when the queue is shut down or the task has no handler.
func (q *Queue) Enqueue(ctx context.Context, task string, payload string) error {
	if _, ok := q.handler(task); !ok {
		return errors.Errorf("no handler registered for task %q", task)
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return errors.New("queue is shut down")
	}

	select {
	case q.jobs <- job{task: task, payload: payload}:
		debug.Log("enqueued %v(%v)", task, payload)
		return nil
	case <-q.ctx.Done():
		return errors.New("queue is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() error {
	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				return nil
			}
			q.run(j)
		case <-q.ctx.Done():
			return nil
		}
	}
}

// run executes one job. Handler errors are logged, not propagated: tasks own
// their failure handling (a failing push marks itself failed).
func (q *Queue) run(j job) {
	h, ok := q.handler(j.task)
	if !ok {
		debug.Log("dropping %v(%v): handler vanished", j.task, j.payload)
		return
	}
	if err := h(q.ctx, j.payload); err != nil {
		debug.Log("task %v(%v) failed: %v", j.task, j.payload, err)
	}
}

// Shutdown stops accepting jobs, drains the backlog, and waits for running
// handlers to return.
func (q *Queue) Shutdown() error {
	q.closeMu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.closeMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- q.wg.Wait()
	}()
	err := <-done
	q.cancel()
	return err
}
