// README: Bounded worker pool for fire-and-forget side effects.
package party

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const taskTimeout = 10 * time.Second

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Runner executes enrichment tasks (fare pre-estimate, counter increments,
// push dispatch) off the request path. Each task has its own failure domain:
// errors are logged and dropped, and no ordering is guaranteed relative to
// the primary transaction.
type Runner struct {
	tasks  chan task
	logger *zap.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewRunner(workers int, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		tasks:  make(chan task, workers*16),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues a task. When the queue is saturated or the runner has been
// closed the task is dropped with a log line rather than blocking or
// panicking; a request racing shutdown simply loses its enrichment.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("async task dropped, runner closed", zap.String("task", name))
		return
	}
	select {
	case r.tasks <- task{name: name, fn: fn}:
	default:
		r.logger.Warn("async task dropped, queue full", zap.String("task", name))
	}
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) work() {
	defer r.wg.Done()
	for t := range r.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		if err := t.fn(ctx); err != nil {
			r.logger.Warn("async task failed", zap.String("task", t.name), zap.Error(err))
		}
		cancel()
	}
}
