// Package executor is a bounded async work executor: a shared, cloneable
// submission handle ("Executor") and a single consumer ("Pump") that fans
// submitted tasks out across a capped number of concurrent workers,
// replying to each submitter individually.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cookpad/s3ar/pkg/archerr"
)

// Task is one unit of work submitted to an Executor. It must be safely
// re-callable in the sense that it captures no single-shot state it
// can't reproduce — the Pump invokes it exactly once, but callers must
// not assume anything beyond that about scheduling.
type Task[S any] func(ctx context.Context) S

type submission[S any] struct {
	task  Task[S]
	reply chan S
}

// shared is the state an Executor and its clones hold a reference to: the
// bounded queue and a count of live Executor handles, so the queue closes
// exactly once all clones have been dropped.
type shared[S any] struct {
	queue    chan submission[S]
	refCount int32
	closeOne sync.Once
}

// Executor is a cloneable submission handle. Cloning shares the same
// underlying bounded queue; the queue closes only once every clone
// (including the original) has called Close.
type Executor[S any] struct {
	s *shared[S]
}

// Pump is the single consumer of an Executor's queue. Run must be driven
// exactly once, with a concurrency cap matching the desired part
// concurrency — the pipeline's top-level work is the concurrent join of
// the main task and Pump.Run.
type Pump[S any] struct {
	s *shared[S]
}

// New creates a bounded Executor/Pump pair. queueCapacity bounds how many
// submissions may be in flight between dispatch and pickup by the Pump
// before Execute blocks (backpressure).
func New[S any](queueCapacity int) (Executor[S], Pump[S]) {
	s := &shared[S]{
		queue:    make(chan submission[S], queueCapacity),
		refCount: 1,
	}
	return Executor[S]{s: s}, Pump[S]{s: s}
}

// Clone returns a new handle sharing this Executor's queue. The queue
// will not close until every clone (and the original) has called Close.
func (e Executor[S]) Clone() Executor[S] {
	atomic.AddInt32(&e.s.refCount, 1)
	return Executor[S]{s: e.s}
}

// Close releases this handle. Once the last live handle is closed, the
// queue closes and the Pump drains and terminates. The pipeline's main
// task must call Close before awaiting the Pump, or the join deadlocks.
func (e Executor[S]) Close() {
	if atomic.AddInt32(&e.s.refCount, -1) == 0 {
		e.s.closeOne.Do(func() { close(e.s.queue) })
	}
}

// Execute enqueues task and awaits its result. Suspends if the queue is
// full. Returns an Executor-kind error if the queue has already closed
// (every handle has called Close) or if ctx is cancelled before a reply
// arrives. A Pump that is not running does not close the queue; Execute
// then blocks until ctx is done.
//
// Callers must not invoke Execute concurrently with the handle's own
// Close — the expected lifecycle is "await every outstanding Execute,
// then Close", never the reverse.
func (e Executor[S]) Execute(ctx context.Context, task Task[S]) (v S, err error) {
	var zero S
	reply := make(chan S, 1)
	sub := submission[S]{task: task, reply: reply}

	defer func() {
		if r := recover(); r != nil {
			v, err = zero, archerr.New(archerr.KindExecutor, "submit", errQueueClosed)
		}
	}()

	select {
	case e.s.queue <- sub:
	case <-ctx.Done():
		return zero, archerr.New(archerr.KindExecutor, "submit", ctx.Err())
	}

	select {
	case v, ok := <-reply:
		if !ok {
			return zero, archerr.New(archerr.KindExecutor, "await reply", errQueueClosed)
		}
		return v, nil
	case <-ctx.Done():
		return zero, archerr.New(archerr.KindExecutor, "await reply", ctx.Err())
	}
}

var errQueueClosed = errQueueClosedErr{}

type errQueueClosedErr struct{}

func (errQueueClosedErr) Error() string { return "executor: worker cancelled before reply" }

// Run drives the Pump: it dequeues submissions and runs each task in its
// own goroutine, never exceeding concurrency workers in flight. Run
// returns once the queue has closed (every Executor clone released) and
// every dispatched worker has finished.
func (p Pump[S]) Run(ctx context.Context, concurrency int) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for sub := range p.s.queue {
		sub := sub
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			result := sub.task(ctx)
			// reply is buffered 1, so this never blocks even if the
			// submitter abandoned it; that case is ignored, not an error.
			sub.reply <- result
		}()
	}
	wg.Wait()
}
