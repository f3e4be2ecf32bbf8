package reader

import (
	"context"
	"sync"
)

// mainQueue runs tasks one at a time on a single goroutine. Every mutation of the
// live sequence and every view callback goes through it, so observers never see
// two edits interleave.
type mainQueue struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func newMainQueue() *mainQueue {
	q := &mainQueue{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *mainQueue) run() {
	for {
		select {
		case fn := <-q.tasks:
			fn()
		case <-q.done:
			return
		}
	}
}

// Do runs fn on the queue and waits for it to finish. A task that was handed
// to the queue always runs to completion, even if ctx is cancelled meanwhile.
// Do must not be called from inside a task.
func (q *mainQueue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case q.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed
	}

	<-finished
	return nil
}

func (q *mainQueue) Close() {
	q.once.Do(func() { close(q.done) })
}
