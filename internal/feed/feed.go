// Package feed provides a small typed publish/subscribe primitive used to expose
// change notifications from the reader engine.
package feed

import (
	"context"
	"sync"
)

// Feed delivers published values to every current subscriber.
//
// Callbacks run synchronously on the publishing goroutine, in subscription
// order. A callback must not block and must not publish to the same feed.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish hands v to every subscriber registered at the time of the call.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	subs := make([]subscriber[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Waiter captures the first value matching a predicate. Create it before
// triggering the action that publishes, then call Wait.
type Waiter[T any] struct {
	ch    chan T
	unsub func()
}

// Watch subscribes to f and keeps the first value for which match returns true.
func Watch[T any](f *Feed[T], match func(T) bool) *Waiter[T] {
	w := &Waiter[T]{ch: make(chan T, 1)}
	w.unsub = f.Subscribe(func(v T) {
		if match != nil && !match(v) {
			return
		}
		select {
		case w.ch <- v:
		default:
		}
	})
	return w
}

// Wait blocks until a matching value arrives or ctx is done, then unsubscribes.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	defer w.unsub()
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel unsubscribes without waiting.
func (w *Waiter[T]) Cancel() {
	w.unsub()
}

// Next waits for the first value published to f after the call that matches.
func Next[T any](ctx context.Context, f *Feed[T], match func(T) bool) (T, error) {
	return Watch(f, match).Wait(ctx)
}
