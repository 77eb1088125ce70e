// Package queue provides the thread-safe FIFO that carries events from any
// number of producer goroutines to the single host goroutine.
//
// Push never blocks beyond the internal lock. Shift supports three wait
// modes: immediate (timeout 0), bounded (timeout > 0) and unbounded
// (timeout < 0, see Forever).
//
// Emptiness is checked and changed under one mutex, and the wakeup token is
// deposited under that same mutex. A Push that lands after a consumer saw
// an empty queue but before it started waiting therefore leaves a token
// behind, and the consumer observes it.
package queue

import (
	"sync"
	"time"

	"github.com/dshills/evbridge/internal/event"
)

// Forever makes Shift wait until an event arrives or the queue is closed.
const Forever time.Duration = -1

// Observer is notified of queue traffic. Implementations must be cheap and
// must not call back into the queue.
type Observer interface {
	EventPushed(kind event.Kind, depth int)
	EventShifted(kind event.Kind, depth int)
	EventDropped(kind event.Kind)
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		q.observer = o
	}
}

// Queue is a FIFO of events. It is safe for concurrent use by any number of
// producers; it assumes a single consumer but stays correct with several.
type Queue struct {
	mu     sync.Mutex
	items  []event.Event
	head   int
	closed bool

	// notify holds at most one wakeup token.
	notify chan struct{}
	done   chan struct{}

	observer Observer
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends ev at the tail. If the queue was empty, one waiting consumer
// is woken. Events pushed after Close are dropped.
func (q *Queue) Push(ev event.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if q.observer != nil {
			q.observer.EventDropped(ev.Kind)
		}
		return
	}

	wasEmpty := q.lenLocked() == 0
	q.items = append(q.items, ev)
	depth := q.lenLocked()
	if wasEmpty {
		q.signalLocked()
	}
	q.mu.Unlock()

	if q.observer != nil {
		q.observer.EventPushed(ev.Kind, depth)
	}
}

// Shift pops the head of the queue.
//
// If the queue is empty: timeout == 0 returns immediately, timeout > 0
// waits at most that long on a monotonic timer, timeout < 0 waits until an
// event arrives. The boolean is false when nothing was popped, because the
// wait timed out or the queue was closed.
func (q *Queue) Shift(timeout time.Duration) (event.Event, bool) {
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			ev := q.popLocked()
			depth := q.lenLocked()
			if depth > 0 {
				// Pass the baton so another waiter is not stranded.
				q.signalLocked()
			}
			q.mu.Unlock()

			if q.observer != nil {
				q.observer.EventShifted(ev.Kind, depth)
			}
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed || timeout == 0 {
			return event.Event{}, false
		}

		select {
		case <-q.notify:
		case <-expired:
			// A push may have raced the timer; take it if it is there.
			return q.Shift(0)
		case <-q.done:
			return q.Shift(0)
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Close wakes every waiter and makes subsequent pushes no-ops. Events
// already queued can still be shifted. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue) popLocked() event.Event {
	ev := q.items[q.head]
	q.items[q.head] = event.Event{}
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return ev
}

func (q *Queue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
