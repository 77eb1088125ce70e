// Package loop drives the host's event wait.
//
// Loop.Next is the single call a host makes in place of a blocking input
// read. While it waits, the IOGate is released so the input poller can read
// host input; background producers push Custom and DeferredCall events; and
// the job manager is polled between slices. Next returns with the gate held
// by the host.
package loop

import (
	"errors"
	"io"
	"time"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/gate"
	"github.com/dshills/evbridge/internal/input"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
)

// Forever makes Next wait until an event arrives.
const Forever time.Duration = -1

// Config configures a Loop.
type Config struct {
	// Slice bounds each queue wait between job polls.
	// Default: 100ms
	Slice time.Duration

	// IdleTimeout is how long Next waits without input before returning
	// an Idle event. Zero disables Idle.
	// Default: 4s
	IdleTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Slice:       100 * time.Millisecond,
		IdleTimeout: 4 * time.Second,
	}
}

// Components are the parts a Loop drives. Poller and Jobs are optional.
type Components struct {
	Queue  *queue.Queue
	Gate   *gate.Gate
	Reader input.Reader
	Poller *input.Poller
	Jobs   *job.Manager
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(l *logging.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// Loop multiplexes host input, job activity and cross-goroutine events.
//
// Next, SetIdleTimeout and Close must be called from the host goroutine.
// Trigger and Defer are safe from any goroutine.
type Loop struct {
	queue  *queue.Queue
	gate   *gate.Gate
	reader input.Reader
	poller *input.Poller
	jobs   *job.Manager
	config Config
	logger *logging.Logger

	inputDone   bool
	lastJobPoll time.Time
}

// New creates a loop over c. The gate must be held by the host.
func New(c Components, cfg Config, opts ...Option) *Loop {
	if cfg.Slice <= 0 {
		cfg.Slice = DefaultConfig().Slice
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}

	l := &Loop{
		queue:     c.Queue,
		gate:      c.Gate,
		reader:    c.Reader,
		poller:    c.Poller,
		jobs:      c.Jobs,
		config: cfg,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("loop")
	return l
}

// Next returns the next event. A timeout of 0 does not wait, Forever waits
// indefinitely, and a positive timeout bounds the wait. The boolean is false
// when nothing arrived in time.
//
// With an idle timeout set, every call that waits that long without another
// event returns Idle, so a Forever wait is bounded by the idle timeout.
func (l *Loop) Next(timeout time.Duration) (event.Event, bool) {
	if timeout == 0 {
		return l.nextNow()
	}

	start := time.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	for {
		l.armInput()

		wait := l.config.Slice
		if !deadline.IsZero() {
			if rem := time.Until(deadline); rem < wait {
				wait = max(rem, 0)
			}
		}
		if l.config.IdleTimeout > 0 {
			if rem := l.config.IdleTimeout - time.Since(start); rem < wait {
				wait = max(rem, 0)
			}
		}

		l.gate.Release(gate.Host)
		ev, ok := l.queue.Shift(wait)
		l.gate.Acquire(gate.Host)

		if ok {
			return l.deliver(ev), true
		}

		if l.pollJobs(true) {
			if ev, ok := l.queue.Shift(0); ok {
				return l.deliver(ev), true
			}
		}

		if l.config.IdleTimeout > 0 && time.Since(start) >= l.config.IdleTimeout {
			return event.NewIdle(), true
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return event.Event{}, false
		}
		if l.queue.Closed() {
			return event.Event{}, false
		}
	}
}

// nextNow serves a non-blocking Next. Events already queued come first so
// input read earlier by the poller is not overtaken.
func (l *Loop) nextNow() (event.Event, bool) {
	if ev, ok := l.queue.Shift(0); ok {
		return l.deliver(ev), true
	}

	if l.pollJobs(false) {
		if ev, ok := l.queue.Shift(0); ok {
			return l.deliver(ev), true
		}
	}

	if l.reader == nil || l.inputDone {
		return event.Event{}, false
	}
	in, err := l.reader.ReadInput(0)
	switch {
	case errors.Is(err, io.EOF):
		l.inputDone = true
		return l.deliver(event.NewUserInput(&event.Input{EOF: true})), true
	case err != nil:
		l.logger.Warn("input read failed", "error", err)
		return event.Event{}, false
	case in == nil:
		return event.Event{}, false
	}
	return l.deliver(event.NewUserInput(in)), true
}

// armInput asks the poller to read while the host waits. A failed
// handshake leaves the two goroutines out of step and is fatal.
func (l *Loop) armInput() {
	if l.poller == nil || l.inputDone {
		return
	}
	err := l.poller.Arm()
	switch {
	case err == nil:
	case errors.Is(err, input.ErrStopped):
		l.inputDone = true
	default:
		l.gate.Fail(err)
	}
}

// pollJobs runs one job pass. When throttled it skips passes that come
// sooner than one slice after the previous pass.
func (l *Loop) pollJobs(force bool) bool {
	if l.jobs == nil {
		return false
	}
	now := time.Now()
	if !force && now.Sub(l.lastJobPoll) < l.config.Slice {
		return false
	}
	l.lastJobPoll = now
	return len(l.jobs.Poll()) > 0
}

func (l *Loop) deliver(ev event.Event) event.Event {
	if ev.Kind == event.KindUserInput && ev.Input != nil && ev.Input.EOF {
		l.inputDone = true
	}
	return ev
}

// Trigger queues a Custom event. It is safe from any goroutine.
func (l *Loop) Trigger(name, arg string) {
	l.queue.Push(event.NewCustom(name, arg))
}

// Defer queues fn to run on the host goroutine. It is safe from any
// goroutine.
func (l *Loop) Defer(fn func()) {
	if fn == nil {
		return
	}
	l.queue.Push(event.NewDeferredCall(fn))
}

// SetIdleTimeout changes the Idle delay. Zero disables Idle.
func (l *Loop) SetIdleTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.config.IdleTimeout = d
}

// IdleTimeout returns the current Idle delay.
func (l *Loop) IdleTimeout() time.Duration {
	return l.config.IdleTimeout
}

// Close stops the input poller and closes the queue. Pending events are
// discarded. Jobs are left to their owner.
func (l *Loop) Close() {
	if l.poller != nil {
		l.poller.Stop()
	}
	l.queue.Close()
}
