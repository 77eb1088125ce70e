package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/gate"
	"github.com/dshills/evbridge/internal/logging"
)

// State is the poller's position in its state machine.
type State int

const (
	// StateIdle waits for the host to arm the poller.
	StateIdle State = iota
	// StateArming means an arm request is in flight.
	StateArming
	// StatePolling repeatedly attempts bounded reads.
	StatePolling
	// StateStopped is terminal: the poller goroutine has exited.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArming:
		return "arming"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Poller errors.
var (
	// ErrHandshakeTimeout means the poller did not acknowledge an arm
	// request in time. Callers treat it as a synchronization failure.
	ErrHandshakeTimeout = errors.New("input poller did not acknowledge arm request")

	// ErrStopped means the poller has exited, either because Stop was
	// called or because the input source reached EOF.
	ErrStopped = errors.New("input poller stopped")
)

// Config configures a Poller.
type Config struct {
	// Slice bounds each read attempt.
	// Default: 100ms
	Slice time.Duration

	// RetryDelay is the pause between attempts that found no input.
	// The gate is not held during this pause.
	// Default: 10ms
	RetryDelay time.Duration

	// HandshakeTimeout bounds each half of the arm/ack exchange.
	// Default: 1s
	HandshakeTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Slice:            100 * time.Millisecond,
		RetryDelay:       10 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Slice <= 0 {
		c.Slice = d.Slice
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// Poller reads host input on a background goroutine and publishes it as
// UserInput events.
type Poller struct {
	reader Reader
	gate   *gate.Gate
	queue  *queue.Queue
	config Config
	logger *logging.Logger

	mu     sync.Mutex
	state  State
	disarm bool

	arm  chan struct{}
	ack  chan struct{}
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithLogger sets the poller's logger.
func WithLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller creates a poller. Call Start to launch its goroutine.
func NewPoller(r Reader, g *gate.Gate, q *queue.Queue, cfg Config, opts ...PollerOption) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		reader: r,
		gate:   g,
		queue:  q,
		config: cfg.withDefaults(),
		logger: logging.Default(),
		arm:    make(chan struct{}),
		ack:    make(chan struct{}),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("input")
	return p
}

// Start launches the poller goroutine. Subsequent calls are no-ops.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop terminates the poller goroutine and waits for it to exit. It is
// safe to call Stop while the host holds the gate.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	p.startOnce.Do(func() {
		// Never started: nothing to wait for.
		p.setState(StateStopped)
		close(p.done)
	})
	<-p.done
}

// Done is closed once the poller goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Arm asks the poller to start reading input and waits until it confirms.
// Arm is a no-op when the poller is already arming or polling.
func (p *Poller) Arm() error {
	p.mu.Lock()
	switch p.state {
	case StateStopped:
		p.mu.Unlock()
		return ErrStopped
	case StateArming, StatePolling:
		p.disarm = false
		p.mu.Unlock()
		return nil
	}
	p.state = StateArming
	p.disarm = false
	p.mu.Unlock()

	timer := time.NewTimer(p.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case p.arm <- struct{}{}:
	case <-p.done:
		return ErrStopped
	case <-timer.C:
		return ErrHandshakeTimeout
	}

	timer.Reset(p.config.HandshakeTimeout)
	select {
	case <-p.ack:
		return nil
	case <-p.done:
		return ErrStopped
	case <-timer.C:
		return ErrHandshakeTimeout
	}
}

// Disarm asks the poller to return to Idle after its current attempt.
func (p *Poller) Disarm() {
	p.mu.Lock()
	if p.state == StatePolling || p.state == StateArming {
		p.disarm = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) run() {
	defer close(p.done)
	defer p.setState(StateStopped)

	for {
		select {
		case <-p.arm:
		case <-p.ctx.Done():
			return
		}

		p.setState(StatePolling)
		select {
		case p.ack <- struct{}{}:
		case <-p.ctx.Done():
			return
		}

		if !p.poll() {
			return
		}
	}
}

// poll performs read attempts until input arrives or the poller is
// disarmed. It returns false when the goroutine should exit.
func (p *Poller) poll() bool {
	retry := time.NewTimer(p.config.RetryDelay)
	defer retry.Stop()

	for {
		if p.ctx.Err() != nil {
			return false
		}

		p.mu.Lock()
		if p.disarm {
			p.disarm = false
			p.state = StateIdle
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()

		if err := p.gate.AcquireContext(p.ctx, gate.Poller); err != nil {
			return false
		}
		in, err := p.reader.ReadInput(p.config.Slice)
		p.gate.Release(gate.Poller)

		switch {
		case errors.Is(err, io.EOF):
			p.logger.Info("input source exhausted")
			p.queue.Push(event.NewUserInput(&event.Input{EOF: true}))
			return false

		case err != nil:
			p.logger.Warn("input read failed", "error", err)

		case in != nil:
			// Go Idle before publishing so a host that re-arms as soon
			// as it sees the input is not treated as a duplicate arm.
			p.setState(StateIdle)
			p.queue.Push(event.NewUserInput(in))
			return true
		}

		if !retry.Stop() {
			select {
			case <-retry.C:
			default:
			}
		}
		retry.Reset(p.config.RetryDelay)

		select {
		case <-retry.C:
		case <-p.wake:
		case <-p.ctx.Done():
			return false
		}
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
