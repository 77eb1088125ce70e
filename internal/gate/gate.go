// Package gate implements the IOGate: a single token that grants
// permission to run code that touches host state.
//
// Exactly one party holds the gate at a time. The host holds it by default
// and hands it over only while it is parked waiting for events:
//
//	host:   [holds] --Release--> Shift(...) --Acquire--> [holds]
//	poller:            Acquire --> ReadInput(slice) --> Release
//
// The poller never keeps the gate across its retry delay, so a host that
// wakes for another reason regains the gate within one input slice.
//
// Misuse of the gate means the mutual-exclusion invariant can no longer be
// trusted. There is no degraded mode: Fail reports the problem and the
// fatal handler terminates the process.
package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dshills/evbridge/internal/logging"
)

// Holder names a party that can hold the gate.
type Holder int

const (
	// Nobody means the gate is free.
	Nobody Holder = iota
	// Host is the host goroutine.
	Host
	// Poller is the background input poller.
	Poller
)

// String returns a human-readable holder name.
func (h Holder) String() string {
	switch h {
	case Nobody:
		return "nobody"
	case Host:
		return "host"
	case Poller:
		return "poller"
	default:
		return fmt.Sprintf("holder(%d)", int(h))
	}
}

// Synchronization failures. These are never returned to callers; they are
// passed to the fatal handler.
var (
	// ErrNotHolder is reported when a party releases a gate it does not hold.
	ErrNotHolder = errors.New("gate released by a party that does not hold it")

	// ErrDoubleRelease is reported when the token is returned twice.
	ErrDoubleRelease = errors.New("gate released twice")

	// ErrInvalidHolder is reported when Nobody tries to acquire the gate.
	ErrInvalidHolder = errors.New("invalid gate holder")
)

// ExitCode is the process exit status used by the default fatal handler
// (EX_SOFTWARE).
const ExitCode = 70

// FatalFunc handles an unrecoverable synchronization failure. The default
// implementation logs and exits; it must not return in production.
type FatalFunc func(err error)

// Option configures a Gate.
type Option func(*Gate)

// WithFatal replaces the fatal handler. Intended for tests.
func WithFatal(fn FatalFunc) Option {
	return func(g *Gate) {
		if fn != nil {
			g.fatal = fn
		}
	}
}

// WithLogger sets the logger used by the default fatal handler.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate is the exclusive permission token.
type Gate struct {
	// token holds one value while the gate is free.
	token chan struct{}

	mu     sync.Mutex
	holder Holder

	fatal  FatalFunc
	logger *logging.Logger
}

// New creates a gate already held by Host.
func New(opts ...Option) *Gate {
	g := &Gate{
		token:  make(chan struct{}, 1),
		holder: Host,
		logger: logging.Default(),
	}
	g.fatal = g.exit
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until h holds the gate.
func (g *Gate) Acquire(h Holder) {
	_ = g.AcquireContext(context.Background(), h)
}

// AcquireContext blocks until h holds the gate or ctx is done.
func (g *Gate) AcquireContext(ctx context.Context, h Holder) error {
	if h == Nobody {
		g.Fail(ErrInvalidHolder)
		return ErrInvalidHolder
	}

	select {
	case <-g.token:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	g.holder = h
	g.mu.Unlock()
	return nil
}

// TryAcquire takes the gate for h only if it is free right now.
func (g *Gate) TryAcquire(h Holder) bool {
	if h == Nobody {
		g.Fail(ErrInvalidHolder)
		return false
	}

	select {
	case <-g.token:
	default:
		return false
	}

	g.mu.Lock()
	g.holder = h
	g.mu.Unlock()
	return true
}

// Release hands the gate back. Releasing a gate h does not hold is fatal.
func (g *Gate) Release(h Holder) {
	g.mu.Lock()
	if g.holder != h {
		cur := g.holder
		g.mu.Unlock()
		g.Fail(fmt.Errorf("%w: %s released, %s holds", ErrNotHolder, h, cur))
		return
	}
	g.holder = Nobody
	g.mu.Unlock()

	select {
	case g.token <- struct{}{}:
	default:
		g.Fail(ErrDoubleRelease)
	}
}

// Holder returns the current holder.
func (g *Gate) Holder() Holder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Held reports whether h currently holds the gate.
func (g *Gate) Held(h Holder) bool {
	return g.Holder() == h
}

// Fail reports an unrecoverable synchronization failure.
func (g *Gate) Fail(err error) {
	g.fatal(err)
}

func (g *Gate) exit(err error) {
	g.logger.WithComponent("gate").Error("synchronization failure, terminating", "error", err)
	fmt.Fprintf(os.Stderr, "\n%v\n", err)
	os.Exit(ExitCode)
}
