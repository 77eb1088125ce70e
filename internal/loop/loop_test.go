package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/gate"
	"github.com/dshills/evbridge/internal/input"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
)

type fixture struct {
	loop   *Loop
	queue  *queue.Queue
	gate   *gate.Gate
	reader *input.ChanReader
	poller *input.Poller
	jobs   *job.Manager

	mu     sync.Mutex
	fatals []error
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		queue:  queue.New(),
		reader: input.NewChanReader(16),
	}
	f.gate = gate.New(gate.WithFatal(func(err error) {
		f.mu.Lock()
		f.fatals = append(f.fatals, err)
		f.mu.Unlock()
	}))
	f.poller = input.NewPoller(f.reader, f.gate, f.queue, input.Config{
		Slice:            10 * time.Millisecond,
		RetryDelay:       time.Millisecond,
		HandshakeTimeout: time.Second,
	}, input.WithLogger(logging.Nop()))
	f.poller.Start()
	f.jobs = job.NewManager(job.Config{}, job.WithNotifier(f.queue), job.WithLogger(logging.Nop()))

	f.loop = New(Components{
		Queue:  f.queue,
		Gate:   f.gate,
		Reader: f.reader,
		Poller: f.poller,
		Jobs:   f.jobs,
	}, cfg, WithLogger(logging.Nop()))

	t.Cleanup(func() {
		f.loop.Close()
		f.jobs.Close()
	})
	return f
}

func (f *fixture) requireHostHolds(t *testing.T) {
	t.Helper()
	assert.Equal(t, gate.Host, f.gate.Holder())
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.fatals)
}

func noIdle() Config {
	return Config{Slice: 20 * time.Millisecond}
}

func TestLoop_TriggerWakesForeverWait(t *testing.T) {
	f := newFixture(t, noIdle())

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.loop.Trigger("ping", "42")
	}()

	start := time.Now()
	ev, ok := f.loop.Next(Forever)
	require.True(t, ok)
	assert.Equal(t, event.KindCustom, ev.Kind)
	assert.Equal(t, "ping", ev.Name)
	assert.Equal(t, "42", ev.Arg)
	assert.Less(t, time.Since(start), time.Second)
	f.requireHostHolds(t)
}

func TestLoop_UserInput(t *testing.T) {
	f := newFixture(t, noIdle())

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.reader.SendString("i")
	}()

	ev, ok := f.loop.Next(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, event.KindUserInput, ev.Kind)
	assert.Equal(t, "i", ev.Input.Text())
	f.requireHostHolds(t)

	// The poller is re-armed on the next wait.
	f.reader.SendString("j")
	ev, ok = f.loop.Next(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "j", ev.Input.Text())
}

func TestLoop_FiniteTimeout(t *testing.T) {
	f := newFixture(t, noIdle())

	start := time.Now()
	_, ok := f.loop.Next(80 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	f.requireHostHolds(t)
}

func TestLoop_NonBlocking(t *testing.T) {
	f := newFixture(t, noIdle())

	start := time.Now()
	_, ok := f.loop.Next(0)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	f.reader.SendString("q")
	ev, ok := f.loop.Next(0)
	require.True(t, ok)
	assert.Equal(t, event.KindUserInput, ev.Kind)
	assert.Equal(t, "q", ev.Input.Text())

	// Queued events come before fresh input.
	f.loop.Trigger("first", "")
	f.reader.SendString("second")
	ev, ok = f.loop.Next(0)
	require.True(t, ok)
	assert.Equal(t, "first", ev.Name)
	ev, ok = f.loop.Next(0)
	require.True(t, ok)
	assert.Equal(t, "second", ev.Input.Text())
	f.requireHostHolds(t)
}

func TestLoop_IdleRepeatsOnEveryWait(t *testing.T) {
	f := newFixture(t, Config{Slice: 20 * time.Millisecond, IdleTimeout: 60 * time.Millisecond})

	for i := 0; i < 3; i++ {
		start := time.Now()
		ev, ok := f.loop.Next(Forever)
		elapsed := time.Since(start)
		require.True(t, ok, "wait %d", i)
		assert.Equal(t, event.KindIdle, ev.Kind, "wait %d", i)
		assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond, "wait %d", i)
		assert.Less(t, elapsed, time.Second, "wait %d", i)
	}

	// Input before the timeout wins; the next wait idles again.
	f.reader.SendString("x")
	ev, ok := f.loop.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, event.KindUserInput, ev.Kind)

	ev, ok = f.loop.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, event.KindIdle, ev.Kind)
	f.requireHostHolds(t)
}

func TestLoop_FiniteTimeoutShorterThanIdle(t *testing.T) {
	f := newFixture(t, Config{Slice: 20 * time.Millisecond, IdleTimeout: time.Second})

	_, ok := f.loop.Next(60 * time.Millisecond)
	assert.False(t, ok)
	f.requireHostHolds(t)
}

func TestLoop_SetIdleTimeout(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.Equal(t, 4*time.Second, f.loop.IdleTimeout())

	f.loop.SetIdleTimeout(30 * time.Millisecond)
	ev, ok := f.loop.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, event.KindIdle, ev.Kind)

	f.loop.SetIdleTimeout(-1)
	assert.Zero(t, f.loop.IdleTimeout())
}

func TestLoop_JobActivity(t *testing.T) {
	f := newFixture(t, noIdle())

	id, err := f.jobs.Spawn([]string{"sh", "-c", "printf hi"}, "greeter")
	require.NoError(t, err)

	var out []byte
	exited := false
	deadline := time.Now().Add(3 * time.Second)
	for !exited && time.Now().Before(deadline) {
		ev, ok := f.loop.Next(time.Second)
		if !ok {
			continue
		}
		require.Equal(t, event.KindJobActivity, ev.Kind)
		require.Equal(t, id, ev.JobID)

		o, err := f.jobs.Drain(id)
		require.NoError(t, err)
		out = append(out, o.Stdout...)
		exited = o.Exited
	}
	assert.True(t, exited)
	assert.Equal(t, "hi", string(out))
	f.requireHostHolds(t)
}

func TestLoop_Defer(t *testing.T) {
	f := newFixture(t, noIdle())

	called := make(chan gate.Holder, 1)
	go f.loop.Defer(func() { called <- f.gate.Holder() })
	f.loop.Defer(nil)

	ev, ok := f.loop.Next(time.Second)
	require.True(t, ok)
	require.Equal(t, event.KindDeferredCall, ev.Kind)
	require.NotNil(t, ev.Call)

	ev.Call()
	assert.Equal(t, gate.Host, <-called)
}

func TestLoop_InputEOF(t *testing.T) {
	f := newFixture(t, noIdle())
	f.reader.Close()

	ev, ok := f.loop.Next(time.Second)
	require.True(t, ok)
	require.Equal(t, event.KindUserInput, ev.Kind)
	assert.True(t, ev.Input.EOF)

	// With input exhausted the loop still serves other producers.
	f.loop.Trigger("after", "")
	ev, ok = f.loop.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "after", ev.Name)
	f.requireHostHolds(t)
}

func TestLoop_ClosedQueue(t *testing.T) {
	f := newFixture(t, noIdle())
	f.loop.Close()

	start := time.Now()
	_, ok := f.loop.Next(Forever)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}
