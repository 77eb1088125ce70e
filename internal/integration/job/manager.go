package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/logging"
)

// Config configures a Manager.
type Config struct {
	// MaxJobs is the size of the job table.
	// Default: 5
	MaxJobs int

	// BufferSize is the capacity of each output buffer.
	// Default: 4096
	BufferSize int

	// GracePeriod is how long a job may ignore SIGTERM before SIGKILL.
	// Default: 2.5s
	GracePeriod time.Duration

	// ShutdownGrace is the SIGTERM-to-SIGKILL wait used by Close.
	// Default: 300ms
	ShutdownGrace time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxJobs:       5,
		BufferSize:    4096,
		GracePeriod:   2500 * time.Millisecond,
		ShutdownGrace: 300 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxJobs <= 0 {
		c.MaxJobs = d.MaxJobs
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}

// Notifier receives one JobActivity event per job per Poll.
// *queue.Queue satisfies it.
type Notifier interface {
	Push(ev event.Event)
}

// Observer receives job lifecycle notifications, typically for metrics.
type Observer interface {
	JobSpawned(name string)
	JobSpawnFailed(name string)
	JobSignaled(signal string)
	JobBytesRead(stream string, n int)
	JobExited(code int)
	JobsActive(n int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets where JobActivity events are pushed.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns a fixed-size table of child processes and services their
// pipes with non-blocking, single-pass polls.
//
// Manager is not safe for concurrent use. Every method must be called from
// the host goroutine while it holds the IOGate.
type Manager struct {
	config   Config
	slots    []*Job
	nextID   int
	closed   bool
	notifier Notifier
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager creates a job manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		config: cfg,
		slots:  make([]*Job, cfg.MaxJobs),
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("jobs")
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Spawn starts argv as a child with all three stdio streams piped and
// returns its id. The table is left untouched on failure.
func (m *Manager) Spawn(argv []string, name string) (int, error) {
	if m.closed {
		return 0, ErrManagerClosed
	}
	if len(argv) == 0 || argv[0] == "" {
		return 0, m.spawnFailed(&SpawnError{Name: name, Argv: argv, Op: "start", Err: errors.New("empty command")})
	}

	slot := m.freeSlot()
	if slot < 0 {
		return 0, ErrResourceExhausted
	}
	if name == "" {
		name = argv[0]
	}

	var pipes []pipePair
	cleanup := func() {
		for _, p := range pipes {
			p.closeAll()
		}
	}

	for i, childReads := range []bool{true, false, false} {
		p, err := newPipe(childReads, [...]string{"stdin", "stdout", "stderr"}[i])
		if err != nil {
			cleanup()
			return 0, m.spawnFailed(&SpawnError{Name: name, Argv: argv, Op: "pipe", Err: err})
		}
		pipes = append(pipes, p)
	}

	cmd := newCommand(argv, pipes[0].child, pipes[1].child, pipes[2].child)
	if err := cmd.Start(); err != nil {
		cleanup()
		return 0, m.spawnFailed(&SpawnError{Name: name, Argv: argv, Op: "start", Err: err})
	}

	// The child has its own copies now.
	for _, p := range pipes {
		_ = p.child.Close()
	}

	m.nextID++
	j := &Job{
		id:      m.nextID,
		token:   uuid.New(),
		name:    name,
		argv:    append([]string(nil), argv...),
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: m.now(),
		state:   StateRunning,
		stdin:   pipes[0].parent,
		stdout:  stream{name: StreamStdout, fd: pipes[1].parent, buf: NewBuffer(m.config.BufferSize)},
		stderr:  stream{name: StreamStderr, fd: pipes[2].parent, buf: NewBuffer(m.config.BufferSize)},
	}
	m.slots[slot] = j

	m.logger.Debug("job started", "job", j.id, "token", j.token.String(), "name", name, "pid", j.pid)
	if m.observer != nil {
		m.observer.JobSpawned(name)
		m.observer.JobsActive(m.Count())
	}
	return j.id, nil
}

func (m *Manager) spawnFailed(err *SpawnError) error {
	m.logger.Warn("job spawn failed", "name", err.Name, "op", err.Op, "error", err.Err)
	if m.observer != nil {
		m.observer.JobSpawnFailed(err.Name)
	}
	return err
}

// Stop requests termination. The signal is sent by the next Poll.
// Stopping a job that is already stopping or dead is a no-op.
func (m *Manager) Stop(id int) error {
	j := m.lookup(id)
	if j == nil {
		return ErrNotFound
	}
	if j.state == StateRunning {
		j.state = StateStopRequested
	}
	return nil
}

// Write queues data for the job's stdin. It is flushed by Poll.
func (m *Manager) Write(id int, data []byte) error {
	j := m.lookup(id)
	if j == nil {
		return ErrNotFound
	}
	if j.state != StateRunning || j.stdin < 0 {
		return ErrJobStopped
	}
	if len(data) == 0 {
		return nil
	}
	j.pending = append(j.pending, &chunk{data: append([]byte(nil), data...)})
	return nil
}

// Drain returns and clears the job's buffered output. Once the job is dead
// the returned Output carries its exit status, after which the slot is
// released as soon as its pipes are finished.
func (m *Manager) Drain(id int) (Output, error) {
	j := m.lookup(id)
	if j == nil {
		return Output{}, ErrNotFound
	}
	out := Output{
		ID:     j.id,
		Name:   j.name,
		Stdout: j.stdout.buf.Take(),
		Stderr: j.stderr.buf.Take(),
	}
	if j.state == StateDead {
		out.Exited = true
		out.ExitCode = j.exitCode
		j.exitDelivered = true
		m.release()
	}
	return out, nil
}

// Peek returns the buffered output without clearing it.
func (m *Manager) Peek(id int) (Output, error) {
	j := m.lookup(id)
	if j == nil {
		return Output{}, ErrNotFound
	}
	return Output{
		ID:       j.id,
		Name:     j.name,
		Stdout:   j.stdout.buf.Bytes(),
		Stderr:   j.stderr.buf.Bytes(),
		Exited:   j.state == StateDead,
		ExitCode: j.exitCode,
	}, nil
}

// Info returns a snapshot of one job.
func (m *Manager) Info(id int) (Info, error) {
	j := m.lookup(id)
	if j == nil {
		return Info{}, ErrNotFound
	}
	return j.info(), nil
}

// State returns the job's lifecycle state.
func (m *Manager) State(id int) (State, error) {
	j := m.lookup(id)
	if j == nil {
		return 0, ErrNotFound
	}
	return j.state, nil
}

// List returns snapshots of all jobs in slot order.
func (m *Manager) List() []Info {
	var out []Info
	for _, j := range m.slots {
		if j != nil {
			out = append(out, j.info())
		}
	}
	return out
}

// Count returns the number of occupied slots.
func (m *Manager) Count() int {
	n := 0
	for _, j := range m.slots {
		if j != nil {
			n++
		}
	}
	return n
}

// Poll services every job once without blocking and returns the ids that
// had activity: new output, or death since the previous Poll. A JobActivity
// event is pushed to the notifier for each.
func (m *Manager) Poll() []int {
	now := m.now()

	for _, j := range m.slots {
		if j == nil {
			continue
		}
		m.reapJob(j)
		m.advance(j, now)
	}

	active := m.pollPipes()

	var ids []int
	for _, j := range m.slots {
		if j == nil {
			continue
		}
		if j.state == StateDead && !j.deathNotified {
			j.deathNotified = true
			active[j.id] = true
		}
		if active[j.id] {
			ids = append(ids, j.id)
			if m.notifier != nil {
				m.notifier.Push(event.NewJobActivity(j.id))
			}
		}
	}

	m.release()
	return ids
}

func (m *Manager) reapJob(j *Job) {
	if j.state == StateDead {
		return
	}
	exited, code := reap(j.pid, false)
	if !exited {
		return
	}
	m.markDead(j, code)
}

func (m *Manager) markDead(j *Job, code int) {
	j.state = StateDead
	j.exitCode = code
	j.pending = nil
	closeFD(j.stdin)
	j.stdin = -1
	if j.cmd.Process != nil {
		_ = j.cmd.Process.Release()
	}

	m.logger.Debug("job exited", "job", j.id, "token", j.token.String(), "code", code)
	if m.observer != nil {
		m.observer.JobExited(code)
	}
}

// advance moves stopping jobs along: SIGTERM once, then SIGKILL after
// the grace period.
func (m *Manager) advance(j *Job, now time.Time) {
	switch j.state {
	case StateStopRequested:
		closeFD(j.stdin)
		j.stdin = -1
		j.pending = nil
		m.signal(j, unix.SIGTERM)
		j.state = StateTerminating
		if j.killDeadline.IsZero() {
			j.killDeadline = now.Add(m.config.GracePeriod)
		}

	case StateTerminating:
		if !j.killed && !now.Before(j.killDeadline) {
			m.signal(j, unix.SIGKILL)
			j.killed = true
		}
	}
}

func (m *Manager) signal(j *Job, sig unix.Signal) {
	if err := signalGroup(j.pid, sig); err != nil {
		m.logger.Warn("job signal failed", "job", j.id, "signal", unix.SignalName(sig), "error", err)
		return
	}
	m.logger.Debug("job signaled", "job", j.id, "signal", unix.SignalName(sig))
	if m.observer != nil {
		m.observer.JobSignaled(unix.SignalName(sig))
	}
}

type pollTarget struct {
	job    *Job
	stream *stream // nil for stdin
}

// pollPipes runs one readiness check across all jobs, then reads and
// writes whatever is ready.
func (m *Manager) pollPipes() map[int]bool {
	active := make(map[int]bool)

	var fds []unix.PollFd
	var targets []pollTarget

	for _, j := range m.slots {
		if j == nil {
			continue
		}
		for _, s := range []*stream{&j.stdout, &j.stderr} {
			if !s.open() {
				s.done = true
				continue
			}
			if s.buf.Room() > 0 {
				fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN})
				targets = append(targets, pollTarget{job: j, stream: s})
			}
		}
		if j.state == StateRunning && j.stdin >= 0 && len(j.pending) > 0 {
			fds = append(fds, unix.PollFd{Fd: int32(j.stdin), Events: unix.POLLOUT})
			targets = append(targets, pollTarget{job: j})
		}
	}
	if len(fds) == 0 {
		return active
	}

	if _, err := unix.Poll(fds, 0); err != nil {
		if !errors.Is(err, unix.EINTR) {
			m.logger.Warn("job poll failed", "error", err)
		}
		return active
	}

	for i, pfd := range fds {
		t := targets[i]
		if t.stream == nil {
			m.flushStdin(t.job, pfd.Revents)
			continue
		}

		if pfd.Revents == 0 {
			// A dead child with nothing left to read: its descendants may
			// still hold the pipe open, but the stream is over for us.
			// Streams skipped because their buffer is full stay open.
			if t.job.state == StateDead {
				m.closeStream(t.stream)
			}
			continue
		}
		if m.readStream(t.job, t.stream) {
			active[t.job.id] = true
		}
	}
	return active
}

// readStream performs at most one read into the remaining buffer space.
func (m *Manager) readStream(j *Job, s *stream) bool {
	for {
		n, err := unix.Read(s.fd, s.buf.space())
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return false
		case err != nil:
			m.logger.Debug("job read failed", "job", j.id, "stream", s.name, "error", err)
			m.closeStream(s)
			return false
		case n == 0:
			m.closeStream(s)
			return false
		}

		s.buf.commit(n)
		if m.observer != nil {
			m.observer.JobBytesRead(s.name, n)
		}
		return true
	}
}

func (m *Manager) closeStream(s *stream) {
	closeFD(s.fd)
	s.fd = -1
	s.done = true
}

// flushStdin writes pending chunks until the pipe would block.
func (m *Manager) flushStdin(j *Job, revents int16) {
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		m.dropStdin(j)
		return
	}
	if revents&unix.POLLOUT == 0 {
		return
	}

	for len(j.pending) > 0 {
		c := j.pending[0]
		n, err := unix.Write(j.stdin, c.remaining())
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil:
			m.logger.Debug("job stdin write failed", "job", j.id, "error", err)
			m.dropStdin(j)
			return
		}

		c.off += n
		if c.off < len(c.data) {
			// Partial write: the pipe is full.
			return
		}
		j.pending[0] = nil
		j.pending = j.pending[1:]
	}
}

func (m *Manager) dropStdin(j *Job) {
	j.pending = nil
	closeFD(j.stdin)
	j.stdin = -1
}

// release frees the slots of finished jobs.
func (m *Manager) release() {
	freed := false
	for i, j := range m.slots {
		if j != nil && j.finished() {
			m.slots[i] = nil
			freed = true
			m.logger.Debug("job released", "job", j.id)
		}
	}
	if freed && m.observer != nil {
		m.observer.JobsActive(m.Count())
	}
}

// Close terminates every job: SIGTERM, a short grace, SIGKILL for
// survivors, then reap and close all pipes. The manager rejects Spawn
// afterwards.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true

	live := 0
	for _, j := range m.slots {
		if j != nil && j.state != StateDead {
			closeFD(j.stdin)
			j.stdin = -1
			j.pending = nil
			m.signal(j, unix.SIGTERM)
			live++
		}
	}

	if live > 0 {
		deadline := time.Now().Add(m.config.ShutdownGrace)
		for time.Now().Before(deadline) && m.anyLive() {
			time.Sleep(10 * time.Millisecond)
		}
	}

	for i, j := range m.slots {
		if j == nil {
			continue
		}
		if j.state != StateDead {
			m.signal(j, unix.SIGKILL)
			_, code := reap(j.pid, true)
			m.markDead(j, code)
		}
		m.closeStream(&j.stdout)
		m.closeStream(&j.stderr)
		m.slots[i] = nil
	}

	if m.observer != nil {
		m.observer.JobsActive(0)
	}
}

func (m *Manager) anyLive() bool {
	alive := false
	for _, j := range m.slots {
		if j == nil || j.state == StateDead {
			continue
		}
		m.reapJob(j)
		if j.state != StateDead {
			alive = true
		}
	}
	return alive
}

func (m *Manager) lookup(id int) *Job {
	if id <= 0 {
		return nil
	}
	for _, j := range m.slots {
		if j != nil && j.id == id {
			return j
		}
	}
	return nil
}

func (m *Manager) freeSlot() int {
	for i, j := range m.slots {
		if j == nil {
			return i
		}
	}
	return -1
}
