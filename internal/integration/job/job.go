package job

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// State is a job's lifecycle position. Transitions only move forward.
type State int

const (
	// StateRunning is a live child accepting input.
	StateRunning State = iota
	// StateStopRequested means Stop was called; the next Poll signals the child.
	StateStopRequested
	// StateTerminating means SIGTERM was sent and the kill deadline is armed.
	StateTerminating
	// StateDead means the child has been reaped.
	StateDead
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Stream names used in metrics and logs.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Info is a snapshot of one job.
type Info struct {
	ID       int
	Token    string
	Name     string
	Argv     []string
	PID      int
	State    State
	Started  time.Time
	Exited   bool
	ExitCode int

	// Buffered byte counts and bytes still queued for stdin.
	Stdout  int
	Stderr  int
	Pending int
}

// Output is what Drain hands to the host: everything buffered since the
// previous drain, plus the exit status once the child is dead.
type Output struct {
	ID       int
	Name     string
	Stdout   []byte
	Stderr   []byte
	Exited   bool
	ExitCode int
}

// chunk is one pending stdin write. off advances on partial writes.
type chunk struct {
	data []byte
	off  int
}

func (c *chunk) remaining() []byte { return c.data[c.off:] }

// stream is the parent's end of one child output pipe.
type stream struct {
	name string
	fd   int // -1 once closed
	buf  *Buffer
	done bool
}

func (s *stream) open() bool { return s.fd >= 0 }

// Job is one slot in the table. All fields are owned by the host goroutine.
type Job struct {
	id      int
	token   uuid.UUID
	name    string
	argv    []string
	cmd     *exec.Cmd
	pid     int
	started time.Time

	state        State
	killDeadline time.Time
	killed       bool

	stdin   int // -1 once closed
	pending []*chunk
	stdout  stream
	stderr  stream

	exitCode      int
	exitDelivered bool
	deathNotified bool
}

func (j *Job) info() Info {
	return Info{
		ID:       j.id,
		Token:    j.token.String(),
		Name:     j.name,
		Argv:     append([]string(nil), j.argv...),
		PID:      j.pid,
		State:    j.state,
		Started:  j.started,
		Exited:   j.state == StateDead,
		ExitCode: j.exitCode,
		Stdout:   j.stdout.buf.Len(),
		Stderr:   j.stderr.buf.Len(),
		Pending:  j.pendingBytes(),
	}
}

func (j *Job) pendingBytes() int {
	n := 0
	for _, c := range j.pending {
		n += len(c.remaining())
	}
	return n
}

// finished reports whether the slot can be freed.
func (j *Job) finished() bool {
	return j.state == StateDead &&
		j.stdout.done && j.stderr.done &&
		j.stdout.buf.Len() == 0 && j.stderr.buf.Len() == 0 &&
		j.exitDelivered
}
