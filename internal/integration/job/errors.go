package job

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the job package.
var (
	// ErrResourceExhausted is returned when the job table is full.
	ErrResourceExhausted = errors.New("job table full")

	// ErrNotFound is returned for ids that do not name a live job.
	ErrNotFound = errors.New("job not found")

	// ErrJobStopped is returned when writing to a job that is no longer
	// running. The data would never be delivered.
	ErrJobStopped = errors.New("job is not running")

	// ErrSpawnFailure is wrapped by every SpawnError.
	ErrSpawnFailure = errors.New("job spawn failed")

	// ErrManagerClosed is returned by Spawn after Close.
	ErrManagerClosed = errors.New("job manager is closed")
)

// SpawnError describes a failed Spawn.
type SpawnError struct {
	Name string
	Argv []string
	Op   string // "pipe", "start"
	Err  error
}

// Error implements error.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s [%s]: %s: %v", e.Name, strings.Join(e.Argv, " "), e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailure, e.Err}
}
