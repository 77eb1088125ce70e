package event

import "time"

// Input is one unit of host input.
//
// Byte-oriented readers fill Bytes only. Terminal readers that decode keys
// also set Key, Rune, Mod and, for mouse events, MouseRow and MouseCol.
type Input struct {
	Bytes    []byte
	Key      string
	Rune     rune
	Mod      Mod
	MouseRow int
	MouseCol int

	// EOF is set once, when the input source is exhausted.
	EOF bool
}

// Text returns the input as a string, preferring raw bytes.
func (in *Input) Text() string {
	if in == nil {
		return ""
	}
	if len(in.Bytes) > 0 {
		return string(in.Bytes)
	}
	if in.Rune != 0 {
		return string(in.Rune)
	}
	return ""
}

// Event is a tagged payload delivered to the host.
// Only the fields matching Kind are meaningful.
type Event struct {
	Kind Kind

	// Input is set for KindUserInput.
	Input *Input

	// Name and Arg are set for KindCustom.
	Name string
	Arg  string

	// JobID is set for KindJobActivity.
	JobID int

	// Call is set for KindDeferredCall.
	Call func()

	// Time is when the event was created.
	Time time.Time
}

// NewUserInput creates a UserInput event.
func NewUserInput(in *Input) Event {
	return Event{Kind: KindUserInput, Input: in, Time: time.Now()}
}

// NewCustom creates a Custom event.
func NewCustom(name, arg string) Event {
	return Event{Kind: KindCustom, Name: name, Arg: arg, Time: time.Now()}
}

// NewJobActivity creates a JobActivity event for one job.
func NewJobActivity(jobID int) Event {
	return Event{Kind: KindJobActivity, JobID: jobID, Time: time.Now()}
}

// NewDeferredCall creates a DeferredCall event.
func NewDeferredCall(fn func()) Event {
	return Event{Kind: KindDeferredCall, Call: fn, Time: time.Now()}
}

// NewIdle creates an Idle event.
func NewIdle() Event {
	return Event{Kind: KindIdle, Time: time.Now()}
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.Kind == KindNone
}
