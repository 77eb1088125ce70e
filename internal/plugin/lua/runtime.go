package lua

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
)

// MatchAll is the pattern that matches every key.
const MatchAll = "*"

// Jobs is the job control surface scripts can drive. *job.Manager
// implements it.
type Jobs interface {
	Spawn(argv []string, name string) (int, error)
	Stop(id int) error
	Write(id int, data []byte) error
	List() []job.Info
}

// Events is the loop surface scripts can drive.
type Events interface {
	Trigger(name, arg string)
	Quit()
}

type handler struct {
	pattern string
	fn      *lua.LFunction
}

// Runtime binds a Lua state to a job manager and the host loop.
type Runtime struct {
	state  *State
	jobs   Jobs
	events Events
	logger *logging.Logger

	mu       sync.Mutex
	handlers map[event.Kind][]handler
}

// Option configures a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger *logging.Logger
	state  []StateOption
}

// WithLogger sets the runtime's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *runtimeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStateOptions passes options through to NewState.
func WithStateOptions(opts ...StateOption) Option {
	return func(o *runtimeOptions) {
		o.state = append(o.state, opts...)
	}
}

// NewRuntime creates a sandboxed state with the jobs and events modules
// installed.
func NewRuntime(jobs Jobs, events Events, opts ...Option) (*Runtime, error) {
	o := runtimeOptions{logger: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithComponent("lua")

	state, err := NewState(append([]StateOption{WithStateLogger(logger)}, o.state...)...)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		state:    state,
		jobs:     jobs,
		events:   events,
		logger:   logger,
		handlers: make(map[event.Kind][]handler),
	}
	state.RegisterModule("jobs", map[string]lua.LGFunction{
		"start": r.jobsStart,
		"stop":  r.jobsStop,
		"write": r.jobsWrite,
		"list":  r.jobsList,
	})
	state.RegisterModule("events", map[string]lua.LGFunction{
		"trigger": r.eventsTrigger,
		"on":      r.eventsOn,
		"quit":    r.eventsQuit,
	})
	return r, nil
}

// LoadFile runs a script file.
func (r *Runtime) LoadFile(path string) error {
	if err := r.state.DoFile(path); err != nil {
		return fmt.Errorf("load script %s: %w", path, err)
	}
	r.logger.Info("script loaded", "path", path, "handlers", r.HandlerCount())
	return nil
}

// LoadString runs a script chunk.
func (r *Runtime) LoadString(code string) error {
	return r.state.DoString(code)
}

// HandlerCount returns the number of registered handlers.
func (r *Runtime) HandlerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

// Dispatch runs the handlers matching ev. For JobActivity events out must
// hold the output drained for ev.JobID; it is ignored otherwise.
//
// Every matching handler runs even if an earlier one fails; the errors
// are joined. The number of handlers run is returned.
func (r *Runtime) Dispatch(ev event.Event, out *job.Output) (int, error) {
	if r.state.IsClosed() {
		return 0, ErrStateClosed
	}

	var (
		key  string
		args func(L *lua.LState) []lua.LValue
	)
	switch ev.Kind {
	case event.KindUserInput:
		key = ev.Input.Text()
		if ev.Input != nil && ev.Input.Key != "" {
			key = ev.Input.Key
		}
		args = func(L *lua.LState) []lua.LValue {
			return []lua.LValue{inputTable(L, ev.Input)}
		}
	case event.KindCustom:
		key = ev.Name
		args = func(*lua.LState) []lua.LValue {
			return []lua.LValue{lua.LString(ev.Name), lua.LString(ev.Arg)}
		}
	case event.KindJobActivity:
		if out == nil {
			return 0, nil
		}
		key = out.Name
		args = func(L *lua.LState) []lua.LValue {
			return []lua.LValue{outputTable(L, *out)}
		}
	case event.KindIdle:
		args = func(*lua.LState) []lua.LValue { return nil }
	default:
		return 0, nil
	}

	r.mu.Lock()
	matched := make([]handler, 0, len(r.handlers[ev.Kind]))
	for _, h := range r.handlers[ev.Kind] {
		if h.pattern == MatchAll || h.pattern == key {
			matched = append(matched, h)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range matched {
		if err := r.state.CallFunction(h.fn, args(r.state.L)...); err != nil {
			r.logger.Warn("handler failed", "kind", ev.Kind.String(), "pattern", h.pattern, "error", err)
			errs = append(errs, err)
		}
	}
	return len(matched), errors.Join(errs...)
}

// Close releases the Lua state.
func (r *Runtime) Close() error {
	return r.state.Close()
}

// pushError returns the Lua-style failure pair (nil, message).
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func (r *Runtime) jobsStart(L *lua.LState) int {
	argv, err := toStringList(L.CheckTable(1))
	if err != nil {
		return pushError(L, err)
	}
	id, err := r.jobs.Spawn(argv, L.OptString(2, ""))
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (r *Runtime) jobsStop(L *lua.LState) int {
	if err := r.jobs.Stop(L.CheckInt(1)); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (r *Runtime) jobsWrite(L *lua.LState) int {
	if err := r.jobs.Write(L.CheckInt(1), []byte(L.CheckString(2))); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (r *Runtime) jobsList(L *lua.LState) int {
	infos := r.jobs.List()
	t := L.CreateTable(len(infos), 0)
	for _, info := range infos {
		t.Append(infoTable(L, info))
	}
	L.Push(t)
	return 1
}

func (r *Runtime) eventsTrigger(L *lua.LState) int {
	name := L.CheckString(1)
	arg := ""
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		arg = L.ToStringMeta(L.Get(2)).String()
	}
	r.events.Trigger(name, arg)
	return 0
}

func (r *Runtime) eventsOn(L *lua.LState) int {
	name := L.CheckString(1)
	pattern := L.CheckString(2)
	fn := L.CheckFunction(3)

	kind, ok := event.ParseKind(name)
	if !ok || kind == event.KindDeferredCall {
		return pushError(L, fmt.Errorf("%w: %q", ErrUnknownKind, name))
	}

	r.mu.Lock()
	r.handlers[kind] = append(r.handlers[kind], handler{pattern: pattern, fn: fn})
	r.mu.Unlock()

	r.logger.Debug("handler registered", "kind", kind.String(), "pattern", pattern)
	L.Push(lua.LTrue)
	return 1
}

func (r *Runtime) eventsQuit(L *lua.LState) int {
	r.events.Quit()
	return 0
}
