package lua

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
)

type fakeJobs struct {
	mu      sync.Mutex
	spawned [][]string
	names   []string
	stopped []int
	written map[int]string
	infos   []job.Info
	err     error
}

func (f *fakeJobs) Spawn(argv []string, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.spawned = append(f.spawned, argv)
	f.names = append(f.names, name)
	return len(f.spawned), nil
}

func (f *fakeJobs) Stop(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeJobs) Write(id int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.written == nil {
		f.written = make(map[int]string)
	}
	f.written[id] += string(data)
	return nil
}

func (f *fakeJobs) List() []job.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos
}

type fakeEvents struct {
	triggered []event.Event
	quits     int
}

func (f *fakeEvents) Trigger(name, arg string) {
	f.triggered = append(f.triggered, event.NewCustom(name, arg))
}

func (f *fakeEvents) Quit() { f.quits++ }

func newTestRuntime(t *testing.T, jobs Jobs) (*Runtime, *fakeEvents) {
	t.Helper()
	ev := &fakeEvents{}
	r, err := NewRuntime(jobs, ev, WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, ev
}

func global(t *testing.T, r *Runtime, name string) glua.LValue {
	t.Helper()
	return r.state.GetGlobal(name)
}

func TestRuntime_JobsModule(t *testing.T) {
	jobs := &fakeJobs{infos: []job.Info{
		{ID: 1, Name: "build", Argv: []string{"make"}, PID: 42, State: job.StateRunning},
		{ID: 2, Name: "done", Argv: []string{"true"}, State: job.StateDead, ExitCode: 3},
	}}
	r, _ := newTestRuntime(t, jobs)

	require.NoError(t, r.LoadString(`
		id = jobs.start({"sh", "-c", "echo", 7}, "build")
		ok_stop = jobs.stop(id)
		ok_write = jobs.write(id, "hello\n")
		list = jobs.list()
		n = #list
		first_name = list[1].name
		first_state = list[1].state
		first_argv = list[1].argv[1]
		second_exit = list[2].exit_code
		first_exit = list[1].exit_code
	`))

	assert.Equal(t, glua.LNumber(1), global(t, r, "id"))
	assert.Equal(t, glua.LTrue, global(t, r, "ok_stop"))
	assert.Equal(t, glua.LTrue, global(t, r, "ok_write"))
	assert.Equal(t, glua.LNumber(2), global(t, r, "n"))
	assert.Equal(t, glua.LString("build"), global(t, r, "first_name"))
	assert.Equal(t, glua.LString("running"), global(t, r, "first_state"))
	assert.Equal(t, glua.LString("make"), global(t, r, "first_argv"))
	assert.Equal(t, glua.LNumber(3), global(t, r, "second_exit"))
	assert.Equal(t, glua.LNil, global(t, r, "first_exit"), "exit code only for dead jobs")

	assert.Equal(t, [][]string{{"sh", "-c", "echo", "7"}}, jobs.spawned)
	assert.Equal(t, []string{"build"}, jobs.names)
	assert.Equal(t, []int{1}, jobs.stopped)
	assert.Equal(t, "hello\n", jobs.written[1])
}

func TestRuntime_JobErrorsAreValues(t *testing.T) {
	jobs := &fakeJobs{err: job.ErrResourceExhausted}
	r, _ := newTestRuntime(t, jobs)

	require.NoError(t, r.LoadString(`
		id, err = jobs.start({"cat"})
		ok, stop_err = jobs.stop(9)
		bad, argv_err = jobs.start({[1]="a", x="b"})
	`))

	assert.Equal(t, glua.LNil, global(t, r, "id"))
	assert.Contains(t, global(t, r, "err").String(), job.ErrResourceExhausted.Error())
	assert.Equal(t, glua.LNil, global(t, r, "ok"))
	assert.NotEqual(t, glua.LNil, global(t, r, "stop_err"))
	assert.Equal(t, glua.LNil, global(t, r, "bad"))
	assert.Contains(t, global(t, r, "argv_err").String(), "sequence")
}

func TestRuntime_ArgumentErrorsRaise(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})
	err := r.LoadString(`jobs.start("not a table")`)
	assert.Error(t, err)
}

func TestRuntime_TriggerAndQuit(t *testing.T) {
	r, ev := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		events.trigger("ping", 42)
		events.trigger("bare")
		events.quit()
	`))

	require.Len(t, ev.triggered, 2)
	assert.Equal(t, "ping", ev.triggered[0].Name)
	assert.Equal(t, "42", ev.triggered[0].Arg)
	assert.Equal(t, "bare", ev.triggered[1].Name)
	assert.Empty(t, ev.triggered[1].Arg)
	assert.Equal(t, 1, ev.quits)
}

func TestRuntime_DispatchCustom(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		exact, any = {}, 0
		events.on("Custom", "ping", function(name, arg) table.insert(exact, arg) end)
		events.on("Custom", "*", function() any = any + 1 end)
	`))
	assert.Equal(t, 2, r.HandlerCount())

	n, err := r.Dispatch(event.NewCustom("ping", "a"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Dispatch(event.NewCustom("pong", "b"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.LoadString(`exact_n = #exact; exact_1 = exact[1]`))
	assert.Equal(t, glua.LNumber(1), global(t, r, "exact_n"))
	assert.Equal(t, glua.LString("a"), global(t, r, "exact_1"))
	assert.Equal(t, glua.LNumber(2), global(t, r, "any"))
}

func TestRuntime_DispatchJobActivity(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		events.on("JobActivity", "build", function(out)
			got_id, got_out, got_exited, got_code = out.id, out.stdout, out.exited, out.exit_code
		end)
	`))

	out := job.Output{ID: 4, Name: "build", Stdout: []byte("ok\n"), Exited: true, ExitCode: 0}
	n, err := r.Dispatch(event.NewJobActivity(4), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, glua.LNumber(4), global(t, r, "got_id"))
	assert.Equal(t, glua.LString("ok\n"), global(t, r, "got_out"))
	assert.Equal(t, glua.LTrue, global(t, r, "got_exited"))
	assert.Equal(t, glua.LNumber(0), global(t, r, "got_code"))

	other := job.Output{ID: 5, Name: "lint"}
	n, err = r.Dispatch(event.NewJobActivity(5), &other)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.Dispatch(event.NewJobActivity(4), nil)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing drained")
}

func TestRuntime_DispatchInputAndIdle(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		keys, idles = {}, 0
		events.on("UserInput", "*", function(in_) table.insert(keys, in_.text) end)
		events.on("UserInput", "Enter", function(in_) enter_key = in_.key end)
		events.on("Idle", "*", function() idles = idles + 1 end)
	`))

	_, err := r.Dispatch(event.NewUserInput(&event.Input{Bytes: []byte("q")}), nil)
	require.NoError(t, err)
	n, err := r.Dispatch(event.NewUserInput(&event.Input{Key: "Enter", Rune: '\r'}), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = r.Dispatch(event.NewIdle(), nil)
	require.NoError(t, err)

	n, err = r.Dispatch(event.NewDeferredCall(func() {}), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.LoadString(`first_key = keys[1]`))
	assert.Equal(t, glua.LString("q"), global(t, r, "first_key"))
	assert.Equal(t, glua.LString("Enter"), global(t, r, "enter_key"))
	assert.Equal(t, glua.LNumber(1), global(t, r, "idles"))
}

func TestRuntime_OnRejectsUnknownKind(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		ok, err = events.on("Tick", "*", function() end)
		ok2, err2 = events.on("DeferredCall", "*", function() end)
	`))
	assert.Equal(t, glua.LNil, global(t, r, "ok"))
	assert.Contains(t, global(t, r, "err").String(), ErrUnknownKind.Error())
	assert.Equal(t, glua.LNil, global(t, r, "ok2"))
	assert.Zero(t, r.HandlerCount())
}

func TestRuntime_HandlerErrorsAreJoined(t *testing.T) {
	r, _ := newTestRuntime(t, &fakeJobs{})

	require.NoError(t, r.LoadString(`
		ran = 0
		events.on("Custom", "*", function() error("boom") end)
		events.on("Custom", "*", function() ran = ran + 1 end)
	`))

	n, err := r.Dispatch(event.NewCustom("x", ""), nil)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, glua.LNumber(1), global(t, r, "ran"))
}

func TestRuntime_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.lua")
	require.NoError(t, os.WriteFile(path, []byte(`events.on("Idle", "*", function() end)`), 0o644))

	r, _ := newTestRuntime(t, &fakeJobs{})
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, 1, r.HandlerCount())

	err := r.LoadFile(filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}

func TestRuntime_RealJobRoundTrip(t *testing.T) {
	m := job.NewManager(job.Config{}, job.WithLogger(logging.Nop()))
	t.Cleanup(m.Close)
	r, _ := newTestRuntime(t, m)

	require.NoError(t, r.LoadString(`
		id = jobs.start({"sh", "-c", "printf lua"}, "from-lua")
		events.on("JobActivity", "from-lua", function(out) got = (got or "") .. out.stdout end)
	`))
	id := int(global(t, r, "id").(glua.LNumber))
	require.Positive(t, id)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ready := range m.Poll() {
			out, err := m.Drain(ready)
			require.NoError(t, err)
			_, err = r.Dispatch(event.NewJobActivity(ready), &out)
			require.NoError(t, err)
		}
		if global(t, r, "got").String() == "lua" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "lua", global(t, r, "got").String())
}

func TestState_Sandbox(t *testing.T) {
	s, err := NewState(WithStateLogger(logging.Nop()))
	require.NoError(t, err)
	defer s.Close()

	for _, name := range []string{"io", "os", "debug", "package", "dofile", "loadfile", "load", "loadstring", "require"} {
		assert.Equal(t, glua.LNil, s.GetGlobal(name), name)
	}
	require.NoError(t, s.DoString(`print("hello", 1)`))
	require.NoError(t, s.DoString(`x = string.upper("a") .. math.floor(1.5)`))
	assert.Equal(t, glua.LString("A1"), s.GetGlobal("x"))
}

func TestState_ExecutionTimeout(t *testing.T) {
	s, err := NewState(WithStateLogger(logging.Nop()), WithExecutionTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	err = s.DoString(`while true do end`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutionTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)

	// The state stays usable.
	require.NoError(t, s.DoString(`y = 1`))
}

func TestState_Closed(t *testing.T) {
	s, err := NewState(WithStateLogger(logging.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.DoString(`x = 1`), ErrStateClosed)
	assert.Equal(t, glua.LNil, s.GetGlobal("x"))
}
