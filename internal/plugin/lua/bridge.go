package lua

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/integration/job"
)

// toStringList converts an array table of strings (or numbers) to a slice.
// Non-sequential keys are rejected so argv cannot silently lose entries.
func toStringList(t *lua.LTable) ([]string, error) {
	n := t.Len()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		switch v := t.RawGetInt(i).(type) {
		case lua.LString:
			out = append(out, string(v))
		case lua.LNumber:
			out = append(out, v.String())
		default:
			return nil, fmt.Errorf("argv[%d] is %s, want string", i, v.Type())
		}
	}

	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })
	if count != n {
		return nil, errors.New("argv must be a sequence")
	}
	return out, nil
}

func stringListTable(L *lua.LState, s []string) *lua.LTable {
	t := L.CreateTable(len(s), 0)
	for _, v := range s {
		t.Append(lua.LString(v))
	}
	return t
}

// infoTable converts a job snapshot for jobs.list.
func infoTable(L *lua.LState, info job.Info) *lua.LTable {
	t := L.CreateTable(0, 10)
	t.RawSetString("id", lua.LNumber(info.ID))
	t.RawSetString("name", lua.LString(info.Name))
	t.RawSetString("token", lua.LString(info.Token))
	t.RawSetString("pid", lua.LNumber(info.PID))
	t.RawSetString("state", lua.LString(info.State.String()))
	t.RawSetString("argv", stringListTable(L, info.Argv))
	t.RawSetString("stdout", lua.LNumber(info.Stdout))
	t.RawSetString("stderr", lua.LNumber(info.Stderr))
	t.RawSetString("pending", lua.LNumber(info.Pending))
	if info.State == job.StateDead {
		t.RawSetString("exit_code", lua.LNumber(info.ExitCode))
	}
	return t
}

// outputTable converts drained job output for JobActivity handlers.
func outputTable(L *lua.LState, out job.Output) *lua.LTable {
	t := L.CreateTable(0, 6)
	t.RawSetString("id", lua.LNumber(out.ID))
	t.RawSetString("name", lua.LString(out.Name))
	t.RawSetString("stdout", lua.LString(out.Stdout))
	t.RawSetString("stderr", lua.LString(out.Stderr))
	t.RawSetString("exited", lua.LBool(out.Exited))
	if out.Exited {
		t.RawSetString("exit_code", lua.LNumber(out.ExitCode))
	}
	return t
}

// inputTable converts one unit of user input for UserInput handlers.
func inputTable(L *lua.LState, in *event.Input) *lua.LTable {
	t := L.CreateTable(0, 7)
	if in == nil {
		return t
	}
	t.RawSetString("text", lua.LString(in.Text()))
	t.RawSetString("key", lua.LString(in.Key))
	t.RawSetString("mod", lua.LNumber(in.Mod))
	t.RawSetString("eof", lua.LBool(in.EOF))
	if in.Rune != 0 {
		t.RawSetString("rune", lua.LString(string(in.Rune)))
	}
	if in.MouseRow != 0 || in.MouseCol != 0 {
		t.RawSetString("row", lua.LNumber(in.MouseRow))
		t.RawSetString("col", lua.LNumber(in.MouseCol))
	}
	return t
}
