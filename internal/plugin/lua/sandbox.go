package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/evbridge/internal/logging"
)

// unsafeGlobals can load code from disk or from strings, bypassing the
// library set chosen by openSafeLibraries.
var unsafeGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// sandbox removes the unsafe globals and routes print to logger.
func sandbox(L *lua.LState, logger *logging.Logger) {
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Info("lua print", "text", strings.Join(parts, "\t"))
		return 0
	}))
}
