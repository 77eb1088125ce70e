// Package lua exposes job control and the event loop to Lua scripts.
//
// A Runtime owns one gopher-lua state with only the base, table, string
// and math libraries opened. Scripts see two modules:
//
//	jobs.start(argv, name)   -> id | nil, err
//	jobs.stop(id)            -> true | nil, err
//	jobs.write(id, data)     -> true | nil, err
//	jobs.list()              -> { {id=, name=, pid=, state=, ...}, ... }
//
//	events.trigger(name, arg)
//	events.on(kind, pattern, fn) -> true | nil, err
//	events.quit()
//
// Handlers registered with events.on are run by Dispatch, which the host
// calls for each event it pulls from the loop. A pattern matches an event
// key exactly, or "*" matches every key. Keys are the custom event name,
// the job name, or the input key (or text).
//
// The state is not safe for concurrent use. Load scripts and Dispatch
// from the host goroutine only.
package lua
