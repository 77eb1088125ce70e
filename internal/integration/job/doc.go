// Package job runs child processes with piped stdio and services them from
// the host goroutine without blocking.
//
// A Manager holds a fixed table of jobs. Each Poll makes one pass:
//
//  1. reap children that exited
//  2. send SIGTERM to jobs whose stop was requested, SIGKILL to those past
//     their grace period
//  3. one poll(2) across every open pipe
//  4. read ready output into fixed-size buffers and flush queued stdin
//  5. report one JobActivity event per job that produced output or died
//
// Output buffers never grow: when one is full its pipe is left unread until
// the host calls Drain, so a chatty child blocks on write instead.
//
// Children run in their own process group; signals go to the whole group.
// Job ids increase monotonically and are never reused.
//
// Basic usage:
//
//	m := job.NewManager(job.DefaultConfig(), job.WithNotifier(q))
//	defer m.Close()
//
//	id, err := m.Spawn([]string{"cat"}, "echo")
//	_ = m.Write(id, []byte("hello\n"))
//
//	for _, id := range m.Poll() {
//	    out, _ := m.Drain(id)
//	    fmt.Printf("%s", out.Stdout)
//	}
package job
