package job

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// pipePair is one child stdio pipe. parent is a raw non-blocking fd kept
// by the manager; child is handed to the child process and closed in the
// parent once the child has started.
type pipePair struct {
	parent int
	child  *os.File
}

// newPipe creates a close-on-exec pipe. When childReads is true the child
// gets the read end (stdin); otherwise it gets the write end.
func newPipe(childReads bool, name string) (pipePair, error) {
	var p [2]int

	// Hold ForkLock so a concurrent fork cannot inherit the fds before
	// close-on-exec is set.
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return pipePair{parent: -1}, err
	}

	parentFD, childFD := p[0], p[1]
	if childReads {
		parentFD, childFD = p[1], p[0]
	}

	if err := unix.SetNonblock(parentFD, true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return pipePair{parent: -1}, err
	}

	return pipePair{parent: parentFD, child: os.NewFile(uintptr(childFD), name)}, nil
}

func (p pipePair) closeAll() {
	closeFD(p.parent)
	if p.child != nil {
		_ = p.child.Close()
	}
}

func closeFD(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}

// newCommand builds the child command in its own process group so that
// group signals reach its descendants too.
func newCommand(argv []string, stdin, stdout, stderr *os.File) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// signalGroup delivers sig to the child's process group. ESRCH means the
// group is already gone.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// reap collects the child's exit status. It reports false while the child
// is still running. Signal deaths map to 128+signo, as shells report them.
func reap(pid int, block bool) (exited bool, code int) {
	var ws unix.WaitStatus
	flags := unix.WNOHANG
	if block {
		flags = 0
	}

	for {
		wpid, err := unix.Wait4(pid, &ws, flags, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// ECHILD: someone else reaped it. The status is lost.
			return true, -1
		}
		if wpid == 0 {
			return false, 0
		}
		break
	}

	switch {
	case ws.Exited():
		return true, ws.ExitStatus()
	case ws.Signaled():
		return true, 128 + int(ws.Signal())
	default:
		return true, -1
	}
}
