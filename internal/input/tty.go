package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/dshills/evbridge/internal/event"
)

// TTYReader reads raw bytes from a file descriptor, normally stdin.
//
// Each ReadInput is one poll(2) bounded by the timeout followed by at most
// one read(2), so a call never blocks longer than its slice.
type TTYReader struct {
	file     *os.File
	fd       int
	raw      bool
	oldState *term.State
	buf      []byte
}

// TTYOption configures a TTYReader.
type TTYOption func(*TTYReader)

// WithRawMode puts the terminal into raw mode for the reader's lifetime.
// It has no effect when the file is not a terminal.
func WithRawMode(raw bool) TTYOption {
	return func(r *TTYReader) {
		r.raw = raw
	}
}

// WithReadSize sets the maximum bytes returned by one ReadInput.
func WithReadSize(n int) TTYOption {
	return func(r *TTYReader) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// NewTTYReader creates a reader on f.
func NewTTYReader(f *os.File, opts ...TTYOption) (*TTYReader, error) {
	if f == nil {
		return nil, errors.New("tty reader: nil file")
	}

	r := &TTYReader{
		file: f,
		fd:   int(f.Fd()),
		buf:  make([]byte, 256),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.raw && term.IsTerminal(r.fd) {
		st, err := term.MakeRaw(r.fd)
		if err != nil {
			return nil, fmt.Errorf("tty reader: raw mode: %w", err)
		}
		r.oldState = st
	}

	return r, nil
}

// ReadInput implements Reader.
func (r *TTYReader) ReadInput(timeout time.Duration) (*event.Input, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("tty reader: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	revents := fds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		// The descriptor was closed under us; there is nothing more to read.
		return nil, io.EOF
	}
	if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
		return nil, nil
	}

	count, err := unix.Read(r.fd, r.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("tty reader: read: %w", err)
	}
	if count == 0 {
		return nil, io.EOF
	}

	return decodeBytes(append([]byte(nil), r.buf[:count]...)), nil
}

// Close restores the terminal state. It does not close the file.
func (r *TTYReader) Close() error {
	if r.oldState == nil {
		return nil
	}
	err := term.Restore(r.fd, r.oldState)
	r.oldState = nil
	return err
}

// decodeBytes names single control bytes and single runes. Longer
// sequences (escape sequences, pastes) are passed through as bytes.
func decodeBytes(b []byte) *event.Input {
	in := &event.Input{Bytes: b}

	if len(b) == 1 {
		c := b[0]
		switch {
		case c == 0x1b:
			in.Key = "Esc"
		case c == '\r' || c == '\n':
			in.Key = "Enter"
		case c == '\t':
			in.Key = "Tab"
		case c == 0x7f:
			in.Key = "Backspace"
		case c < 0x20:
			in.Key = "Ctrl+" + string(rune('@'+c))
			in.Mod = event.ModCtrl
		}
	}

	if in.Key == "" {
		if r, size := utf8.DecodeRune(b); r != utf8.RuneError && size == len(b) {
			in.Rune = r
		}
	}
	return in
}
