package input

import (
	"io"
	"sync"
	"time"

	"github.com/dshills/evbridge/internal/event"
)

// Reader is a bounded host-input primitive.
//
// ReadInput waits at most timeout for input. It returns (nil, nil) when
// nothing arrived in time and io.EOF once the source is exhausted. A
// timeout of 0 polls without waiting.
//
// Readers are only ever called by whoever holds the IOGate, so an
// implementation never sees concurrent calls.
type Reader interface {
	ReadInput(timeout time.Duration) (*event.Input, error)
}

// ChanReader is a Reader fed programmatically. It is useful for embedding
// hosts whose input arrives from another subsystem, and for tests.
type ChanReader struct {
	ch        chan *event.Input
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChanReader creates a ChanReader buffering up to size pending inputs.
func NewChanReader(size int) *ChanReader {
	if size < 0 {
		size = 0
	}
	return &ChanReader{
		ch:     make(chan *event.Input, size),
		closed: make(chan struct{}),
	}
}

// Send queues one input. It blocks while the buffer is full and returns
// false if the reader was closed.
func (r *ChanReader) Send(in *event.Input) bool {
	select {
	case <-r.closed:
		return false
	default:
	}

	select {
	case r.ch <- in:
		return true
	case <-r.closed:
		return false
	}
}

// SendString queues text as a byte input.
func (r *ChanReader) SendString(s string) bool {
	return r.Send(&event.Input{Bytes: []byte(s)})
}

// Close marks the source exhausted. Pending inputs are still delivered
// before ReadInput reports io.EOF.
func (r *ChanReader) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// ReadInput implements Reader.
func (r *ChanReader) ReadInput(timeout time.Duration) (*event.Input, error) {
	select {
	case in := <-r.ch:
		return in, nil
	default:
	}

	var expired <-chan time.Time
	switch {
	case timeout == 0:
		return r.drained()
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case in := <-r.ch:
		return in, nil
	case <-r.closed:
		return r.drained()
	case <-expired:
		return nil, nil
	}
}

func (r *ChanReader) drained() (*event.Input, error) {
	select {
	case in := <-r.ch:
		return in, nil
	default:
	}
	select {
	case <-r.closed:
		return nil, io.EOF
	default:
		return nil, nil
	}
}
