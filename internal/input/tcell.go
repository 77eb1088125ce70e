package input

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/evbridge/internal/event"
)

// TcellReader reads decoded key and mouse events from a tcell screen.
//
// tcell delivers events from its own goroutine; TcellReader only bounds
// how long the caller waits for the next one.
type TcellReader struct {
	screen tcell.Screen
	events chan tcell.Event
	quit   chan struct{}
	once   sync.Once
}

// NewTcellReader initializes screen (or a new default screen when nil) and
// starts forwarding its events.
func NewTcellReader(screen tcell.Screen) (*TcellReader, error) {
	if screen == nil {
		s, err := tcell.NewScreen()
		if err != nil {
			return nil, fmt.Errorf("tcell reader: %w", err)
		}
		screen = s
	}

	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("tcell reader: init: %w", err)
	}
	screen.EnableMouse()
	screen.EnablePaste()

	r := &TcellReader{
		screen: screen,
		events: make(chan tcell.Event, 64),
		quit:   make(chan struct{}),
	}
	go screen.ChannelEvents(r.events, r.quit)
	return r, nil
}

// Screen returns the underlying screen, for hosts that also draw on it.
func (r *TcellReader) Screen() tcell.Screen {
	return r.screen
}

// ReadInput implements Reader. Events that carry no input (resize, focus,
// paste markers) are consumed and reported as no input.
func (r *TcellReader) ReadInput(timeout time.Duration) (*event.Input, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	if timeout == 0 {
		select {
		case ev, ok := <-r.events:
			return r.convert(ev, ok)
		default:
			return nil, nil
		}
	}

	select {
	case ev, ok := <-r.events:
		return r.convert(ev, ok)
	case <-expired:
		return nil, nil
	}
}

func (r *TcellReader) convert(ev tcell.Event, ok bool) (*event.Input, error) {
	if !ok {
		return nil, io.EOF
	}
	return convertTcellEvent(ev), nil
}

// Close stops event delivery and restores the terminal.
func (r *TcellReader) Close() error {
	r.once.Do(func() {
		close(r.quit)
		r.screen.Fini()
	})
	return nil
}

func convertTcellEvent(ev tcell.Event) *event.Input {
	switch e := ev.(type) {
	case *tcell.EventKey:
		in := &event.Input{
			Key: e.Name(),
			Mod: convertTcellMod(e.Modifiers()),
		}
		if e.Key() == tcell.KeyRune {
			in.Rune = e.Rune()
			in.Bytes = []byte(string(e.Rune()))
		} else if e.Key() < tcell.KeyRune && e.Key() >= 0 {
			// Control keys keep their byte value so byte-oriented hosts
			// see the same thing a raw tty would deliver.
			in.Bytes = []byte{byte(e.Key())}
		}
		return in

	case *tcell.EventMouse:
		x, y := e.Position()
		return &event.Input{
			Key:      "Mouse",
			Mod:      convertTcellMod(e.Modifiers()),
			MouseRow: y,
			MouseCol: x,
		}

	default:
		return nil
	}
}

func convertTcellMod(m tcell.ModMask) event.Mod {
	var result event.Mod
	if m&tcell.ModShift != 0 {
		result |= event.ModShift
	}
	if m&tcell.ModCtrl != 0 {
		result |= event.ModCtrl
	}
	if m&tcell.ModAlt != 0 {
		result |= event.ModAlt
	}
	if m&tcell.ModMeta != 0 {
		result |= event.ModMeta
	}
	return result
}
