package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/evbridge/internal/logging"
)

func TestWatch_ReportsChanges(t *testing.T) {
	path := writeFile(t, "evbridge.toml", "[jobs]\nmax_jobs = 1\n")

	changed := make(chan string, 4)
	w, err := Watch(path, func(p string) { changed <- p },
		WithWatchDelay(20*time.Millisecond), WithWatchLogger(logging.Nop()))
	require.NoError(t, err)
	defer w.Close()

	abs, _ := filepath.Abs(path)
	assert.Equal(t, abs, w.Path())

	require.NoError(t, os.WriteFile(path, []byte("[jobs]\nmax_jobs = 2\n"), 0o644))

	select {
	case got := <-changed:
		assert.Equal(t, abs, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	path := writeFile(t, "evbridge.toml", "")

	var calls atomic.Int32
	w, err := Watch(path, func(string) { calls.Add(1) },
		WithWatchDelay(10*time.Millisecond), WithWatchLogger(logging.Nop()))
	require.NoError(t, err)
	defer w.Close()

	other := filepath.Join(filepath.Dir(path), "other.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatch_DebouncesBursts(t *testing.T) {
	path := writeFile(t, "evbridge.yaml", "")

	var calls atomic.Int32
	w, err := Watch(path, func(string) { calls.Add(1) },
		WithWatchDelay(100*time.Millisecond), WithWatchLogger(logging.Nop()))
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatch_CloseTwice(t *testing.T) {
	path := writeFile(t, "evbridge.toml", "")
	w, err := Watch(path, func(string) {}, WithWatchLogger(logging.Nop()))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
}
