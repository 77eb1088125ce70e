package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/logging"
)

func TestMetrics_QueueObserver(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	q := queue.New(queue.WithObserver(m))
	q.Push(event.NewCustom("a", ""))
	q.Push(event.NewCustom("b", ""))
	q.Push(event.NewJobActivity(1))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPushed.WithLabelValues("Custom")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPushed.WithLabelValues("JobActivity")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))

	_, ok := q.Shift(0)
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsShifted.WithLabelValues("Custom")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth))

	q.Close()
	q.Push(event.NewIdle())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("Idle")))
}

func TestMetrics_JobObserver(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.JobSpawned("a")
	m.JobSpawned("b")
	m.JobSpawnFailed("c")
	m.JobsActive(2)
	m.JobSignaled("SIGTERM")
	m.JobBytesRead("stdout", 10)
	m.JobBytesRead("stdout", 5)
	m.JobExited(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsSpawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.spawnFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobSignals.WithLabelValues("SIGTERM")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.jobBytesRead.WithLabelValues("stdout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobExits))
}

func TestHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.JobSpawned("x")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "evbridge_jobs_spawned_total 1")
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	s, err := Serve("127.0.0.1:0", m, logging.Nop())
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
