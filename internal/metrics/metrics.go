// Package metrics exposes evbridge activity as Prometheus metrics.
//
// Metrics implements the queue and job observer interfaces, so wiring is a
// matter of passing it to queue.WithObserver and job.WithObserver.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/integration/job"
)

// Namespace prefixes every metric name.
const Namespace = "evbridge"

// Metrics holds the evbridge collectors and the registry they live in.
type Metrics struct {
	registry *prom.Registry

	eventsPushed  *prom.CounterVec
	eventsShifted *prom.CounterVec
	eventsDropped *prom.CounterVec
	queueDepth    prom.Gauge
	jobsSpawned   prom.Counter
	spawnFailures prom.Counter
	jobsActive    prom.Gauge
	jobSignals    *prom.CounterVec
	jobBytesRead  *prom.CounterVec
	jobExits      prom.Counter
}

var (
	_ queue.Observer = (*Metrics)(nil)
	_ job.Observer   = (*Metrics)(nil)
)

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() (*Metrics, error) {
	reg := prom.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsPushed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "events_pushed_total",
			Help:      "Events pushed onto the queue.",
		}, []string{"kind"}),
		eventsShifted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "events_shifted_total",
			Help:      "Events taken off the queue by the host.",
		}, []string{"kind"}),
		eventsDropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Events pushed after the queue was closed.",
		}, []string{"kind"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Events waiting in the queue.",
		}),
		jobsSpawned: prom.NewCounter(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_spawned_total",
			Help:      "Jobs started.",
		}),
		spawnFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "job_spawn_failures_total",
			Help:      "Job starts that failed.",
		}),
		jobsActive: prom.NewGauge(prom.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_active",
			Help:      "Occupied job table slots.",
		}),
		jobSignals: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "job_signals_total",
			Help:      "Signals sent to job process groups.",
		}, []string{"signal"}),
		jobBytesRead: prom.NewCounterVec(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "job_bytes_read_total",
			Help:      "Bytes read from job output pipes.",
		}, []string{"stream"}),
		jobExits: prom.NewCounter(prom.CounterOpts{
			Namespace: Namespace,
			Name:      "job_exits_total",
			Help:      "Jobs reaped.",
		}),
	}

	for _, c := range []prom.Collector{
		m.eventsPushed, m.eventsShifted, m.eventsDropped, m.queueDepth,
		m.jobsSpawned, m.spawnFailures, m.jobsActive,
		m.jobSignals, m.jobBytesRead, m.jobExits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prom.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry backing the metrics endpoint.
func (m *Metrics) Registry() *prom.Registry {
	return m.registry
}

// EventPushed implements queue.Observer.
func (m *Metrics) EventPushed(kind event.Kind, depth int) {
	m.eventsPushed.WithLabelValues(kind.String()).Inc()
	m.queueDepth.Set(float64(depth))
}

// EventShifted implements queue.Observer.
func (m *Metrics) EventShifted(kind event.Kind, depth int) {
	m.eventsShifted.WithLabelValues(kind.String()).Inc()
	m.queueDepth.Set(float64(depth))
}

// EventDropped implements queue.Observer.
func (m *Metrics) EventDropped(kind event.Kind) {
	m.eventsDropped.WithLabelValues(kind.String()).Inc()
}

// JobSpawned implements job.Observer.
func (m *Metrics) JobSpawned(string) { m.jobsSpawned.Inc() }

// JobSpawnFailed implements job.Observer.
func (m *Metrics) JobSpawnFailed(string) { m.spawnFailures.Inc() }

// JobSignaled implements job.Observer.
func (m *Metrics) JobSignaled(signal string) {
	m.jobSignals.WithLabelValues(signal).Inc()
}

// JobBytesRead implements job.Observer.
func (m *Metrics) JobBytesRead(stream string, n int) {
	m.jobBytesRead.WithLabelValues(stream).Add(float64(n))
}

// JobExited implements job.Observer.
func (m *Metrics) JobExited(int) { m.jobExits.Inc() }

// JobsActive implements job.Observer.
func (m *Metrics) JobsActive(n int) { m.jobsActive.Set(float64(n)) }

// Handler returns the HTTP handler serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	return newRouter(m.registry)
}
