package app

import (
	"context"
	"os"
	"time"

	"github.com/dshills/evbridge/internal/config"
	"github.com/dshills/evbridge/internal/event/queue"
	"github.com/dshills/evbridge/internal/gate"
	"github.com/dshills/evbridge/internal/input"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
	"github.com/dshills/evbridge/internal/loop"
	"github.com/dshills/evbridge/internal/metrics"
	"github.com/dshills/evbridge/internal/plugin/lua"
)

// bootstrapper initializes components in dependency order and unwinds
// the ones already started when a later step fails.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, initOrder: make([]string, 0, 10)}
}

func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"config", b.initConfig},
		{"metrics", b.initMetrics},
		{"queue", b.initQueue},
		{"reader", b.initReader},
		{"poller", b.initPoller},
		{"jobs", b.initJobs},
		{"loop", b.initLoop},
		{"lua", b.initLua},
		{"watcher", b.initWatcher},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return err
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	b.app.logger.Debug("bootstrap complete", "components", b.initOrder)
	return nil
}

func (b *bootstrapper) initConfig() error {
	app := b.app
	cfg := app.opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(app.opts.ConfigPath)
		if err != nil {
			return &InitError{Component: "config", Err: err}
		}
	}
	app.config = cfg

	logger := app.opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: cfg.Log.Format,
			Output: os.Stderr,
		})
		logging.SetDefault(logger)
	}
	app.logger = logger.WithComponent("app")
	return nil
}

func (b *bootstrapper) initMetrics() error {
	app := b.app
	m, err := metrics.New()
	if err != nil {
		return &InitError{Component: "metrics", Err: err}
	}
	app.metrics = m

	if addr := app.config.Metrics.Addr; addr != "" {
		srv, err := metrics.Serve(addr, m, app.logger)
		if err != nil {
			return &InitError{Component: "metrics server", Err: err}
		}
		app.server = srv
	}
	return nil
}

func (b *bootstrapper) initQueue() error {
	app := b.app
	app.queue = queue.New(queue.WithObserver(app.metrics))

	gateOpts := []gate.Option{gate.WithLogger(app.logger)}
	if app.opts.Fatal != nil {
		gateOpts = append(gateOpts, gate.WithFatal(app.opts.Fatal))
	}
	app.gate = gate.New(gateOpts...)
	return nil
}

func (b *bootstrapper) initReader() error {
	app := b.app
	if app.opts.Reader != nil {
		app.reader = app.opts.Reader
		return nil
	}

	switch app.config.Input.Backend {
	case config.BackendTcell:
		r, err := input.NewTcellReader(nil)
		if err != nil {
			return &InitError{Component: "tcell reader", Err: err}
		}
		app.reader = r
		app.closeReader = r.Close
	default:
		r, err := input.NewTTYReader(os.Stdin, input.WithRawMode(true))
		if err != nil {
			return &InitError{Component: "tty reader", Err: err}
		}
		app.reader = r
		app.closeReader = r.Close
	}
	return nil
}

func (b *bootstrapper) initPoller() error {
	app := b.app
	in := app.config.Input
	app.poller = input.NewPoller(app.reader, app.gate, app.queue, input.Config{
		Slice:            in.Slice.D(),
		RetryDelay:       in.RetryDelay.D(),
		HandshakeTimeout: in.HandshakeTimeout.D(),
	}, input.WithLogger(app.logger))
	app.poller.Start()
	return nil
}

func (b *bootstrapper) initJobs() error {
	app := b.app
	jc := app.config.Jobs
	app.jobs = job.NewManager(job.Config{
		MaxJobs:       jc.MaxJobs,
		BufferSize:    jc.BufferSize,
		GracePeriod:   jc.GracePeriod.D(),
		ShutdownGrace: jc.ShutdownGrace.D(),
	},
		job.WithNotifier(app.queue),
		job.WithObserver(app.metrics),
		job.WithLogger(app.logger),
	)
	return nil
}

func (b *bootstrapper) initLoop() error {
	app := b.app
	app.loop = loop.New(loop.Components{
		Queue:  app.queue,
		Gate:   app.gate,
		Reader: app.reader,
		Poller: app.poller,
		Jobs:   app.jobs,
	}, loop.Config{
		Slice:       app.config.Input.Slice.D(),
		IdleTimeout: app.config.Loop.IdleTimeout.D(),
	}, loop.WithLogger(app.logger))
	return nil
}

func (b *bootstrapper) initLua() error {
	app := b.app
	rt, err := lua.NewRuntime(app.jobs, app, lua.WithLogger(app.logger))
	if err != nil {
		return &InitError{Component: "lua", Err: err}
	}
	if path := app.config.Script.Path; path != "" {
		if err := rt.LoadFile(path); err != nil {
			_ = rt.Close()
			return &InitError{Component: "script", Err: err}
		}
	}
	app.lua = rt
	return nil
}

func (b *bootstrapper) initWatcher() error {
	app := b.app
	if app.opts.ConfigPath == "" {
		return nil
	}
	w, err := config.Watch(app.opts.ConfigPath, func(path string) {
		app.loop.Trigger(EventConfigChanged, path)
	}, config.WithWatchLogger(app.logger))
	if err != nil {
		// Reload is a convenience; run without it.
		app.logger.Warn("config watch unavailable", "path", app.opts.ConfigPath, "error", err)
		return nil
	}
	app.watcher = w
	return nil
}

// cleanup stops initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.app.stopComponent(b.initOrder[i])
	}
}

var shutdownOrder = []string{"watcher", "lua", "loop", "jobs", "poller", "reader", "queue", "metrics"}

func (app *Application) shutdown() {
	for _, name := range shutdownOrder {
		app.stopComponent(name)
	}
}

// stopComponent stops one component; it tolerates components that were
// never started.
func (app *Application) stopComponent(name string) {
	switch name {
	case "watcher":
		if app.watcher != nil {
			_ = app.watcher.Close()
		}
	case "lua":
		if app.lua != nil {
			_ = app.lua.Close()
		}
	case "loop":
		if app.loop != nil {
			app.loop.Close()
		}
	case "jobs":
		if app.jobs != nil {
			app.jobs.Close()
		}
	case "poller":
		if app.poller != nil {
			app.poller.Stop()
		}
	case "reader":
		if app.closeReader != nil {
			if err := app.closeReader(); err != nil {
				app.logger.Warn("input close failed", "error", err)
			}
			app.closeReader = nil
		}
	case "queue":
		if app.queue != nil {
			app.queue.Close()
		}
	case "metrics":
		if app.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := app.server.Shutdown(ctx); err != nil {
				app.logger.Warn("metrics shutdown failed", "error", err)
			}
		}
	}
}
