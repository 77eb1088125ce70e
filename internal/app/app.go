// Package app wires the event queue, IOGate, input poller, job manager,
// event loop and Lua runtime into a runnable host, and dispatches the
// events the loop delivers.
package app

import (
	"errors"
	"sync"
	"sync/atomic"

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

// Custom event names the application reacts to.
const (
	// EventConfigChanged is triggered by the config watcher; Arg is the path.
	EventConfigChanged = "ConfigChanged"
	// EventQuit is triggered by Quit to wake the loop.
	EventQuit = "Quit"
)

// Application owns every runtime component. Run and Shutdown must be
// called from the same goroutine; Quit and Trigger are safe from any.
type Application struct {
	config *config.Config
	logger *logging.Logger
	opts   Options

	metrics *metrics.Metrics
	server  *metrics.Server
	queue   *queue.Queue
	gate    *gate.Gate
	reader  input.Reader
	poller  *input.Poller
	jobs    *job.Manager
	loop    *loop.Loop
	lua     *lua.Runtime
	watcher *config.Watcher

	closeReader func() error

	running      atomic.Bool
	quit         atomic.Bool
	shutdownOnce sync.Once
}

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. It is loaded unless Config is
	// set, and watched for changes either way.
	ConfigPath string

	// Config, when set, is used as-is instead of loading ConfigPath.
	Config *config.Config

	// Reader replaces the configured input backend. The caller owns it.
	Reader input.Reader

	// Logger replaces the logger built from the configuration.
	Logger *logging.Logger

	// Fatal replaces the IOGate's fatal handler.
	Fatal gate.FatalFunc
}

// New creates an Application and starts its background components.
// The input poller is running but idle until the first Run.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}
	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Run dispatches events until Quit, end of input or a quit key.
func (app *Application) Run() error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	app.logger.Info("event loop started", "idle_timeout", app.loop.IdleTimeout())
	for !app.quit.Load() {
		ev, ok := app.loop.Next(loop.Forever)
		if !ok {
			app.logger.Debug("event queue closed")
			return nil
		}
		if err := app.handle(ev); err != nil {
			if errors.Is(err, ErrQuit) {
				app.quit.Store(true)
				break
			}
			return err
		}
	}
	app.logger.Info("event loop stopped")
	return nil
}

// Trigger raises a Custom event.
func (app *Application) Trigger(name, arg string) {
	app.loop.Trigger(name, arg)
}

// Quit asks Run to return after the current event.
func (app *Application) Quit() {
	if app.quit.CompareAndSwap(false, true) {
		app.loop.Trigger(EventQuit, "")
	}
}

// IsRunning reports whether Run is in progress.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Loop returns the event loop.
func (app *Application) Loop() *loop.Loop {
	return app.loop
}

// Jobs returns the job manager.
func (app *Application) Jobs() *job.Manager {
	return app.jobs
}

// Lua returns the script runtime.
func (app *Application) Lua() *lua.Runtime {
	return app.lua
}

// Metrics returns the collectors.
func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}

// MetricsAddr returns the metrics server address, or "" when disabled.
func (app *Application) MetricsAddr() string {
	if app.server == nil {
		return ""
	}
	return app.server.Addr()
}

// Shutdown stops every component in reverse start order: jobs get
// SIGTERM, then SIGKILL after the shutdown grace. Safe to call twice.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		app.logger.Info("shutting down", "jobs", app.jobs.Count())
		app.shutdown()
	})
}
