package app

import (
	"errors"

	"github.com/dshills/evbridge/internal/config"
	"github.com/dshills/evbridge/internal/event"
	"github.com/dshills/evbridge/internal/integration/job"
	"github.com/dshills/evbridge/internal/logging"
)

// ctrlC is the byte a raw terminal delivers for an interrupt.
const ctrlC = 0x03

// handle processes one event on the host goroutine. It returns ErrQuit
// when the application should stop; script failures are logged only.
func (app *Application) handle(ev event.Event) error {
	switch ev.Kind {
	case event.KindUserInput:
		return app.handleInput(ev)

	case event.KindCustom:
		switch ev.Name {
		case EventQuit:
			return ErrQuit
		case EventConfigChanged:
			app.reloadConfig(ev.Arg)
		}
		app.dispatchScript(ev, nil)

	case event.KindJobActivity:
		app.handleJob(ev)

	case event.KindDeferredCall:
		if ev.Call != nil {
			ev.Call()
		}

	case event.KindIdle:
		app.logger.Debug("idle")
		app.dispatchScript(ev, nil)

	default:
		app.logger.Warn("unexpected event", "kind", ev.Kind.String())
	}
	return nil
}

func (app *Application) handleInput(ev event.Event) error {
	in := ev.Input
	if in == nil {
		return nil
	}
	if in.EOF {
		app.logger.Info("input closed")
		return ErrQuit
	}
	if len(in.Bytes) == 1 && in.Bytes[0] == ctrlC {
		app.logger.Info("interrupt")
		return ErrQuit
	}
	app.dispatchScript(ev, nil)
	return nil
}

// handleJob drains the job's output and exit status and hands them to the
// scripts. Draining is what lets a dead job's slot be reused.
func (app *Application) handleJob(ev event.Event) {
	out, err := app.jobs.Drain(ev.JobID)
	if err != nil {
		if !errors.Is(err, job.ErrNotFound) {
			app.logger.Warn("job drain failed", "job", ev.JobID, "error", err)
		}
		return
	}
	if len(out.Stdout) == 0 && len(out.Stderr) == 0 && !out.Exited {
		return
	}

	if out.Exited {
		app.logger.Info("job finished", "job", out.ID, "name", out.Name, "exit_code", out.ExitCode)
	}
	app.dispatchScript(ev, &out)
}

func (app *Application) dispatchScript(ev event.Event, out *job.Output) {
	if app.lua == nil {
		return
	}
	// The runtime logs each failing handler.
	_, _ = app.lua.Dispatch(ev, out)
}

// reloadConfig re-reads path and applies the settings that can change at
// runtime: the idle timeout and the log level.
func (app *Application) reloadConfig(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		app.logger.Warn("config reload failed", "path", path, "error", err)
		return
	}

	app.config.Loop.IdleTimeout = cfg.Loop.IdleTimeout
	app.config.Log.Level = cfg.Log.Level
	app.loop.SetIdleTimeout(cfg.Loop.IdleTimeout.D())
	app.logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	app.logger.Info("config reloaded", "path", path, "idle_timeout", cfg.Loop.IdleTimeout.String())
}
