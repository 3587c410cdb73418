// Package app builds the engine and its collaborators and owns their
// lifecycle. Every component is constructed here and handed its dependencies
// explicitly.
package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/hook"
	"github.com/limnc/flaked/logger"
	"github.com/limnc/flaked/pipeline"
	"github.com/limnc/flaked/schedule"
	"github.com/limnc/flaked/transfer"
)

// ShutdownTimeout bounds how long Shutdown waits for in-flight runs.
const ShutdownTimeout = 30 * time.Second

// Options configures New.
type Options struct {
	// ConfigPath is the configuration file; empty means config.DefaultPath.
	ConfigPath string
	// Watch reloads the configuration when the file changes on disk.
	Watch bool
	// Transfers builds transfer clients; nil means transfer.New.
	Transfers transfer.Factory
}

// App is the application context.
type App struct {
	Store      *config.Store
	Logs       *logger.InstrumentLogs
	Pipeline   *pipeline.Pipeline
	Dispatcher *schedule.Dispatcher
	Scheduler  *schedule.Scheduler

	watcher *config.Watcher
	logger  *zap.SugaredLogger
}

// New loads the configuration, writing a default file when none exists, and
// wires the engine. Nothing is started.
func New(opts Options, log *zap.SugaredLogger) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	created, err := config.EnsureFile(path)
	if err != nil {
		return nil, err
	}
	if created {
		log.Infow("Wrote default configuration", logger.FieldPath, path)
	}

	store, err := config.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration %s", path)
	}

	a := Build(store, opts.Transfers, log)

	if opts.Watch {
		w, err := config.NewWatcher(store, log.Named("config"))
		if err != nil {
			return nil, err
		}
		w.OnReload(a.reload)
		a.watcher = w
	}
	return a, nil
}

// Build wires the engine around an existing store.
func Build(store *config.Store, transfers transfer.Factory, log *zap.SugaredLogger) *App {
	if transfers == nil {
		transfers = transfer.New
	}
	logs := logger.NewInstrumentLogs(log)
	p := pipeline.New(store, transfers, hook.NewRunner(), logs, log)
	d := schedule.NewDispatcher(p, log)

	return &App{
		Store:      store,
		Logs:       logs,
		Pipeline:   p,
		Dispatcher: d,
		Scheduler:  schedule.New(store, d, log),
		logger:     log,
	}
}

// Start starts the scheduler and, if enabled, the configuration watcher.
func (a *App) Start() {
	a.Scheduler.Start()
	if a.watcher != nil {
		a.watcher.Start()
	}
}

// Shutdown stops scheduling, waits up to timeout for in-flight runs and
// closes the instrument log files.
func (a *App) Shutdown(timeout time.Duration) error {
	var errs error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	a.Scheduler.Stop()
	if !a.Dispatcher.Wait(timeout) {
		a.logger.Warnw("Shutting down with jobs still running", "running", a.Dispatcher.Running())
	}
	if err := a.Logs.Close(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// reload rebuilds the bindings after the file changed on disk. A stopped
// engine stays stopped; a paused one is paused again.
func (a *App) reload(*config.Config) error {
	state := a.Scheduler.State()
	if state == schedule.StateStopped {
		return nil
	}
	a.Scheduler.Stop()
	a.Scheduler.Start()
	if state == schedule.StatePaused {
		a.Scheduler.Pause()
	}
	a.logger.Infow("Scheduler rebuilt from configuration", "jobs", a.Scheduler.BindingCount(), logger.FieldState, state.String())
	return nil
}

// PutInstrument validates, persists and schedules an instrument, replacing
// one with the same name.
func (a *App) PutInstrument(inst config.Instrument) (bool, error) {
	replaced, err := a.Store.PutInstrument(inst)
	if err != nil {
		return false, err
	}
	if a.Scheduler.State() != schedule.StateStopped {
		if _, err := a.Scheduler.Refresh(inst.Name); err != nil {
			return replaced, errors.Wrapf(err, "instrument %s saved but not scheduled", inst.Name)
		}
	}
	a.logger.Infow("Instrument saved", logger.FieldInstrument, inst.Name, "replaced", replaced)
	return replaced, nil
}

// DeleteInstrument unschedules both jobs of an instrument and removes it
// from the configuration.
func (a *App) DeleteInstrument(name string) (config.Instrument, error) {
	if _, ok := a.Store.Instrument(name); !ok {
		return config.Instrument{}, errors.NewNotFoundError("instrument %q", name)
	}
	a.Scheduler.Remove(name)
	removed, err := a.Store.DeleteInstrument(name)
	if err != nil {
		return config.Instrument{}, err
	}
	a.logger.Infow("Instrument deleted", logger.FieldInstrument, name)
	return removed, nil
}
