// Package pipeline runs one transfer job for an instrument: pre-hook, file
// selection, upload with retry, relocation of the uploaded files and
// post-hook.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/hook"
	"github.com/limnc/flaked/logger"
	"github.com/limnc/flaked/schedule"
	"github.com/limnc/flaked/selector"
	"github.com/limnc/flaked/transfer"
)

// ConfigSource hands out configuration snapshots. Every run reads a fresh
// snapshot so edits apply to the next run without a restart.
type ConfigSource interface {
	Instrument(name string) (config.Instrument, bool)
	Settings() config.Settings
}

// HookRunner runs pre/post-processing commands.
type HookRunner interface {
	Run(ctx context.Context, spec config.CommandConfig, log *zap.SugaredLogger) (*hook.Result, error)
}

// LogProvider returns the per-instrument logger.
type LogProvider interface {
	For(instrument, dir, level string) (*zap.SugaredLogger, error)
}

// Outcome is the final state of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Run records what one execution did.
type Run struct {
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id"`
	Instrument string    `json:"instrument"`
	Selected   []string  `json:"selected"`
	Uploaded   []string  `json:"uploaded"`
	Relocated  []string  `json:"relocated"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

var errNothingUploaded = errors.New("no files were uploaded")

// Pipeline executes job runs.
type Pipeline struct {
	config    ConfigSource
	transfers transfer.Factory
	hooks     HookRunner
	logs      LogProvider
	logger    *zap.SugaredLogger

	// waitUnit scales Settings.Wait into a duration
	waitUnit time.Duration
	newRunID func() string
}

// New creates a pipeline. The transfer factory is called once per run with the
// settings snapshot of that run.
func New(cfg ConfigSource, transfers transfer.Factory, hooks HookRunner, logs LogProvider, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		config:    cfg,
		transfers: transfers,
		hooks:     hooks,
		logs:      logs,
		logger:    log.Named("pipeline"),
		waitUnit:  time.Second,
		newRunID:  func() string { return uuid.New().String() },
	}
}

// Execute runs the job and discards the record. It satisfies the scheduler's
// runner contract.
func (p *Pipeline) Execute(ctx context.Context, jobID string) error {
	_, err := p.Run(ctx, jobID)
	return err
}

// Run executes the job identified by jobID, either "<instrument>:<kind>" or a
// bare instrument name. A failed upload is logged and leaves the files in
// place; it does not fail the run. A missing instrument, a hook that cannot be
// started or a failed relocation does.
func (p *Pipeline) Run(ctx context.Context, jobID string) (run *Run, err error) {
	name := schedule.InstrumentName(jobID)
	run = &Run{
		JobID:      jobID,
		RunID:      p.newRunID(),
		Instrument: name,
		Started:    time.Now(),
	}
	ctx = logger.WithRunID(logger.WithJobID(ctx, jobID), run.RunID)
	log := logger.FromContext(ctx, p.logger)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in job %s: %v", jobID, r)
			log.Errorw("Job panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		run.Finished = time.Now()
		if err != nil {
			run.Outcome = OutcomeFailure
			run.Error = err.Error()
			log.Errorw("PROCESS_FAILURE", logger.FieldError, err, logger.FieldDurationMS, run.Duration().Milliseconds())
			return
		}
		run.Outcome = OutcomeSuccess
	}()

	inst, ok := p.config.Instrument(name)
	if !ok {
		return run, errors.NewNotFoundError("instrument %q", name)
	}
	settings := p.config.Settings()

	dir, level := inst.LogTarget(settings)
	ilog, lerr := p.logs.For(inst.Name, dir, level)
	if lerr != nil {
		log.Warnw("Instrument log unavailable, using process log", logger.FieldError, lerr)
		ilog = p.logger.With(logger.FieldInstrument, inst.Name)
	}
	ilog = logger.FromContext(ctx, ilog)
	log = ilog

	ilog.Debugw("PROCESS_START")

	if inst.Preprocess != nil {
		if _, err := p.hooks.Run(ctx, *inst.Preprocess, ilog.With(logger.FieldPhase, "preprocess")); err != nil {
			return run, errors.Wrap(err, "preprocess")
		}
	}

	files, err := p.selectFiles(inst, settings, ilog)
	if err != nil {
		return run, err
	}
	run.Selected = files

	if len(files) > 0 {
		run.Uploaded = p.upload(ctx, inst, settings, files, ilog)
		if len(run.Uploaded) > 0 {
			destination, err := selector.Resolve(inst.Output.Path, settings.Output)
			if err != nil {
				return run, errors.Wrap(err, "resolve output folder")
			}
			run.Relocated, err = Relocate(run.Uploaded, destination, ilog)
			if err != nil {
				return run, err
			}
		}
	}

	if inst.Postprocess != nil {
		if _, err := p.hooks.Run(ctx, *inst.Postprocess, ilog.With(logger.FieldPhase, "postprocess")); err != nil {
			return run, errors.Wrap(err, "postprocess")
		}
	}

	ilog.Debugw("PROCESS_SUCCESS",
		"selected", len(run.Selected),
		"uploaded", len(run.Uploaded),
		"relocated", len(run.Relocated),
		logger.FieldDurationMS, time.Since(run.Started).Milliseconds())
	return run, nil
}

func (p *Pipeline) selectFiles(inst config.Instrument, settings config.Settings, log *zap.SugaredLogger) ([]string, error) {
	source, err := selector.Resolve(inst.Input.Path, settings.Input)
	if err != nil {
		return nil, errors.Wrap(err, "resolve input folder")
	}
	filter, err := selector.NewFilter(inst.Input.Filter.Pattern(), inst.Input.Filter.SkipCount())
	if err != nil {
		return nil, err
	}
	files, err := selector.Select(source, filter, log)
	if err != nil {
		return nil, err
	}
	return selector.Paths(files), nil
}

// upload sends files under the instrument's collection, retrying per the
// settings. It returns the uploaded paths, or nil once the attempts are
// exhausted.
func (p *Pipeline) upload(ctx context.Context, inst config.Instrument, settings config.Settings, files []string, log *zap.SugaredLogger) []string {
	client, err := p.transfers(settings, log)
	if err != nil {
		log.Errorw("UPLOAD_FILES: transfer client unavailable", logger.FieldError, err)
		return nil
	}
	target := client.Target(inst.Name)
	log.Debugw("UPLOAD_FILES", logger.FieldCount, len(files), logger.FieldRemote, target)

	policy := RetryPolicy{
		Attempts: settings.Attempts,
		Wait:     time.Duration(settings.Wait) * p.waitUnit,
	}
	uploaded, err := Retry(ctx, policy, func(ctx context.Context, attempt int) ([]string, error) {
		up, err := client.Upload(ctx, files, inst.Name)
		if err != nil {
			return nil, err
		}
		if len(up) == 0 {
			return nil, errNothingUploaded
		}
		return up, nil
	}, func(err error, attempt int, next time.Duration) {
		log.Warnw("UPLOAD_FILES: attempt failed, retrying",
			logger.FieldAttempt, attempt,
			"retry_in", next,
			logger.FieldError, err)
	})
	if err != nil {
		log.Errorw("UPLOAD_FILES: upload failed, files left in place",
			logger.FieldRemote, target,
			logger.FieldCount, len(files),
			logger.FieldError, err)
		return nil
	}

	log.Infow("UPLOAD_FILES: files uploaded", logger.FieldRemote, target, logger.FieldCount, len(uploaded))
	return uploaded
}
