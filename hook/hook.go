// Package hook runs the pre- and post-process commands of an instrument.
package hook

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// Result is the outcome of one finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands directly, without a shell.
type Runner struct{}

// NewRunner creates a hook runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Argv returns the executable and arguments of spec. When spec has no
// separate args, the command string is split with shell quoting rules, so
// `command: "gzip -9 'my file'"` works. No other shell interpretation is done.
func Argv(spec config.CommandConfig) ([]string, error) {
	if len(spec.Args) > 0 {
		return append([]string{spec.Command}, spec.Args...), nil
	}
	if !strings.ContainsAny(spec.Command, " \t'\"") {
		return []string{spec.Command}, nil
	}
	argv, err := shellquote.Split(spec.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to split command %q", spec.Command)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// Run blocks until the command exits. Output is captured fully and logged,
// stdout at info and stderr at error level. A non-zero exit status is logged
// and returned in the Result, not as an error; only a failure to start the
// process is an error. spec.Timeout, when set, kills the process after that
// many seconds.
func (r *Runner) Run(ctx context.Context, spec config.CommandConfig, log *zap.SugaredLogger) (*Result, error) {
	argv, err := Argv(spec)
	if err != nil {
		return nil, err
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.Timeout)*time.Second)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to start %s", argv[0]),
			"check that the hook command exists and is executable")
	}
	waitErr := cmd.Wait()

	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, errors.Wrapf(waitErr, "failed waiting for %s", argv[0])
		}
	}

	if res.Stdout != "" {
		log.Infow("Process output", logger.FieldCommand, argv[0], "stdout", res.Stdout)
	}
	if res.Stderr != "" {
		log.Errorw("Process error output", logger.FieldCommand, argv[0], "stderr", res.Stderr)
	}
	log.Infow("Process exited",
		logger.FieldCommand, argv[0],
		logger.FieldExitCode, res.ExitCode,
		logger.FieldDurationMS, res.Duration.Milliseconds())
	if ctx.Err() == context.DeadlineExceeded {
		log.Errorw("Process killed after timeout", logger.FieldCommand, argv[0], "timeout_s", spec.Timeout)
	}

	return res, nil
}
