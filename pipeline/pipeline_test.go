package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/hook"
	"github.com/limnc/flaked/transfer"
)

type fakeConfig struct {
	mu          sync.Mutex
	settings    config.Settings
	instruments map[string]config.Instrument
}

func (c *fakeConfig) Instrument(name string) (config.Instrument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instruments[name]
	return inst.Clone(), ok
}

func (c *fakeConfig) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}

func (c *fakeConfig) put(inst config.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.Name] = inst
}

type fakeClient struct {
	mu          sync.Mutex
	calls       int
	collections []string
	failures    int  // calls that fail before the first success
	empty       bool // succeed with nothing uploaded
	panics      bool
	events      *[]string
}

func (c *fakeClient) Upload(ctx context.Context, files []string, collection string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.collections = append(c.collections, collection)
	if c.events != nil {
		*c.events = append(*c.events, "upload")
	}
	if c.panics {
		panic("connection table corrupted")
	}
	if c.calls <= c.failures {
		return nil, errors.New("connection refused")
	}
	if c.empty {
		return []string{}, nil
	}
	return append([]string(nil), files...), nil
}

func (c *fakeClient) Target(collection string) string {
	return "sftp://test/" + collection
}

type fakeHooks struct {
	events *[]string
	fail   map[string]error
}

func (h *fakeHooks) Run(ctx context.Context, spec config.CommandConfig, log *zap.SugaredLogger) (*hook.Result, error) {
	if h.events != nil {
		*h.events = append(*h.events, spec.Command)
	}
	if err := h.fail[spec.Command]; err != nil {
		return nil, err
	}
	return &hook.Result{}, nil
}

type fakeLogs struct {
	log *zap.SugaredLogger
}

func (l fakeLogs) For(instrument, dir, level string) (*zap.SugaredLogger, error) {
	return l.log.With("instrument", instrument), nil
}

type fixture struct {
	cfg    *fakeConfig
	client *fakeClient
	input  string
	output string
	logs   *observer.ObservedLogs
	p      *Pipeline
}

func newFixture(t *testing.T, files ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "in")
	output := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(input, 0755))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(input, name), []byte(name), 0644))
	}

	cfg := &fakeConfig{
		settings: config.Settings{Attempts: 3, Wait: 0},
		instruments: map[string]config.Instrument{
			"inst1": {
				Name:   "inst1",
				Input:  config.InputConfig{Path: input},
				Output: config.OutputConfig{Path: output},
			},
		},
	}
	client := &fakeClient{}

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	p := New(cfg, func(config.Settings, *zap.SugaredLogger) (transfer.Client, error) {
		return client, nil
	}, &fakeHooks{}, fakeLogs{log: log}, log)
	p.waitUnit = 10 * time.Millisecond
	p.newRunID = func() string { return "run-1" }

	return &fixture{cfg: cfg, client: client, input: input, output: output, logs: logs, p: p}
}

func (f *fixture) remaining(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.input)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_UploadsAndRelocates(t *testing.T) {
	f := newFixture(t, "a.txt", "b.txt")

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, run.Outcome)
	assert.Equal(t, "inst1", run.Instrument)
	assert.Equal(t, "run-1", run.RunID)
	assert.Len(t, run.Selected, 2)
	assert.Len(t, run.Uploaded, 2)
	assert.ElementsMatch(t, []string{
		filepath.Join(f.output, "a.txt"),
		filepath.Join(f.output, "b.txt"),
	}, run.Relocated)
	assert.Empty(t, f.remaining(t))
	assert.Equal(t, []string{"inst1"}, f.client.collections)

	assert.Equal(t, 1, f.logs.FilterMessage("PROCESS_START").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("PROCESS_SUCCESS").Len())
	assert.Equal(t, 0, f.logs.FilterMessage("PROCESS_FAILURE").Len())
}

func TestRun_RetriesUntilUploaded(t *testing.T) {
	f := newFixture(t, "a.txt")
	f.cfg.settings.Wait = 2
	f.client.failures = 2

	start := time.Now()
	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	assert.Equal(t, 3, f.client.calls)
	assert.GreaterOrEqual(t, time.Since(start), 2*2*f.p.waitUnit)
	assert.Len(t, run.Relocated, 1)
	assert.Equal(t, 2, f.logs.FilterMessage("UPLOAD_FILES: attempt failed, retrying").Len())
}

func TestRun_UploadExhaustedLeavesFiles(t *testing.T) {
	f := newFixture(t, "a.txt", "b.txt")
	f.client.failures = 100

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, run.Outcome)
	assert.Equal(t, 3, f.client.calls)
	assert.Empty(t, run.Uploaded)
	assert.Empty(t, run.Relocated)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, f.remaining(t))

	failed := f.logs.FilterMessage("UPLOAD_FILES: upload failed, files left in place")
	require.Equal(t, 1, failed.Len())
	assert.Equal(t, zapcore.ErrorLevel, failed.All()[0].Level)
	assert.Equal(t, 1, f.logs.FilterMessage("PROCESS_SUCCESS").Len())
}

func TestRun_EmptyUploadCountsAsFailure(t *testing.T) {
	f := newFixture(t, "a.txt")
	f.client.empty = true

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	assert.Equal(t, 3, f.client.calls)
	assert.Empty(t, run.Relocated)
	assert.Equal(t, []string{"a.txt"}, f.remaining(t))
}

func TestRun_DestinationIsFile(t *testing.T) {
	f := newFixture(t, "a.txt")
	require.NoError(t, os.WriteFile(f.output, []byte("not a folder"), 0644))

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, run.Outcome)
	assert.Len(t, run.Uploaded, 1)
	assert.Empty(t, run.Relocated)
	assert.Equal(t, []string{"a.txt"}, f.remaining(t))
	assert.Equal(t, 1, f.logs.FilterMessage("MOVE_FILES: destination is not a directory, files left in place").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("PROCESS_SUCCESS").Len())
}

func TestRun_NoFilesSkipsUpload(t *testing.T) {
	f := newFixture(t)
	var events []string
	f.p.hooks = &fakeHooks{events: &events}
	f.cfg.put(config.Instrument{
		Name:        "inst1",
		Input:       config.InputConfig{Path: f.input},
		Output:      config.OutputConfig{Path: f.output},
		Preprocess:  &config.CommandConfig{Command: "pre"},
		Postprocess: &config.CommandConfig{Command: "post"},
	})

	run, err := f.p.Run(context.Background(), "inst1")
	require.NoError(t, err)

	assert.Empty(t, run.Selected)
	assert.Equal(t, 0, f.client.calls)
	assert.Equal(t, []string{"pre", "post"}, events)
}

func TestRun_PhaseOrder(t *testing.T) {
	f := newFixture(t, "a.txt")
	var events []string
	f.client.events = &events
	f.p.hooks = &fakeHooks{events: &events}
	f.cfg.put(config.Instrument{
		Name:        "inst1",
		Input:       config.InputConfig{Path: f.input},
		Output:      config.OutputConfig{Path: f.output},
		Preprocess:  &config.CommandConfig{Command: "pre"},
		Postprocess: &config.CommandConfig{Command: "post"},
	})

	_, err := f.p.Run(context.Background(), "inst1:cron")
	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "upload", "post"}, events)
}

func TestRun_UnknownInstrument(t *testing.T) {
	f := newFixture(t)

	run, err := f.p.Run(context.Background(), "ghost:interval")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, OutcomeFailure, run.Outcome)

	failures := f.logs.FilterMessage("PROCESS_FAILURE")
	require.Equal(t, 1, failures.Len())
	assert.Equal(t, "ghost:interval", failures.All()[0].ContextMap()["job_id"])
}

func TestRun_PreprocessStartFailure(t *testing.T) {
	f := newFixture(t, "a.txt")
	f.p.hooks = &fakeHooks{fail: map[string]error{"pre": errors.New("executable file not found")}}
	f.cfg.put(config.Instrument{
		Name:       "inst1",
		Input:      config.InputConfig{Path: f.input},
		Output:     config.OutputConfig{Path: f.output},
		Preprocess: &config.CommandConfig{Command: "pre"},
	})

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preprocess")
	assert.Equal(t, OutcomeFailure, run.Outcome)
	assert.Equal(t, 0, f.client.calls)
	assert.Equal(t, 1, f.logs.FilterMessage("PROCESS_FAILURE").Len())
}

func TestRun_NonZeroHookExitContinues(t *testing.T) {
	f := newFixture(t, "a.txt")
	f.p.hooks = hook.NewRunner()
	f.cfg.put(config.Instrument{
		Name:       "inst1",
		Input:      config.InputConfig{Path: f.input},
		Output:     config.OutputConfig{Path: f.output},
		Preprocess: &config.CommandConfig{Command: "sh", Args: []string{"-c", "exit 3"}},
	})

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, run.Outcome)
	assert.Len(t, run.Relocated, 1)
}

func TestRun_RecoversPanic(t *testing.T) {
	f := newFixture(t, "a.txt")
	f.client.panics = true

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, OutcomeFailure, run.Outcome)
	assert.Equal(t, 1, f.logs.FilterMessage("Job panicked").Len())
}

func TestRun_ReadsFreshConfigEachRun(t *testing.T) {
	f := newFixture(t, "a.txt")

	_, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.input, "b.txt"), []byte("b"), 0644))
	elsewhere := filepath.Join(t.TempDir(), "archive")
	f.cfg.put(config.Instrument{
		Name:   "inst1",
		Input:  config.InputConfig{Path: f.input},
		Output: config.OutputConfig{Path: elsewhere},
	})

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(elsewhere, "b.txt")}, run.Relocated)
}

func TestRun_RelativePathsResolveAgainstSettings(t *testing.T) {
	f := newFixture(t, "a.txt")
	base := filepath.Dir(f.input)
	f.cfg.settings.Input = base
	f.cfg.settings.Output = base
	f.cfg.put(config.Instrument{
		Name:   "inst1",
		Input:  config.InputConfig{Path: "in"},
		Output: config.OutputConfig{Path: "done"},
	})

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "done", "a.txt")}, run.Relocated)
}

func TestRun_FilterAndSkip(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	for i, name := range []string{"data_1.csv", "data_2.csv", "notes.txt"} {
		path := filepath.Join(f.input, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
		mtime := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	f.cfg.put(config.Instrument{
		Name:   "inst1",
		Input:  config.InputConfig{Path: f.input, Filter: &config.FileFilter{Regex: "data_", Skip: 1}},
		Output: config.OutputConfig{Path: f.output},
	})

	run, err := f.p.Run(context.Background(), "inst1:interval")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(f.input, "data_1.csv")}, run.Selected)
	assert.ElementsMatch(t, []string{"data_2.csv", "notes.txt"}, f.remaining(t))
}

func TestExecute(t *testing.T) {
	f := newFixture(t, "a.txt")
	require.NoError(t, f.p.Execute(context.Background(), "inst1:interval"))
	assert.Error(t, f.p.Execute(context.Background(), "ghost:interval"))
}
