package logger

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limnc/flaked/errors"
)

// InstrumentLogs hands out per-instrument loggers. Every logger writes to the
// base logger and to <dir>/<instrument>.log. File handles are shared per path
// so repeated runs append to the same file; the level is re-applied on each
// call so configuration edits take effect on the next run.
type InstrumentLogs struct {
	base  *zap.SugaredLogger
	mu    sync.Mutex
	sinks map[string]*fileSink
}

type fileSink struct {
	file  *os.File
	level zap.AtomicLevel
	core  zapcore.Core
}

// NewInstrumentLogs creates a registry whose loggers tee into base.
func NewInstrumentLogs(base *zap.SugaredLogger) *InstrumentLogs {
	return &InstrumentLogs{
		base:  base,
		sinks: make(map[string]*fileSink),
	}
}

// LogPath returns the active log file of an instrument.
func LogPath(dir, instrument string) string {
	return filepath.Join(dir, instrument+".log")
}

// LogFiles returns the active log file and any rotated siblings
// (<instrument>.log.1, ...), sorted by name. Missing files are not an error.
func LogFiles(dir, instrument string) ([]string, error) {
	matches, err := filepath.Glob(LogPath(dir, instrument) + "*")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list log files for %s", instrument)
	}
	sort.Strings(matches)
	return matches, nil
}

// For returns the logger of one instrument writing at level (INFO, DEBUG, ...).
func (l *InstrumentLogs) For(instrument, dir, level string) (*zap.SugaredLogger, error) {
	sink, err := l.sink(LogPath(dir, instrument))
	if err != nil {
		return nil, err
	}
	sink.level.SetLevel(ParseLevel(level))

	tee := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, sink.core)
	})
	return l.base.Desugar().WithOptions(tee).Sugar().With(FieldInstrument, instrument), nil
}

func (l *InstrumentLogs) sink(path string) (*fileSink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.sinks[path]; ok {
		return s, nil
	}

	core, file, level, err := NewFileCore(path)
	if err != nil {
		return nil, err
	}
	s := &fileSink{file: file, level: level, core: core}
	l.sinks[path] = s
	return s, nil
}

// Close flushes and closes every open log file.
func (l *InstrumentLogs) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs error
	for path, s := range l.sinks {
		_ = s.core.Sync()
		if err := s.file.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to close %s", path))
		}
		delete(l.sinks, path)
	}
	return errs
}

// NewFileCore opens path for appending and returns a plain-text zap core
// writing to it. Intermediate directories are created.
func NewFileCore(path string) (zapcore.Core, *os.File, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, level, errors.Wrap(err, "failed to create log directory")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, level, errors.Wrapf(err, "failed to open log file %s", path)
	}

	// Plain file output, no colour codes
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = nil
	encoderConfig.CallerKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(file), level)
	return core, file, level, nil
}
