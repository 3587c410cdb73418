package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// Runner executes one job run.
type Runner interface {
	Execute(ctx context.Context, jobID string) error
}

// DispatchStats counts dispatcher activity since creation.
type DispatchStats struct {
	Dispatched int64 `json:"dispatched"`
	Skipped    int64 `json:"skipped"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Running    int   `json:"running"`
}

// Dispatcher runs each job in its own goroutine. A fire for a job id that is
// still running is skipped. A failing or panicking run is logged and
// contained; it never reaches the scheduler or other runs.
type Dispatcher struct {
	runner Runner
	logger *zap.SugaredLogger

	mu      sync.Mutex
	running map[string]time.Time
	stats   DispatchStats
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher for runner.
func NewDispatcher(runner Runner, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		runner:  runner,
		logger:  log.Named("dispatch"),
		running: make(map[string]time.Time),
	}
}

// Dispatch starts a run of jobID and returns without waiting for it. It
// returns false when a run of the same job is still in flight.
func (d *Dispatcher) Dispatch(jobID string) bool {
	d.mu.Lock()
	if since, busy := d.running[jobID]; busy {
		d.stats.Skipped++
		d.mu.Unlock()
		d.logger.Warnw("Job still running, skipping this fire",
			logger.FieldJobID, jobID,
			"running_for", time.Since(since).Round(time.Millisecond))
		return false
	}
	d.running[jobID] = time.Now()
	d.stats.Dispatched++
	d.wg.Add(1)
	d.mu.Unlock()

	go d.execute(jobID)
	return true
}

func (d *Dispatcher) execute(jobID string) {
	defer d.wg.Done()

	start := time.Now()
	err := d.safeExecute(jobID)

	d.mu.Lock()
	delete(d.running, jobID)
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Succeeded++
	}
	d.mu.Unlock()

	duration := time.Since(start).Milliseconds()
	if err != nil {
		d.logger.Errorw("Job run failed", logger.FieldJobID, jobID, logger.FieldError, err, logger.FieldDurationMS, duration)
		return
	}
	d.logger.Infow("Job run finished", logger.FieldJobID, jobID, logger.FieldDurationMS, duration)
}

func (d *Dispatcher) safeExecute(jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job %s panicked: %v", jobID, r)
			d.logger.Errorw("Job panicked",
				logger.FieldJobID, jobID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	return d.runner.Execute(context.Background(), jobID)
}

// Running returns the ids of jobs currently in flight, sorted.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRunning reports whether a run of jobID is in flight.
func (d *Dispatcher) IsRunning(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[jobID]
	return ok
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	stats.Running = len(d.running)
	return stats
}

// Wait blocks until every dispatched run has finished or timeout elapses. It
// reports whether all runs finished.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warnw("Timed out waiting for running jobs", "timeout", timeout, "running", d.Running())
		return false
	}
}
