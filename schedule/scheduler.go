package schedule

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// Instruments is the configuration the scheduler derives bindings from.
type Instruments interface {
	Instrument(name string) (config.Instrument, bool)
	Instruments() []config.Instrument
}

// JobDispatcher starts a job run without waiting for it.
type JobDispatcher interface {
	Dispatch(jobID string) bool
}

// Scheduler holds the bindings and fires them from one goroutine.
//
// The binding table is guarded by mu; dispatch always happens outside the
// lock. Stopping the engine or removing a binding prevents future fires only,
// runs already dispatched finish on their own.
type Scheduler struct {
	instruments Instruments
	dispatcher  JobDispatcher
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu       sync.Mutex
	state    EngineState
	bindings map[JobID]*binding
	queue    bindingQueue

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler.
func New(instruments Instruments, dispatcher JobDispatcher, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		instruments: instruments,
		dispatcher:  dispatcher,
		logger:      log.Named("schedule"),
		now:         time.Now,
		bindings:    make(map[JobID]*binding),
		wake:        make(chan struct{}, 1),
	}
}

// State returns the engine state.
func (s *Scheduler) State() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Control applies an engine-level action.
func (s *Scheduler) Control(action ControlAction) error {
	switch action {
	case ActionStart:
		s.Start()
	case ActionStop:
		s.Stop()
	case ActionPause:
		s.Pause()
	case ActionResume:
		s.Resume()
	default:
		return errors.NewInvalidRequestError("unknown action %d", int(action))
	}
	return nil
}

// Start rebuilds every binding from the current configuration and starts the
// clock. It does nothing unless the engine is stopped.
func (s *Scheduler) Start() {
	instruments := s.instruments.Instruments()

	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.bindings = make(map[JobID]*binding)
	s.queue = nil
	for _, inst := range instruments {
		if _, err := s.installLocked(inst, TriggerKinds, now); err != nil {
			s.logger.Errorw("Failed to schedule instrument", logger.FieldInstrument, inst.Name, logger.FieldError, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	count := len(s.bindings)
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
	s.logger.Infow("Scheduler started", "jobs", count)
}

// Stop cancels every binding and stops the clock. Stopping a stopped engine
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.state = StateStopped
	s.bindings = make(map[JobID]*binding)
	s.queue = nil
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.logger.Infow("Scheduler stopped")
}

// Pause suspends firing of every binding. Only valid while running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StatePaused
	s.logger.Infow("Scheduler paused")
}

// Resume continues firing after Pause. Fires missed while paused are
// skipped: every overdue binding moves to its next fire after now.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	now := s.now()
	for _, b := range s.queue {
		if !b.next.After(now) {
			b.next = b.trigger.Next(now)
		}
	}
	s.pruneQueueLocked()
	heap.Init(&s.queue)
	s.state = StateRunning
	s.mu.Unlock()

	s.signal()
	s.logger.Infow("Scheduler resumed")
}

// Refresh re-derives the bindings of an instrument from configuration.
// target is an instrument name (both trigger kinds) or a job id (that kind
// only). Bindings whose trigger is no longer configured are removed. A
// missing instrument removes its bindings and returns a not-found error.
func (s *Scheduler) Refresh(target string) ([]JobID, error) {
	name, kinds := target, TriggerKinds
	if InstrumentName(target) != target {
		id, err := ParseJobID(target)
		if err != nil {
			return nil, err
		}
		name, kinds = id.Instrument, []TriggerKind{id.Kind}
	}

	inst, ok := s.instruments.Instrument(name)

	s.mu.Lock()
	if !ok {
		for _, k := range kinds {
			s.removeLocked(JobID{Instrument: name, Kind: k})
		}
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("instrument %q", name)
	}
	ids, err := s.installLocked(inst, kinds, s.now())
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.signal()
	return ids, nil
}

// Remove drops every binding of an instrument.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	for _, k := range TriggerKinds {
		s.removeLocked(JobID{Instrument: name, Kind: k})
	}
	s.mu.Unlock()
	s.signal()
}

// ControlJob applies a per-job action.
func (s *Scheduler) ControlJob(id string, action ControlAction) error {
	switch action {
	case ActionStart:
		return s.StartJob(id)
	case ActionStop:
		return s.StopJob(id)
	case ActionPause:
		return s.PauseJob(id)
	case ActionResume:
		return s.ResumeJob(id)
	}
	return errors.NewInvalidRequestError("unknown action %d", int(action))
}

// StartJob installs the binding if absent and makes sure it fires.
func (s *Scheduler) StartJob(id string) error {
	jobID, err := ParseJobID(id)
	if err != nil {
		return err
	}
	b, err := s.ensureBinding(jobID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if b.paused {
		s.unpauseLocked(b, s.now())
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// StopJob removes the binding. The job no longer exists until re-added.
func (s *Scheduler) StopJob(id string) error {
	jobID, err := ParseJobID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[jobID]; !ok {
		return errors.NewNotFoundError("job %q", id)
	}
	s.removeLocked(jobID)
	s.logger.Infow("Job stopped", logger.FieldJobID, id)
	return nil
}

// PauseJob keeps the binding but stops it from firing.
func (s *Scheduler) PauseJob(id string) error {
	jobID, err := ParseJobID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[jobID]
	if !ok {
		return errors.NewNotFoundError("job %q", id)
	}
	if b.paused {
		return nil
	}
	b.paused = true
	if b.index >= 0 {
		heap.Remove(&s.queue, b.index)
	}
	b.next = time.Time{}
	s.logger.Infow("Job paused", logger.FieldJobID, id)
	return nil
}

// ResumeJob lets a paused job fire again from its next fire after now.
func (s *Scheduler) ResumeJob(id string) error {
	jobID, err := ParseJobID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	b, ok := s.bindings[jobID]
	if !ok {
		s.mu.Unlock()
		return errors.NewNotFoundError("job %q", id)
	}
	if b.paused {
		s.unpauseLocked(b, s.now())
		s.logger.Infow("Job resumed", logger.FieldJobID, id, logger.FieldNextRun, b.next)
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// RunJob fires the job once, now, outside its schedule. While the engine is
// not stopped the binding is installed first if absent; installing never
// fires it. An instrument without a trigger of the requested kind still runs
// once. The error is a conflict when a run of the job is still in flight.
func (s *Scheduler) RunJob(id string) error {
	jobID, err := ParseJobID(id)
	if err != nil {
		return err
	}
	if _, ok := s.instruments.Instrument(jobID.Instrument); !ok {
		return errors.NewNotFoundError("instrument %q", jobID.Instrument)
	}
	if s.State() != StateStopped {
		if _, err := s.ensureBinding(jobID); err != nil && !errors.IsNotFoundError(err) {
			return err
		}
		s.signal()
	}
	if !s.dispatcher.Dispatch(jobID.String()) {
		return errors.NewConflictError("job %s already running", id)
	}
	return nil
}

// Job describes one job. The error is not-found when the instrument or the
// binding is missing.
func (s *Scheduler) Job(id string) (JobInfo, error) {
	jobID, err := ParseJobID(id)
	if err != nil {
		return JobInfo{}, err
	}
	if _, ok := s.instruments.Instrument(jobID.Instrument); !ok {
		return JobInfo{}, errors.NewNotFoundError("instrument %q", jobID.Instrument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[jobID]
	if !ok {
		return JobInfo{}, errors.NewNotFoundError("job %q", id)
	}
	return b.info(s.state), nil
}

// JobStatus derives a job's status: stopped without a binding or while the
// engine is stopped, paused when the binding has no next fire, running
// otherwise.
func (s *Scheduler) JobStatus(id string) (JobStatus, error) {
	jobID, err := ParseJobID(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[jobID]
	if !ok {
		return JobStopped, nil
	}
	return b.status(s.state), nil
}

// Jobs lists the bindings, optionally only those of one instrument, sorted by
// id.
func (s *Scheduler) Jobs(name string) []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]JobInfo, 0, len(s.bindings))
	for id, b := range s.bindings {
		if name != "" && id.Instrument != name {
			continue
		}
		jobs = append(jobs, b.info(s.state))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// BindingCount returns the number of live bindings.
func (s *Scheduler) BindingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// ensureBinding returns the binding of id, installing it from configuration
// when absent.
func (s *Scheduler) ensureBinding(id JobID) (*binding, error) {
	s.mu.Lock()
	if b, ok := s.bindings[id]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	inst, ok := s.instruments.Instrument(id.Instrument)
	if !ok {
		return nil, errors.NewNotFoundError("instrument %q", id.Instrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[id]; ok {
		return b, nil
	}
	if _, err := s.installLocked(inst, []TriggerKind{id.Kind}, s.now()); err != nil {
		return nil, err
	}
	b, ok := s.bindings[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %q: instrument has no %s trigger", id.String(), id.Kind)
	}
	return b, nil
}

// installLocked replaces the bindings of inst for kinds in place, so there is
// never a moment with two bindings for one id. Kinds the instrument no longer
// declares are removed.
func (s *Scheduler) installLocked(inst config.Instrument, kinds []TriggerKind, now time.Time) ([]JobID, error) {
	triggers, err := TriggersFor(inst, now)
	if err != nil {
		return nil, err
	}

	var installed []JobID
	for _, kind := range kinds {
		id := JobID{Instrument: inst.Name, Kind: kind}
		t, ok := triggers[kind]
		if !ok {
			s.removeLocked(id)
			continue
		}

		b, exists := s.bindings[id]
		if !exists {
			b = &binding{id: id, index: -1}
			s.bindings[id] = b
		}
		b.trigger = t
		b.paused = false
		b.next = t.Next(now)
		s.queueLocked(b)
		installed = append(installed, id)

		s.logger.Debugw("Job scheduled", logger.FieldJobID, id.String(), logger.FieldNextRun, b.next)
	}
	return installed, nil
}

// queueLocked puts b in the queue at its current next fire, or takes it out
// when it has none.
func (s *Scheduler) queueLocked(b *binding) {
	switch {
	case b.next.IsZero() && b.index >= 0:
		heap.Remove(&s.queue, b.index)
	case b.next.IsZero():
	case b.index >= 0:
		heap.Fix(&s.queue, b.index)
	default:
		heap.Push(&s.queue, b)
	}
}

func (s *Scheduler) unpauseLocked(b *binding, now time.Time) {
	b.paused = false
	b.next = b.trigger.Next(now)
	s.queueLocked(b)
}

func (s *Scheduler) removeLocked(id JobID) {
	b, ok := s.bindings[id]
	if !ok {
		return
	}
	if b.index >= 0 {
		heap.Remove(&s.queue, b.index)
	}
	delete(s.bindings, id)
}

// pruneQueueLocked drops bindings that will never fire again.
func (s *Scheduler) pruneQueueLocked() {
	kept := s.queue[:0]
	for _, b := range s.queue {
		if b.next.IsZero() {
			b.index = -1
			continue
		}
		b.index = len(kept)
		kept = append(kept, b)
	}
	s.queue = kept
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the clock: sleep until the earliest binding is due, fire, repeat.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if wait, ok := s.nextWait(); ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-fire:
			s.fireDue(s.now())
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// nextWait returns how long until the earliest binding is due. ok is false
// when nothing can fire: the engine is not running or the queue is empty.
func (s *Scheduler) nextWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || len(s.queue) == 0 {
		return 0, false
	}
	wait := s.queue[0].next.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// fireDue dispatches every binding due at now and moves each to its next
// fire after now. A binding overdue by several periods fires once.
func (s *Scheduler) fireDue(now time.Time) []JobID {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	var due []JobID
	for len(s.queue) > 0 && !s.queue[0].next.After(now) {
		b := s.queue[0]
		due = append(due, b.id)
		b.next = b.trigger.Next(now)
		if b.next.IsZero() {
			heap.Pop(&s.queue)
			s.logger.Warnw("Trigger will not fire again", logger.FieldJobID, b.id.String())
			continue
		}
		heap.Fix(&s.queue, 0)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.logger.Debugw("Firing job", logger.FieldJobID, id.String())
		s.dispatcher.Dispatch(id.String())
	}
	return due
}
