package schedule

import (
	"strings"
	"time"

	"github.com/limnc/flaked/errors"
)

// JobID identifies a job: an instrument and one of its triggers. Its string
// form is "<instrument>:<kind>".
type JobID struct {
	Instrument string
	Kind       TriggerKind
}

func (id JobID) String() string {
	return id.Instrument + ":" + id.Kind.String()
}

// ParseJobID parses "<instrument>:<kind>".
func ParseJobID(s string) (JobID, error) {
	name, kind, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return JobID{}, errors.NewInvalidRequestError("invalid job id %q (want <instrument>:interval or <instrument>:cron)", s)
	}
	k, err := ParseTriggerKind(kind)
	if err != nil {
		return JobID{}, err
	}
	return JobID{Instrument: name, Kind: k}, nil
}

// InstrumentName returns the instrument part of a job id. A bare instrument
// name is returned unchanged.
func InstrumentName(id string) string {
	name, _, _ := strings.Cut(id, ":")
	return name
}

// EngineState is the state of the whole scheduler.
type EngineState int

const (
	StateStopped EngineState = iota
	StateRunning
	StatePaused
)

func (s EngineState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}
	return "stopped"
}

func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// JobStatus is the derived status of one job.
type JobStatus string

const (
	JobStopped JobStatus = "stopped" // no binding
	JobPaused  JobStatus = "paused"  // binding without a next fire time
	JobRunning JobStatus = "running"
)

// ControlAction is a start/stop/pause/resume request, for the engine or a job.
type ControlAction int

const (
	ActionStart ControlAction = iota + 1
	ActionStop
	ActionPause
	ActionResume
)

func (a ControlAction) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	}
	return "unknown"
}

// ParseControlAction parses start, stop, pause or resume.
func ParseControlAction(s string) (ControlAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return ActionStart, nil
	case "stop":
		return ActionStop, nil
	case "pause":
		return ActionPause, nil
	case "resume":
		return ActionResume, nil
	}
	return 0, errors.NewInvalidRequestError("unknown action %q (want start, stop, pause or resume)", s)
}

// JobInfo describes a job for listings.
type JobInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Trigger     TriggerInfo `json:"trigger"`
	NextRunTime *time.Time  `json:"next_run_time"`
	Status      JobStatus   `json:"status"`
}
