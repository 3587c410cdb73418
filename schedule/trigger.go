// Package schedule owns the job bindings of the engine: one binding per
// instrument trigger, fired from a single goroutine that sleeps until the
// earliest due binding.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
)

// TriggerKind is the kind of trigger behind a job.
type TriggerKind int

const (
	TriggerInterval TriggerKind = iota + 1
	TriggerCron
)

// TriggerKinds lists every kind, in the order jobs of one instrument are
// reported.
var TriggerKinds = []TriggerKind{TriggerInterval, TriggerCron}

func (k TriggerKind) String() string {
	switch k {
	case TriggerInterval:
		return "interval"
	case TriggerCron:
		return "cron"
	}
	return "unknown"
}

// ParseTriggerKind parses "interval" or "cron".
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interval":
		return TriggerInterval, nil
	case "cron":
		return TriggerCron, nil
	}
	return 0, errors.NewInvalidRequestError("unknown trigger kind %q (want interval or cron)", s)
}

// Trigger computes fire times.
type Trigger interface {
	Kind() TriggerKind
	// Next returns the first fire time strictly after t, or the zero time if
	// the trigger never fires again.
	Next(t time.Time) time.Time
	Describe() TriggerInfo
}

// TriggerInfo is the JSON shape of a trigger.
type TriggerInfo struct {
	Type     string `json:"type"`
	Interval int64  `json:"interval,omitempty"` // seconds
	Cron     string `json:"cron,omitempty"`
}

// IntervalTrigger fires every Every, on the grid Anchor + k*Every (k >= 1).
type IntervalTrigger struct {
	Every  time.Duration
	Anchor time.Time
}

func (t IntervalTrigger) Kind() TriggerKind { return TriggerInterval }

func (t IntervalTrigger) Next(after time.Time) time.Time {
	if t.Every <= 0 {
		return time.Time{}
	}
	k := after.Sub(t.Anchor)/t.Every + 1
	if k < 1 {
		k = 1
	}
	return t.Anchor.Add(k * t.Every)
}

func (t IntervalTrigger) Describe() TriggerInfo {
	return TriggerInfo{Type: TriggerInterval.String(), Interval: int64(t.Every / time.Second)}
}

// CronTrigger fires on a standard five-field cron expression, in the local
// time zone.
type CronTrigger struct {
	Expr     string
	schedule cron.Schedule
}

// NewCronTrigger parses expr.
func NewCronTrigger(expr string) (*CronTrigger, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "invalid cron expression %q", expr),
			"use five fields: minute hour day-of-month month day-of-week, e.g. \"0 0 * * *\"")
	}
	return &CronTrigger{Expr: expr, schedule: sched}, nil
}

func (t *CronTrigger) Kind() TriggerKind { return TriggerCron }

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after)
}

func (t *CronTrigger) Describe() TriggerInfo {
	return TriggerInfo{Type: TriggerCron.String(), Cron: t.Expr}
}

// TriggersFor builds the triggers an instrument declares. Interval triggers
// are anchored at anchor.
func TriggersFor(inst config.Instrument, anchor time.Time) (map[TriggerKind]Trigger, error) {
	triggers := make(map[TriggerKind]Trigger, 2)
	if inst.Schedule.Interval != nil {
		every, err := inst.Schedule.Interval.Duration()
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %s", inst.Name)
		}
		triggers[TriggerInterval] = IntervalTrigger{Every: every, Anchor: anchor}
	}
	if inst.Schedule.Cron != "" {
		t, err := NewCronTrigger(inst.Schedule.Cron)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %s", inst.Name)
		}
		triggers[TriggerCron] = t
	}
	return triggers, nil
}
