package schedule

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/limnc/flaked/config"
)

type fakeInstruments struct {
	mu    sync.Mutex
	items []config.Instrument
}

func (f *fakeInstruments) Instrument(name string) (config.Instrument, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.items {
		if inst.Name == name {
			return inst.Clone(), true
		}
	}
	return config.Instrument{}, false
}

func (f *fakeInstruments) Instruments() []config.Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]config.Instrument, len(f.items))
	for i, inst := range f.items {
		out[i] = inst.Clone()
	}
	return out
}

func (f *fakeInstruments) set(items ...config.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingDispatcher) Dispatch(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
	return true
}

func (r *recordingDispatcher) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// busyDispatcher behaves as if every job were still running.
type busyDispatcher struct{ attempts int }

func (b *busyDispatcher) Dispatch(string) bool {
	b.attempts++
	return false
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func bothTriggers(name string) config.Instrument {
	return config.Instrument{
		Name: name,
		Schedule: config.ScheduleConfig{
			Interval: &config.Interval{Value: 1, Unit: config.UnitMinutes},
			Cron:     "0 0 * * *",
		},
	}
}

func intervalOnly(name string, minutes int) config.Instrument {
	return config.Instrument{
		Name: name,
		Schedule: config.ScheduleConfig{
			Interval: &config.Interval{Value: minutes, Unit: config.UnitMinutes},
		},
	}
}

// newTestScheduler returns a scheduler in the running state on a fake clock,
// without the clock goroutine; tests drive it through fireDue.
func newTestScheduler(t *testing.T, items ...config.Instrument) (*Scheduler, *recordingDispatcher, *fakeClock) {
	t.Helper()
	insts := &fakeInstruments{items: items}
	disp := &recordingDispatcher{}
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)}

	s := New(insts, disp, zaptest.NewLogger(t).Sugar())
	s.now = clock.Now
	s.state = StateRunning
	return s, disp, clock
}
