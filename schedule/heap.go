package schedule

import "time"

// binding is a live job. next is zero while the job is paused.
type binding struct {
	id      JobID
	trigger Trigger
	next    time.Time
	paused  bool
	index   int // position in the queue, -1 when not queued
}

// status reports stopped for every binding while the engine is stopped; the
// binding only records when the job would fire once started.
func (b *binding) status(engine EngineState) JobStatus {
	if engine == StateStopped {
		return JobStopped
	}
	if b.next.IsZero() {
		return JobPaused
	}
	return JobRunning
}

func (b *binding) info(engine EngineState) JobInfo {
	info := JobInfo{
		ID:      b.id.String(),
		Name:    b.id.Instrument,
		Trigger: b.trigger.Describe(),
		Status:  b.status(engine),
	}
	if !b.next.IsZero() {
		next := b.next
		info.NextRunTime = &next
	}
	return info
}

// bindingQueue is a container/heap of queued bindings ordered by next fire.
type bindingQueue []*binding

func (q bindingQueue) Len() int { return len(q) }

func (q bindingQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].id.String() < q[j].id.String()
	}
	return q[i].next.Before(q[j].next)
}

func (q bindingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *bindingQueue) Push(x any) {
	b := x.(*binding)
	b.index = len(*q)
	*q = append(*q, b)
}

func (q *bindingQueue) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*q = old[:n-1]
	return b
}
