package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// runLimiter keeps one token bucket per job id for manual runs.
type runLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newRunLimiter(limit rate.Limit, burst int) *runLimiter {
	return &runLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a manual run of jobID may start now.
func (l *runLimiter) Allow(jobID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[jobID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[jobID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
