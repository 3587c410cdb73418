package schedule

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/limnc/flaked/errors"
)

// SystemMetrics is a snapshot of dispatcher activity and host memory.
type SystemMetrics struct {
	DispatchStats
	RunningJobs   []string `json:"running_jobs"`
	MemoryUsedGB  float64  `json:"memory_used_gb"`
	MemoryTotalGB float64  `json:"memory_total_gb"`
	MemoryPercent float64  `json:"memory_percent"`
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// Metrics returns the current metrics. Memory figures are zero when the host
// does not report them.
func (d *Dispatcher) Metrics() SystemMetrics {
	m := SystemMetrics{
		DispatchStats: d.Stats(),
		RunningJobs:   d.Running(),
	}

	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		const gb = 1024 * 1024 * 1024
		m.MemoryTotalGB = float64(total) / gb
		m.MemoryUsedGB = float64(total-available) / gb
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}
