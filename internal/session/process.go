package session

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats describes the hosting process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	CPUPercent float64 `json:"cpu_percent"`
	Uptime     string  `json:"uptime"`
}

// HostStats samples the current process. Fields the platform cannot report
// are left zero; the sample itself never fails.
func (s *Session) HostStats() ProcessStats {
	pid := os.Getpid()
	stats := ProcessStats{
		PID:    pid,
		Uptime: time.Since(s.createdAt).Truncate(time.Second).String(),
	}

	proc, err := process.NewProcess(int32(pid)) //nolint:gosec // pid fits in int32 on supported platforms
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to open process for stats")
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if n, err := proc.NumThreads(); err == nil {
		stats.Threads = n
	}
	if pct, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	return stats
}
