package process

import (
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Info is a point-in-time view of a running process.
type Info struct {
	PID       int
	StartedAt time.Time
	RSS       uint64 // bytes
	Command   string
}

// Uptime relative to now; zero when the start time is unknown.
func (i Info) Uptime(now time.Time) time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(i.StartedAt).Truncate(time.Second)
}

// Inspect collects what is visible about pid. Missing fields stay zero; the
// error is only set when pid is not a live process.
func Inspect(pid int) (Info, error) {
	info := Info{PID: pid}
	if !Alive(pid) {
		return info, fmt.Errorf("process %d is not running", pid)
	}
	if t, err := StartTime(pid); err == nil {
		info.StartedAt = t
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return info, nil
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		info.RSS = mi.RSS
	}
	if name, err := p.Name(); err == nil {
		info.Command = name
	}
	return info, nil
}
