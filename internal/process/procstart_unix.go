//go:build !windows

package process

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

var errNoStartTime = errors.New("start time unavailable")

// StartTime returns when pid was started. Linux reads /proc directly; other
// systems go through gopsutil.
func StartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, errNoStartTime
	}
	if runtime.GOOS == "linux" {
		return startTimeLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, err
	}
	ms, err := p.CreateTime()
	if err != nil {
		return time.Time{}, err
	}
	if ms <= 0 {
		return time.Time{}, errNoStartTime
	}
	return time.UnixMilli(ms), nil
}

func startTimeLinux(pid int) (time.Time, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return time.Time{}, err
	}
	ticks, err := parseStartTicks(string(b))
	if err != nil {
		return time.Time{}, err
	}
	btime, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	secs := float64(ticks) / float64(clk)
	return time.Unix(btime, 0).Add(time.Duration(secs * float64(time.Second))), nil
}

// parseStartTicks extracts field 22 (starttime) of /proc/<pid>/stat. The comm
// field may contain spaces, so parsing starts after the last ") ".
func parseStartTicks(stat string) (int64, error) {
	end := strings.LastIndex(stat, ") ")
	if end == -1 {
		return 0, fmt.Errorf("malformed stat line")
	}
	parts := strings.Fields(stat[end+2:])
	if len(parts) < 20 {
		return 0, fmt.Errorf("short stat line: %d fields", len(parts))
	}
	ticks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil {
		return 0, err
	}
	if ticks <= 0 {
		return 0, errNoStartTime
	}
	return ticks, nil
}

func bootTime() (int64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("btime not found in /proc/stat")
}
