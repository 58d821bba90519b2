// Package reaper frees a TCP port by killing whatever listens on it.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"syscall"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/loykin/stackctl/internal/process"
)

// Finder lists PIDs holding a listening TCP socket on a port.
type Finder interface {
	Listeners(ctx context.Context, port int) ([]int, error)
}

// Killer delivers a signal to a PID.
type Killer interface {
	Kill(pid int, sig syscall.Signal) error
}

// Reaper reclaims ports before a launch and during stop.
type Reaper struct {
	finder Finder
	killer Killer
	grace  time.Duration
	sleep  func(context.Context, time.Duration) error
	self   int
	logger *slog.Logger
}

type Option func(*Reaper)

func WithFinder(f Finder) Option { return func(r *Reaper) { r.finder = f } }
func WithKiller(k Killer) Option { return func(r *Reaper) { r.killer = k } }

// WithSleep replaces the grace wait, mainly for tests.
func WithSleep(s func(context.Context, time.Duration) error) Option {
	return func(r *Reaper) { r.sleep = s }
}

func New(grace time.Duration, logger *slog.Logger, opts ...Option) *Reaper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Reaper{
		finder: SocketTable{},
		killer: signalKiller{},
		grace:  grace,
		sleep:  sleepCtx,
		self:   os.Getpid(),
		logger: logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reclaim SIGKILLs every listener on port except the controller itself and
// waits the grace period when anything was signalled. It returns the PIDs it
// signalled. Discovery and kill failures are logged and swallowed.
func (r *Reaper) Reclaim(ctx context.Context, port int) []int {
	pids, err := r.finder.Listeners(ctx, port)
	if err != nil {
		r.logger.Debug("list listeners", "port", port, "error", err)
		return nil
	}
	var killed []int
	for _, pid := range pids {
		if pid == r.self || pid <= 0 {
			continue
		}
		if err := r.killer.Kill(pid, syscall.SIGKILL); err != nil {
			r.logger.Debug("kill listener", "port", port, "pid", pid, "error", err)
			continue
		}
		r.logger.Info("killed listener", "port", port, "pid", pid)
		killed = append(killed, pid)
	}
	if len(killed) > 0 && r.grace > 0 {
		if err := r.sleep(ctx, r.grace); err != nil {
			r.logger.Debug("grace wait interrupted", "port", port, "error", err)
		}
	}
	return killed
}

// Owners returns the PIDs listening on port without touching them.
func (r *Reaper) Owners(ctx context.Context, port int) ([]int, error) {
	return r.finder.Listeners(ctx, port)
}

// SocketTable reads the system socket table through gopsutil.
type SocketTable struct{}

func (SocketTable) Listeners(ctx context.Context, port int) ([]int, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := map[int]struct{}{}
	var out []int
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		pid := int(c.Pid)
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	sort.Ints(out)
	return out, nil
}

type signalKiller struct{}

func (signalKiller) Kill(pid int, sig syscall.Signal) error { return process.Kill(pid, sig) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
