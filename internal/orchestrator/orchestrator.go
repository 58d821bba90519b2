// Package orchestrator sequences the managed services: it reclaims ports,
// launches processes, records PIDs, waits for readiness and reports what it
// observed. Every call is synchronous; there is no background loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/env"
	"github.com/loykin/stackctl/internal/health"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/logs"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/pidstore"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/reaper"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/loykin/stackctl/internal/retry"
	"github.com/loykin/stackctl/internal/toolchain"
)

// UpOptions are the flags shared by up, restart and ui start.
type UpOptions struct {
	NoMCP bool
	NoUI  bool
	UI    registry.UIMode
}

type Orchestrator struct {
	cfg         config.Config
	env         env.Env
	descriptors func(registry.UIMode) (*registry.Registry, error)

	reaper   Reaper
	launcher Launcher
	runner   Runner
	pids     PIDStore
	prober   Prober
	inspect  Inspector
	killer   Killer
	tools    toolchain.Locator
	logs     *logs.Router
	history  HistoryStore
	metrics  *metrics.Recorder

	sleep   retry.Sleeper
	now     func() time.Time
	stdout  io.Writer
	stderr  io.Writer
	version string
	logger  *slog.Logger
}

// New wires an orchestrator for cfg. Collaborators default to the real
// implementations and can be replaced with options.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base := env.New()
	if cfg.InheritEnv {
		base = base.Inherit()
	}
	base = base.WithSet(config.EnvPrefix+"_ROOT", cfg.Root).WithPairs(cfg.Env)
	logger.Debug("service environment", "inherit_os", base.Inherits(), "globals", len(cfg.Env))

	pl := process.NewLauncher(logger)
	o := &Orchestrator{
		cfg: cfg,
		env: base,
		descriptors: func(mode registry.UIMode) (*registry.Registry, error) {
			return registry.FromConfig(cfg, mode)
		},
		reaper:   reaper.New(cfg.Timings.GracePeriod, logger),
		launcher: launcherAdapter{l: pl},
		runner:   pl,
		pids:     pidstore.New(cfg.PIDDir()),
		prober: health.New(retry.Policy{
			Interval:    cfg.Timings.ProbeInterval,
			MaxAttempts: cfg.Timings.ProbeAttempts,
		}, logger),
		inspect: liveInspector{logger: logger},
		killer:  signalKiller{},
		tools:   toolchain.PathLocator{},
		logs:    logs.NewRouter(cfg.LogDir(), cfg.Logs.ExtraDirs...),
		history: history.Nop{},
		sleep:   retry.Sleep,
		now:     time.Now,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Up starts every enabled service in dependency order. A launch failure marks
// that service FAILED and the chain continues.
func (o *Orchestrator) Up(ctx context.Context, opts UpOptions) Report {
	rep := Report{Command: "up"}
	reg, err := o.descriptors(opts.UI)
	if err != nil {
		rep.Err = err
		return rep
	}
	if err := o.logs.EnsureDirs(); err != nil {
		rep.Err = fmt.Errorf("create log dir: %w", err)
		return rep
	}
	var errs []error
	for _, d := range reg.StartOrder() {
		var out Outcome
		switch {
		case d.Name == registry.MCP && opts.NoMCP:
			out = Outcome{Service: d.Name, State: Skipped, Detail: "disabled by --no-mcp"}
		case d.Name == registry.UI && opts.NoUI:
			out = Outcome{Service: d.Name, State: Skipped, Detail: "disabled by --no-ui"}
		case ctx.Err() != nil:
			out = Outcome{Service: d.Name, State: Skipped, Detail: "interrupted"}
		default:
			out = o.start(ctx, d)
		}
		if out.State == Failed {
			errs = append(errs, out.Err)
		}
		rep.Up = append(rep.Up, out)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	rep.Err = errors.Join(errs...)
	return rep
}

// Down stops every service in reverse dependency order. It is idempotent and
// never fails; problems are logged.
func (o *Orchestrator) Down(ctx context.Context) Report {
	rep := Report{Command: "down"}
	reg, err := o.descriptors(registry.UIMode{})
	if err != nil {
		rep.Err = err
		return rep
	}
	for _, d := range reg.StopOrder() {
		rep.Down = append(rep.Down, o.stop(ctx, d))
	}
	return rep
}

// Restart is Down, a fixed pause, then Up with the same options.
func (o *Orchestrator) Restart(ctx context.Context, opts UpOptions) Report {
	down := o.Down(ctx)
	if down.Err != nil {
		down.Command = "restart"
		return down
	}
	if err := o.sleep(ctx, o.cfg.Timings.RestartPause); err != nil {
		return Report{Command: "restart", Down: down.Down, Err: err}
	}
	up := o.Up(ctx, opts)
	up.Command = "restart"
	up.Down = down.Down
	return up
}

// StartService runs the up sequence for a single service.
func (o *Orchestrator) StartService(ctx context.Context, name string, mode registry.UIMode) Report {
	rep := Report{Command: name + " start"}
	d, err := o.lookup(name, mode)
	if err != nil {
		rep.Err = err
		return rep
	}
	if err := o.logs.EnsureDirs(); err != nil {
		rep.Err = fmt.Errorf("create log dir: %w", err)
		return rep
	}
	out := o.start(ctx, d)
	rep.Up = []Outcome{out}
	if out.State == Failed {
		rep.Err = out.Err
	}
	return rep
}

// StopService runs the down sequence for a single service.
func (o *Orchestrator) StopService(ctx context.Context, name string) Report {
	rep := Report{Command: name + " stop"}
	d, err := o.lookup(name, registry.UIMode{})
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Down = []Outcome{o.stop(ctx, d)}
	return rep
}

func (o *Orchestrator) lookup(name string, mode registry.UIMode) (registry.Descriptor, error) {
	reg, err := o.descriptors(mode)
	if err != nil {
		return registry.Descriptor{}, err
	}
	return reg.Get(name)
}

// start reclaims the port, launches, records and probes one service.
func (o *Orchestrator) start(ctx context.Context, d registry.Descriptor) Outcome {
	lg := o.logger.With("service", d.Name)
	out := Outcome{Service: d.Name, State: Starting, Endpoint: d.Endpoint()}

	if d.Toolchain {
		if !toolchain.Available(o.tools, d.Launch.Executable) {
			lg.Warn("toolchain not found, skipping", "toolchain", d.Launch.Executable)
			out.State = Skipped
			out.Detail = fmt.Sprintf("%s not found", d.Launch.Executable)
			o.record(ctx, history.EventSkipped, d, 0, out.Detail)
			return out
		}
	}

	out.Reclaimed = o.reaper.Reclaim(ctx, d.Port)
	if len(out.Reclaimed) > 0 {
		o.metrics.AddReclaimed(d.Name, len(out.Reclaimed))
		o.record(ctx, history.EventReclaim, d, out.Reclaimed[0], fmt.Sprintf("killed %v", out.Reclaimed))
	}

	spec := process.Spec{
		Name:       d.Name,
		Executable: d.Launch.Executable,
		Args:       d.Launch.Args,
		WorkDir:    d.Launch.WorkDir,
		Env:        o.env.Merge(d.Launch.Env),
	}
	pid, err := o.launcher.Launch(spec, o.logs.Sinks(d.Name))
	if err != nil {
		lg.Error("launch failed", "error", err)
		out.State = Failed
		out.Err = &ServiceError{Service: d.Name, Op: "launch", Err: err}
		o.metrics.IncLaunch(d.Name, "error")
		o.record(ctx, history.EventFailed, d, 0, err.Error())
		return out
	}
	out.PID = pid
	o.metrics.IncLaunch(d.Name, "ok")
	if err := o.pids.Save(d.Name, pid); err != nil {
		lg.Warn("record pid", "pid", pid, "error", err)
	}
	o.record(ctx, history.EventLaunch, d, pid, d.Launch.CommandLine())
	lg.Info("launched", "pid", pid, "port", d.Port)

	res := o.prober.Probe(ctx, d.ReadinessURL())
	out.Attempts = res.Attempts
	out.Elapsed = res.Elapsed
	o.metrics.ObserveProbe(d.Name, res.Attempts, res.Elapsed)
	if res.Ready {
		out.State = Running
		o.record(ctx, history.EventReady, d, pid, "")
		lg.Info("ready", "url", d.ReadinessURL(), "attempts", res.Attempts)
		return out
	}
	out.State = Degraded
	out.Detail = "not ready"
	if res.Err != nil {
		out.Detail = res.Err.Error()
	}
	o.record(ctx, history.EventDegraded, d, pid, out.Detail)
	lg.Warn("not ready", "url", d.ReadinessURL(), "attempts", res.Attempts, "error", res.Err)
	return out
}

// stop kills every listener on the port, plus the recorded pid when it is
// still alive without owning the port, then clears the record.
func (o *Orchestrator) stop(ctx context.Context, d registry.Descriptor) Outcome {
	lg := o.logger.With("service", d.Name)
	out := Outcome{Service: d.Name, State: Stopped}

	out.Reclaimed = o.reaper.Reclaim(ctx, d.Port)

	pid, ok, err := o.pids.Load(d.Name)
	if err != nil {
		lg.Warn("read pid record", "error", err)
	}
	if ok {
		out.PID = pid
		if !slices.Contains(out.Reclaimed, pid) {
			switch owned, why := o.owned(d.Name, pid); {
			case owned:
				if err := o.killer.Kill(pid, syscall.SIGKILL); err != nil {
					lg.Debug("kill recorded pid", "pid", pid, "error", err)
				} else {
					out.Reclaimed = append(out.Reclaimed, pid)
				}
			case why != "":
				lg.Warn("leaving recorded pid alone", "pid", pid, "reason", why)
			}
		}
	}
	if err := o.pids.Clear(d.Name); err != nil {
		lg.Warn("clear pid record", "error", err)
	}

	switch {
	case len(out.Reclaimed) > 0:
		out.Detail = fmt.Sprintf("killed %v", out.Reclaimed)
		o.record(ctx, history.EventStop, d, out.Reclaimed[0], out.Detail)
		lg.Info("stopped", "killed", out.Reclaimed)
	default:
		out.Detail = "not running"
		lg.Debug("nothing to stop")
	}
	return out
}

// Status checks every service live. Nothing is cached between calls.
func (o *Orchestrator) Status(ctx context.Context) Report {
	rep := Report{Command: "status"}
	reg, err := o.descriptors(registry.UIMode{})
	if err != nil {
		rep.Err = err
		return rep
	}
	now := o.now()
	for _, d := range reg.StartOrder() {
		obs := o.observe(ctx, d, now)
		o.metrics.SetState(d.Name, obs.State.String(), ObservableStates(), obs.Listening)
		if obs.PID > 0 && obs.Listening {
			o.metrics.ObserveProcess(d.Name, obs.RSS, obs.Uptime)
		}
		rep.Observations = append(rep.Observations, obs)
	}
	return rep
}

func (o *Orchestrator) observe(ctx context.Context, d registry.Descriptor, now time.Time) Observation {
	obs := Observation{Service: d.Name, Port: d.Port, Endpoint: d.Endpoint(), State: Stopped}
	obs.Listening = o.inspect.Listening(d)

	pid, recorded, err := o.pids.Load(d.Name)
	if err != nil {
		o.logger.Debug("read pid record", "service", d.Name, "error", err)
	}
	var alive bool
	var why string
	if recorded {
		alive, why = o.owned(d.Name, pid)
	}

	switch {
	case obs.Listening && alive:
		obs.State = Running
		obs.PID = pid
	case obs.Listening:
		obs.State = RunningUntracked
		if owners, err := o.reaper.Owners(ctx, d.Port); err == nil && len(owners) > 0 {
			obs.PID = owners[0]
		}
	case alive:
		obs.PID = pid
		obs.Detail = fmt.Sprintf("pid %d alive but port %d not listening", pid, d.Port)
	case recorded:
		obs.Detail = fmt.Sprintf("stale record for pid %d", pid)
	}
	if why != "" {
		obs.Detail = why
	}

	if obs.PID > 0 {
		if info, err := o.inspect.Inspect(obs.PID); err == nil {
			obs.Uptime = info.Uptime(now)
			obs.RSS = info.RSS
		}
	}
	return obs
}

// recordSlack absorbs start times that some systems round to whole seconds.
const recordSlack = time.Second

// owned reports whether the recorded pid still names the process the record
// was written for. A live pid whose start time is unknown or later than the
// record is someone else's, and why says so.
func (o *Orchestrator) owned(name string, pid int) (ok bool, why string) {
	if !o.inspect.Alive(pid) {
		return false, ""
	}
	saved, err := o.pids.SavedAt(name)
	if err != nil {
		return false, fmt.Sprintf("cannot date record for pid %d: %v", pid, err)
	}
	info, err := o.inspect.Inspect(pid)
	if err != nil || info.StartedAt.IsZero() {
		return false, fmt.Sprintf("cannot verify start time of pid %d", pid)
	}
	if info.StartedAt.After(saved.Add(recordSlack)) {
		return false, fmt.Sprintf("pid %d reused by a process started %s", pid, info.StartedAt.Format(time.RFC3339))
	}
	return true, ""
}

func (o *Orchestrator) record(ctx context.Context, typ history.EventType, d registry.Descriptor, pid int, detail string) {
	e := history.Event{Type: typ, OccurredAt: o.now(), Service: d.Name, PID: pid, Port: d.Port, Detail: detail}
	if err := o.history.Send(ctx, e); err != nil {
		o.logger.Debug("record history", "event", typ, "service", d.Name, "error", err)
	}
}
