package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/detector"
	"github.com/loykin/stackctl/internal/health"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/logs"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/loykin/stackctl/internal/retry"
	"github.com/loykin/stackctl/internal/toolchain"
)

// Reaper frees service ports.
type Reaper interface {
	Reclaim(ctx context.Context, port int) []int
	Owners(ctx context.Context, port int) ([]int, error)
}

// Launcher spawns a detached service and returns its pid.
type Launcher interface {
	Launch(spec process.Spec, sinks process.Sinks) (int, error)
}

// Runner executes a one-shot command in the foreground.
type Runner interface {
	Run(ctx context.Context, spec process.Spec, stdout, stderr io.Writer) error
}

// PIDStore persists launch records.
type PIDStore interface {
	Save(name string, pid int) error
	Load(name string) (int, bool, error)
	SavedAt(name string) (time.Time, error)
	Clear(name string) error
	ClearAll() ([]string, error)
}

// Prober waits for readiness.
type Prober interface {
	Probe(ctx context.Context, url string) health.Result
}

// Inspector answers live questions about ports and processes.
type Inspector interface {
	Listening(d registry.Descriptor) bool
	Alive(pid int) bool
	Inspect(pid int) (process.Info, error)
}

// Killer signals a process.
type Killer interface {
	Kill(pid int, sig syscall.Signal) error
}

// HistoryStore records and lists lifecycle events.
type HistoryStore interface {
	history.Sink
	history.Reader
}

type Option func(*Orchestrator)

func WithReaper(r Reaper) Option                 { return func(o *Orchestrator) { o.reaper = r } }
func WithLauncher(l Launcher) Option             { return func(o *Orchestrator) { o.launcher = l } }
func WithRunner(r Runner) Option                 { return func(o *Orchestrator) { o.runner = r } }
func WithPIDStore(s PIDStore) Option             { return func(o *Orchestrator) { o.pids = s } }
func WithProber(p Prober) Option                 { return func(o *Orchestrator) { o.prober = p } }
func WithInspector(i Inspector) Option           { return func(o *Orchestrator) { o.inspect = i } }
func WithKiller(k Killer) Option                 { return func(o *Orchestrator) { o.killer = k } }
func WithToolchain(l toolchain.Locator) Option   { return func(o *Orchestrator) { o.tools = l } }
func WithLogs(r *logs.Router) Option             { return func(o *Orchestrator) { o.logs = r } }
func WithHistory(h HistoryStore) Option          { return func(o *Orchestrator) { o.history = h } }
func WithMetrics(m *metrics.Recorder) Option     { return func(o *Orchestrator) { o.metrics = m } }
func WithSleep(s retry.Sleeper) Option           { return func(o *Orchestrator) { o.sleep = s } }
func WithClock(now func() time.Time) Option      { return func(o *Orchestrator) { o.now = now } }
func WithOutput(stdout, stderr io.Writer) Option { return func(o *Orchestrator) { o.stdout, o.stderr = stdout, stderr } }
func WithVersion(v string) Option                { return func(o *Orchestrator) { o.version = v } }

// WithRegistry pins the descriptors regardless of UI mode.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) {
		o.descriptors = func(registry.UIMode) (*registry.Registry, error) { return r, nil }
	}
}

// launcherAdapter hands the sink handles back as soon as the child runs.
type launcherAdapter struct{ l *process.Launcher }

func (a launcherAdapter) Launch(spec process.Spec, sinks process.Sinks) (int, error) {
	p, err := a.l.Launch(spec, sinks)
	if err != nil {
		return 0, err
	}
	pid := p.PID()
	_ = p.Close()
	return pid, nil
}

type liveInspector struct{ logger *slog.Logger }

func (i liveInspector) Listening(d registry.Descriptor) bool {
	return i.detect(detector.PortDetector{Address: d.Address()})
}

func (i liveInspector) Alive(pid int) bool { return i.detect(detector.PIDDetector{PID: pid}) }

func (liveInspector) Inspect(pid int) (process.Info, error) { return process.Inspect(pid) }

// detect treats a detector error as "not running".
func (i liveInspector) detect(det detector.Detector) bool {
	ok, err := det.Alive()
	if err != nil {
		i.logger.Debug("detector failed", "target", det.Describe(), "error", err)
		return false
	}
	return ok
}

type signalKiller struct{}

func (signalKiller) Kill(pid int, sig syscall.Signal) error { return process.Kill(pid, sig) }
