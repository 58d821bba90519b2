package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/loykin/stackctl/internal/toolchain"
)

// Command is one of the operations below. The set is closed.
type Command interface {
	Name() string
	command()
}

type (
	Up          struct{ Options UpOptions }
	Down        struct{}
	Restart     struct{ Options UpOptions }
	Status      struct{}
	StopService struct{ Service string }
	BuildUI     struct{}
	Clean       struct{}
	History     struct{ Limit int }
	Version     struct{}
)

type StartService struct {
	Service string
	UI      registry.UIMode
}

type Logs struct {
	Target string // service name, "all" or empty
	Lines  int
}

func (Up) Name() string             { return "up" }
func (Down) Name() string           { return "down" }
func (Restart) Name() string        { return "restart" }
func (Status) Name() string         { return "status" }
func (c StartService) Name() string { return c.Service + " start" }
func (c StopService) Name() string  { return c.Service + " stop" }
func (BuildUI) Name() string        { return "ui build" }
func (Logs) Name() string           { return "logs" }
func (Clean) Name() string          { return "clean" }
func (History) Name() string        { return "history" }
func (Version) Name() string        { return "version" }

func (Up) command()           {}
func (Down) command()         {}
func (Restart) command()      {}
func (Status) command()       {}
func (StartService) command() {}
func (StopService) command()  {}
func (BuildUI) command()      {}
func (Logs) command()         {}
func (Clean) command()        {}
func (History) command()      {}
func (Version) command()      {}

// Mutates reports whether cmd changes processes or files under the root.
func Mutates(cmd Command) bool {
	switch cmd.(type) {
	case Up, Down, Restart, StartService, StopService, BuildUI, Clean:
		return true
	}
	return false
}

// refreshesMetrics reports whether cmd rewrites the metrics textfile. Read-only
// commands other than status leave the last written state in place.
func refreshesMetrics(cmd Command) bool {
	if _, ok := cmd.(Status); ok {
		return true
	}
	return Mutates(cmd)
}

// Execute runs cmd. Status and mutating commands then rewrite the metrics
// textfile from a live observation of every service.
func (o *Orchestrator) Execute(ctx context.Context, cmd Command) Report {
	refresh := o.metrics != nil && refreshesMetrics(cmd)
	if refresh {
		if err := o.metrics.Restore(o.cfg.MetricsTextfile()); err != nil {
			o.logger.Debug("restore metrics", "error", err)
		}
	}

	var rep Report
	switch c := cmd.(type) {
	case Up:
		rep = o.Up(ctx, c.Options)
	case Down:
		rep = o.Down(ctx)
	case Restart:
		rep = o.Restart(ctx, c.Options)
	case Status:
		rep = o.Status(ctx)
	case StartService:
		rep = o.StartService(ctx, c.Service, c.UI)
	case StopService:
		rep = o.StopService(ctx, c.Service)
	case BuildUI:
		rep = o.BuildUI(ctx)
	case Logs:
		rep = o.Logs(c.Target, c.Lines)
	case Clean:
		rep = o.Clean()
	case History:
		rep = o.History(ctx, c.Limit)
	case Version:
		rep = Report{Command: "version", Version: o.version}
	default:
		return Report{Command: fmt.Sprintf("%T", cmd), Err: fmt.Errorf("unsupported command %T", cmd)}
	}
	rep.Command = cmd.Name()

	if refresh {
		o.metrics.MarkCommand(cmd.Name(), o.now())
		if _, ok := cmd.(Status); !ok {
			// sets the state gauges as a side effect
			_ = o.Status(ctx)
		}
		if err := o.metrics.WriteTextfile(o.cfg.MetricsTextfile()); err != nil {
			o.logger.Debug("metrics textfile", "error", err)
		}
	}
	return rep
}

// BuildUI runs the toolchain build in the foreground.
func (o *Orchestrator) BuildUI(ctx context.Context) Report {
	rep := Report{Command: "ui build"}
	spec := registry.BuildSpec(o.cfg)
	if !toolchain.Available(o.tools, spec.Executable) {
		o.logger.Warn("toolchain not found, skipping build", "toolchain", spec.Executable)
		rep.Up = []Outcome{{Service: registry.UI, State: Skipped, Detail: fmt.Sprintf("%s not found", spec.Executable)}}
		return rep
	}
	err := o.runner.Run(ctx, process.Spec{
		Name:       registry.UI,
		Executable: spec.Executable,
		Args:       spec.Args,
		WorkDir:    spec.WorkDir,
		Env:        o.env.Merge(spec.Env),
	}, o.stdout, o.stderr)
	if err != nil {
		rep.Err = &ServiceError{Service: registry.UI, Op: "build", Err: err}
		rep.Up = []Outcome{{Service: registry.UI, State: Failed, Err: rep.Err}}
		return rep
	}
	rep.Up = []Outcome{{Service: registry.UI, State: Stopped, Detail: "build finished"}}
	return rep
}

// Logs tails one service's sinks or, for "all" and "", every managed log.
func (o *Orchestrator) Logs(target string, lines int) Report {
	rep := Report{Command: "logs"}
	if lines <= 0 {
		lines = 50
	}
	if target == "" || target == "all" {
		rep.Err = o.logs.TailAll(o.stdout, lines)
		return rep
	}
	reg, err := o.descriptors(registry.UIMode{})
	if err != nil {
		rep.Err = err
		return rep
	}
	if !reg.Has(target) {
		rep.Err = fmt.Errorf("%w: %q", registry.ErrUnknownService, target)
		return rep
	}
	rep.Err = o.logs.TailService(o.stdout, target, lines)
	return rep
}

// Clean removes every managed log file and PID record. Running services keep
// running; their open sinks are simply unlinked.
func (o *Orchestrator) Clean() Report {
	rep := Report{Command: "clean"}
	files, lerr := o.logs.Clean()
	rep.Removed = append(rep.Removed, files...)
	names, perr := o.pids.ClearAll()
	for _, n := range names {
		rep.Removed = append(rep.Removed, n+" pid record")
	}
	rep.Err = errors.Join(lerr, perr)
	return rep
}

// History lists the most recent lifecycle events, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) Report {
	evs, err := o.history.Recent(ctx, limit)
	return Report{Command: "history", Events: evs, Err: err}
}
