package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/history/factory"
	"github.com/loykin/stackctl/internal/lock"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/logs"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/orchestrator"
)

// command carries what every subcommand needs to reach the orchestrator.
type command struct {
	global *GlobalFlags
	stdout io.Writer
	stderr io.Writer
	extra  []orchestrator.Option
}

// run loads configuration, wires the orchestrator for one invocation,
// executes cmd and prints its report. The returned error decides the exit code.
func (c *command) run(ctx context.Context, cmd orchestrator.Command) error {
	cfg, err := config.Load(config.Options{
		Root:       c.global.Root,
		ConfigPath: c.global.ConfigPath,
		LogLevel:   c.global.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, closer, err := logger.New(cfg.Log, c.stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	lg = lg.With("command", cmd.Name())

	if orchestrator.Mutates(cmd) {
		lk, err := lock.TryAcquire(cfg.LockPath())
		if err != nil {
			return err
		}
		defer func() { _ = lk.Release() }()
	}

	opts := []orchestrator.Option{
		orchestrator.WithOutput(c.stdout, c.stderr),
		orchestrator.WithVersion(version),
	}
	if store := openHistory(cfg, cmd, lg); store != nil {
		defer func() { _ = store.Close() }()
		opts = append(opts, orchestrator.WithHistory(store))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, orchestrator.WithMetrics(metrics.New()))
	}
	opts = append(opts, c.extra...)

	o := orchestrator.New(cfg, lg, opts...)
	rep := o.Execute(ctx, cmd)

	p := printer{w: c.stdout, logs: logs.NewRouter(cfg.LogDir(), cfg.Logs.ExtraDirs...)}
	p.report(rep)
	if failed := rep.FailedServices(); len(failed) > 0 {
		return fmt.Errorf("%s: failed: %s", rep.Command, strings.Join(failed, ", "))
	}
	return rep.Err
}

// openHistory returns nil when history is disabled, not needed by cmd, or
// the sink cannot be opened. History never blocks a lifecycle command.
func openHistory(cfg config.Config, cmd orchestrator.Command, lg *slog.Logger) factory.Store {
	if !cfg.History.Enabled {
		return nil
	}
	if _, ok := cmd.(orchestrator.History); !ok && !orchestrator.Mutates(cmd) {
		return nil
	}
	store, err := factory.NewSinkFromDSN(cfg.HistoryDSN())
	if err != nil {
		lg.Warn("history unavailable", "dsn", cfg.HistoryDSN(), "error", err)
		return nil
	}
	return store
}
