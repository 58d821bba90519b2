package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/stackctl/internal/orchestrator"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot assembles the command tree. extra options are handed to every
// orchestrator the commands create.
func buildRoot(stdout, stderr io.Writer, extra ...orchestrator.Option) *cobra.Command {
	globalFlags := &GlobalFlags{}
	upFlags := &UpFlags{}
	restartFlags := &UpFlags{}
	logsFlags := &LogsFlags{}
	historyFlags := &HistoryFlags{}

	stackCommand := &command{global: globalFlags, stdout: stdout, stderr: stderr, extra: extra}

	root := createRootCommand(globalFlags)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		createUpCommand(stackCommand, upFlags),
		createDownCommand(stackCommand),
		createRestartCommand(stackCommand, restartFlags),
		createStatusCommand(stackCommand),
		createServiceCommand(stackCommand, registry.Backend, "backend API server"),
		createServiceCommand(stackCommand, registry.MCP, "MCP server"),
		createUICommand(stackCommand),
		createLogsCommand(stackCommand, logsFlags),
		createCleanCommand(stackCommand),
		createHistoryCommand(stackCommand, historyFlags),
		createVersionCommand(stackCommand),
	)
	return root
}

// showHelp backs group commands: anything not recognised prints usage and
// succeeds.
func showHelp(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unknown command %q for %q\n\n", args[0], cmd.CommandPath())
	}
	return cmd.Help()
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Local control plane for the backend, MCP and UI services",
		Long: `stackctl starts, stops and inspects the services of a local development
stack. Each command runs to completion and exits; nothing keeps running in
the background besides the services themselves.

Examples:
  stackctl up                      # backend, MCP server and UI
  stackctl up --no-ui --release    # skip the UI
  stackctl status
  stackctl logs backend -n 100
  stackctl down`,
		Args:          cobra.ArbitraryArgs,
		RunE:          showHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.Root, "root", "", "project root (default $STACKCTL_ROOT or the working directory)")
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default <root>/stackctl.toml when present)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug, info, warn or error")

	return root
}

func createUpCommand(c *command, flags *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start every service in dependency order",
		Long: `Reclaim each service port, launch the service detached, record its PID
and wait for its readiness endpoint. A service that never becomes ready is
reported DEGRADED and left running; the remaining services still start.

Examples:
  stackctl up
  stackctl up --no-mcp
  stackctl up --release --web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.Up{Options: flags.Options()})
		},
	}
	addUpFlags(cmd, flags)
	return cmd
}

func createDownCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop every service in reverse dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.Down{})
		},
	}
}

func createRestartCommand(c *command, flags *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Run down, pause, then up with the given flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.Restart{Options: flags.Options()})
		},
	}
	addUpFlags(cmd, flags)
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live state of every service",
		Long: `Check each service port and recorded PID now. States:
  RUNNING            port listening, recorded process alive
  RUNNING_UNTRACKED  port listening, no live recorded process
  STOPPED            nothing listening`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.Status{})
		},
	}
}

// createServiceCommand builds "<service> start|stop" for a process-backed service.
func createServiceCommand(c *command, name, what string) *cobra.Command {
	group := &cobra.Command{
		Use:   name,
		Short: "Start or stop the " + what,
		Args:  cobra.ArbitraryArgs,
		RunE:  showHelp,
	}
	group.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the " + what,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), orchestrator.StartService{Service: name})
			},
		},
		createStopCommand(c, name, what),
	)
	return group
}

func createStopCommand(c *command, name, what string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the " + what,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.StopService{Service: name})
		},
	}
}

func createUICommand(c *command) *cobra.Command {
	modeFlags := &UIModeFlags{}

	group := &cobra.Command{
		Use:   registry.UI,
		Short: "Start, stop or build the UI",
		Long: `The UI runs through an external toolchain (npm by default). When the
toolchain is not installed, start and build are skipped with a warning.`,
		Args: cobra.ArbitraryArgs,
		RunE: showHelp,
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the UI server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.StartService{Service: registry.UI, UI: modeFlags.Mode()})
		},
	}
	addUIModeFlags(start, modeFlags)

	build := &cobra.Command{
		Use:   "build",
		Short: "Build the UI with its toolchain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.BuildUI{})
		},
	}

	group.AddCommand(start, createStopCommand(c, registry.UI, "UI server"), build)
	return group
}

func createLogsCommand(c *command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [backend|mcp|ui|all]",
		Short: "Print the last lines of service logs",
		Long: `Print the tail of a service's stdout and stderr logs, or of every log file
under the managed log directories when no service or "all" is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			return c.run(cmd.Context(), orchestrator.Logs{Target: target, Lines: flags.Lines})
		},
	}
	cmd.Flags().IntVarP(&flags.Lines, "lines", "n", 50, "number of lines per file")
	return cmd
}

func createCleanCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove all log files and PID records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.Clean{})
		},
	}
}

func createHistoryCommand(c *command, flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), orchestrator.History{Limit: flags.Limit})
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum number of events")
	return cmd
}

func createVersionCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stackctl version",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.run(cmd.Context(), orchestrator.Version{}); err != nil {
				// a broken config never hides the version
				printVersion(c.stdout, version)
			}
			return nil
		},
	}
}
