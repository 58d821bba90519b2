package main

import (
	"github.com/loykin/stackctl/internal/orchestrator"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// GlobalFlags are persistent on the root command
type GlobalFlags struct {
	Root       string
	ConfigPath string
	LogLevel   string
}

// UIModeFlags select which toolchain script serves the UI
type UIModeFlags struct {
	Dev     bool
	Release bool
	Web     bool
}

// UpFlags holds flags shared by up and restart
type UpFlags struct {
	NoMCP bool
	NoUI  bool
	UIModeFlags
}

// LogsFlags holds flags for the logs command
type LogsFlags struct {
	Lines int
}

// HistoryFlags holds flags for the history command
type HistoryFlags struct {
	Limit int
}

// Mode maps the flags onto a UI mode. --dev is the default, so it only
// matters for excluding --release.
func (f UIModeFlags) Mode() registry.UIMode {
	return registry.UIMode{Release: f.Release, Web: f.Web}
}

func (f UpFlags) Options() orchestrator.UpOptions {
	return orchestrator.UpOptions{NoMCP: f.NoMCP, NoUI: f.NoUI, UI: f.Mode()}
}

func addUIModeFlags(cmd *cobra.Command, f *UIModeFlags) {
	fs := cmd.Flags()
	bindUIModeFlags(fs, f)
	cmd.MarkFlagsMutuallyExclusive("dev", "release")
}

func bindUIModeFlags(fs *pflag.FlagSet, f *UIModeFlags) {
	fs.BoolVar(&f.Dev, "dev", false, "serve the UI with the development script (default)")
	fs.BoolVar(&f.Release, "release", false, "serve the UI from the release build")
	fs.BoolVar(&f.Web, "web", false, "use the web variant of the selected UI script")
}

func addUpFlags(cmd *cobra.Command, f *UpFlags) {
	cmd.Flags().BoolVar(&f.NoMCP, "no-mcp", false, "do not start the MCP server")
	cmd.Flags().BoolVar(&f.NoUI, "no-ui", false, "do not start the UI server")
	addUIModeFlags(cmd, &f.UIModeFlags)
}
