package registry

import (
	"strconv"
	"strings"

	"github.com/loykin/stackctl/internal/config"
)

// FromConfig builds the three managed services: backend, then mcp, then ui.
func FromConfig(cfg config.Config, mode UIMode) (*Registry, error) {
	be := cfg.Services.Backend
	mc := cfg.Services.MCP
	ui := cfg.UI
	return New(
		Descriptor{
			Name:          Backend,
			Launch:        launchSpec(cfg, be.Command, be.Args, be.WorkDir, be.Env, be.Host, be.Port, ""),
			Host:          be.Host,
			Port:          be.Port,
			ReadinessPath: be.ReadinessPath,
		},
		Descriptor{
			Name:          MCP,
			Launch:        launchSpec(cfg, mc.Command, mc.Args, mc.WorkDir, mc.Env, mc.Host, mc.Port, ""),
			Host:          mc.Host,
			Port:          mc.Port,
			ReadinessPath: mc.ReadinessPath,
			DependsOn:     []string{Backend},
		},
		Descriptor{
			Name:          UI,
			Launch:        launchSpec(cfg, ui.Toolchain, ui.Args, ui.WorkDir, ui.Env, ui.Host, ui.Port, mode.Script(ui.Scripts)),
			Host:          ui.Host,
			Port:          ui.Port,
			ReadinessPath: ui.ReadinessPath,
			DependsOn:     []string{MCP},
			Toolchain:     true,
		},
	)
}

// BuildSpec is the one-shot UI build invocation.
func BuildSpec(cfg config.Config) LaunchSpec {
	ui := cfg.UI
	return launchSpec(cfg, ui.Toolchain, ui.BuildArgs, ui.WorkDir, ui.Env, ui.Host, ui.Port, "")
}

func launchSpec(cfg config.Config, command string, args []string, workDir string, env []string, host string, port int, script string) LaunchSpec {
	r := strings.NewReplacer(
		"{host}", host,
		"{port}", strconv.Itoa(port),
		"{root}", cfg.Root,
		"{script}", script,
	)
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, r.Replace(a))
	}
	return LaunchSpec{
		Executable: command,
		Args:       out,
		WorkDir:    workDir,
		Env:        append([]string(nil), env...),
	}
}
