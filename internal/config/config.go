// Package config loads the controller configuration once at program start.
// Everything downstream receives the resulting Config value; nothing reads
// paths or ports from globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/stackctl/internal/logger"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up under the root when no --config is given.
const DefaultFileName = "stackctl.toml"

// EnvPrefix namespaces environment overrides, e.g. STACKCTL_SERVICES_BACKEND_PORT.
const EnvPrefix = "STACKCTL"

// Options are the command-line inputs that influence loading.
type Options struct {
	Root       string // overrides STACKCTL_ROOT and the working directory
	ConfigPath string // explicit TOML file; must exist when set
	LogLevel   string // overrides log.level when non-empty
}

type Config struct {
	Root       string `mapstructure:"-"`
	ConfigFile string `mapstructure:"-"` // file actually read, empty when none

	InheritEnv bool     `mapstructure:"inherit_env"`
	Env        []string `mapstructure:"env"`
	EnvFiles   []string `mapstructure:"env_files"`

	Timings  Timings        `mapstructure:"timings"`
	Log      logger.Config  `mapstructure:"log"`
	Logs     LogsConfig     `mapstructure:"logs"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Services ServicesConfig `mapstructure:"services"`
	UI       UIConfig       `mapstructure:"ui"`
}

type Timings struct {
	GracePeriod   time.Duration `mapstructure:"grace_period"`   // wait after a forced kill
	RestartPause  time.Duration `mapstructure:"restart_pause"`  // between down and up on restart
	ProbeInterval time.Duration `mapstructure:"probe_interval"` // readiness poll interval
	ProbeAttempts int           `mapstructure:"probe_attempts"` // readiness poll budget
}

type LogsConfig struct {
	ExtraDirs []string `mapstructure:"extra_dirs"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
}

type ServicesConfig struct {
	Backend ServiceConfig `mapstructure:"backend"`
	MCP     ServiceConfig `mapstructure:"mcp"`
}

// ServiceConfig is the launch recipe of a process-backed service.
// Args may reference {host}, {port} and {root}.
type ServiceConfig struct {
	Command       string   `mapstructure:"command"`
	Args          []string `mapstructure:"args"`
	WorkDir       string   `mapstructure:"workdir"`
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	ReadinessPath string   `mapstructure:"readiness_path"`
	Env           []string `mapstructure:"env"`
}

// UIConfig describes the UI server, which runs through an optional external
// toolchain. Args may additionally reference {script}.
type UIConfig struct {
	Toolchain     string   `mapstructure:"toolchain"`
	WorkDir       string   `mapstructure:"workdir"`
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	ReadinessPath string   `mapstructure:"readiness_path"`
	Args          []string `mapstructure:"args"`
	BuildArgs     []string `mapstructure:"build_args"`
	Env           []string `mapstructure:"env"`
	Scripts       Scripts  `mapstructure:"scripts"`
}

// Scripts maps UI modes onto toolchain script names.
type Scripts struct {
	Dev        string `mapstructure:"dev"`
	DevWeb     string `mapstructure:"dev_web"`
	Release    string `mapstructure:"release"`
	ReleaseWeb string `mapstructure:"release_web"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inherit_env", true)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("timings.grace_period", time.Second)
	v.SetDefault("timings.restart_pause", 2*time.Second)
	v.SetDefault("timings.probe_interval", time.Second)
	v.SetDefault("timings.probe_attempts", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatColor)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("logs.extra_dirs", []string{})
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("services.backend.command", "python3")
	v.SetDefault("services.backend.args", []string{"-m", "uvicorn", "main:app", "--host", "{host}", "--port", "{port}"})
	v.SetDefault("services.backend.workdir", "backend")
	v.SetDefault("services.backend.host", "127.0.0.1")
	v.SetDefault("services.backend.port", 8000)
	v.SetDefault("services.backend.readiness_path", "/health")
	v.SetDefault("services.backend.env", []string{})

	v.SetDefault("services.mcp.command", "python3")
	v.SetDefault("services.mcp.args", []string{"-m", "mcp_server", "--host", "{host}", "--port", "{port}"})
	v.SetDefault("services.mcp.workdir", "mcp")
	v.SetDefault("services.mcp.host", "127.0.0.1")
	v.SetDefault("services.mcp.port", 8001)
	v.SetDefault("services.mcp.readiness_path", "/health")
	v.SetDefault("services.mcp.env", []string{})

	v.SetDefault("ui.toolchain", "npm")
	v.SetDefault("ui.workdir", "ui")
	v.SetDefault("ui.host", "127.0.0.1")
	v.SetDefault("ui.port", 5173)
	v.SetDefault("ui.readiness_path", "/")
	v.SetDefault("ui.args", []string{"run", "{script}", "--", "--host", "{host}", "--port", "{port}"})
	v.SetDefault("ui.build_args", []string{"run", "build"})
	v.SetDefault("ui.env", []string{})
	v.SetDefault("ui.scripts.dev", "dev")
	v.SetDefault("ui.scripts.dev_web", "dev:web")
	v.SetDefault("ui.scripts.release", "preview")
	v.SetDefault("ui.scripts.release_web", "preview:web")
}

// Load resolves the root, reads defaults, the optional TOML file and
// STACKCTL_* overrides, then validates the result.
func Load(opts Options) (Config, error) {
	root, err := resolveRoot(opts.Root)
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := opts.ConfigPath
	if path == "" {
		candidate := filepath.Join(root, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Root = root
	cfg.ConfigFile = path
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	if err := cfg.resolve(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveRoot(flagRoot string) (string, error) {
	root := strings.TrimSpace(flagRoot)
	if root == "" {
		root = strings.TrimSpace(os.Getenv(EnvPrefix + "_ROOT"))
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	return abs, nil
}

// resolve anchors relative paths at the root and folds env_files into Env.
func (c *Config) resolve() error {
	c.Services.Backend.WorkDir = c.Abs(c.Services.Backend.WorkDir)
	c.Services.MCP.WorkDir = c.Abs(c.Services.MCP.WorkDir)
	c.UI.WorkDir = c.Abs(c.UI.WorkDir)
	for i, d := range c.Logs.ExtraDirs {
		c.Logs.ExtraDirs[i] = c.Abs(d)
	}
	if c.Log.File.Path != "" {
		c.Log.File.Path = c.Abs(c.Log.File.Path)
	}

	var global []string
	for _, f := range c.EnvFiles {
		pairs, err := LoadEnvFile(c.Abs(f))
		if err != nil {
			return fmt.Errorf("env file %s: %w", f, err)
		}
		global = append(global, pairs...)
	}
	c.Env = append(global, c.Env...)
	return nil
}

// Abs anchors p at the root unless it is already absolute.
func (c Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c Config) PIDDir() string   { return filepath.Join(c.Root, "pids") }
func (c Config) LogDir() string   { return filepath.Join(c.Root, "logs") }
func (c Config) StateDir() string { return filepath.Join(c.Root, "state") }
func (c Config) LockPath() string { return filepath.Join(c.StateDir(), "stackctl.lock") }

// HistoryDSN returns the history sink DSN, defaulting to a SQLite file in the
// state directory. Relative SQLite paths are anchored at the root.
func (c Config) HistoryDSN() string {
	dsn := strings.TrimSpace(c.History.DSN)
	if dsn == "" {
		return filepath.Join(c.StateDir(), "history.db")
	}
	if rest, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		if rest != ":memory:" && !strings.HasPrefix(rest, "file:") {
			return "sqlite://" + c.Abs(rest)
		}
		return dsn
	}
	if !strings.Contains(dsn, "://") && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		return c.Abs(dsn)
	}
	return dsn
}

// MetricsTextfile returns where gauges are written, defaulting into the state dir.
func (c Config) MetricsTextfile() string {
	if c.Metrics.Textfile == "" {
		return filepath.Join(c.StateDir(), "stackctl.prom")
	}
	return c.Abs(c.Metrics.Textfile)
}

// Validate checks ranges and port uniqueness. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	if c.Timings.ProbeAttempts <= 0 {
		errs = append(errs, errors.New("timings.probe_attempts must be positive"))
	}
	if c.Timings.ProbeInterval <= 0 {
		errs = append(errs, errors.New("timings.probe_interval must be positive"))
	}
	if c.Timings.RestartPause <= 0 {
		errs = append(errs, errors.New("timings.restart_pause must be positive"))
	}
	if c.Timings.GracePeriod < 0 {
		errs = append(errs, errors.New("timings.grace_period cannot be negative"))
	}

	ports := map[int]string{}
	check := func(name, command string, port int) {
		if strings.TrimSpace(command) == "" {
			errs = append(errs, fmt.Errorf("%s: command is required", name))
		}
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: port %d out of range", name, port))
			return
		}
		if other, dup := ports[port]; dup {
			errs = append(errs, fmt.Errorf("%s: port %d already used by %s", name, port, other))
		}
		ports[port] = name
	}
	check("services.backend", c.Services.Backend.Command, c.Services.Backend.Port)
	check("services.mcp", c.Services.MCP.Command, c.Services.MCP.Port)
	check("ui", c.UI.Toolchain, c.UI.Port)

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if k, v, ok := strings.Cut(line, "="); ok {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			out = append(out, k+"="+strings.Trim(strings.TrimSpace(v), `"'`))
		}
	}
	return out, nil
}
