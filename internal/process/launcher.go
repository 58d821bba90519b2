package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrExecutableNotFound = errors.New("executable not found")

// Launcher spawns detached service processes.
type Launcher struct {
	logger *slog.Logger
}

func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{logger: logger}
}

// Launch starts spec in a new session with stdout and stderr appended to sinks
// and returns as soon as the child exists. The child is released: it is never
// waited on and outlives the controller.
func (l *Launcher) Launch(spec Spec, sinks Sinks) (*Process, error) {
	path, err := resolveExecutable(spec.Executable, spec.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	stdout, stderr, err := sinks.open()
	if err != nil {
		return nil, fmt.Errorf("%s: open sinks: %w", spec.Name, err)
	}
	p := &Process{name: spec.Name, stdout: stdout, stderr: stderr}

	cmd := buildCmd(path, spec)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%s: start %s: %w", spec.Name, path, err)
	}
	p.pid = cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		l.logger.Debug("release process handle", "service", spec.Name, "pid", p.pid, "error", err)
	}
	l.logger.Debug("launched", "service", spec.Name, "pid", p.pid, "cmd", path, "args", spec.Args, "dir", spec.WorkDir)
	return p, nil
}

// Run executes spec in the foreground and waits for it, streaming output to
// stdout and stderr. Cancelling ctx kills the child.
func (l *Launcher) Run(ctx context.Context, spec Spec, stdout, stderr io.Writer) error {
	path, err := resolveExecutable(spec.Executable, spec.WorkDir)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}
	cmd := buildCmd(path, spec)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	l.logger.Debug("running", "service", spec.Name, "cmd", path, "args", spec.Args, "dir", spec.WorkDir)
	if err := runContext(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}
	return nil
}

func runContext(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

func buildCmd(path string, spec Spec) *exec.Cmd {
	// #nosec G204 -- executable and args come from operator configuration
	cmd := &exec.Cmd{
		Path: path,
		Args: append([]string{spec.Executable}, spec.Args...),
		Dir:  spec.WorkDir,
		Env:  append([]string{}, spec.Env...), // non-nil: never inherit implicitly
	}
	return cmd
}

// resolveExecutable follows exec.LookPath for bare names. Names containing a
// separator are taken as paths, relative ones anchored at workDir.
func resolveExecutable(name, workDir string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty command", ErrExecutableNotFound)
	}
	if !strings.ContainsRune(name, os.PathSeparator) {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
		}
		return p, nil
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, p)
		}
		return "", err
	}
	if fi.IsDir() || fi.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrExecutableNotFound, p)
	}
	return p, nil
}
