package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/loykin/stackctl/internal/lock"
	"github.com/loykin/stackctl/internal/registry"
)

// TestMain doubles as a tiny HTTP service so up/down can be exercised
// against a real detached process.
func TestMain(m *testing.M) {
	if os.Getenv("HELPER_SERVE") == "1" {
		addr := os.Args[len(os.Args)-1]
		_ = http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}))
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := buildRoot(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--root", root}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

// writeConfig points the backend at this test binary and gives every
// service a free port.
func writeConfig(t *testing.T, backendCommand string) (root string, backendPort int) {
	t.Helper()
	root = t.TempDir()
	backendPort = freePort(t)
	cfg := fmt.Sprintf(`
[log]
format = "text"
level = "warn"

[timings]
grace_period = "100ms"
restart_pause = "50ms"
probe_interval = "100ms"
probe_attempts = 50

[services.backend]
command = %q
args = ["{host}:{port}"]
workdir = "."
port = %d
env = ["HELPER_SERVE=1"]

[services.mcp]
port = %d

[ui]
port = %d
`, backendCommand, backendPort, freePort(t), freePort(t))
	if err := os.WriteFile(filepath.Join(root, "stackctl.toml"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return root, backendPort
}

func helperBinary(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	return exe
}

func TestHelpAndUnknownCommandsSucceed(t *testing.T) {
	root := t.TempDir()
	for _, args := range [][]string{
		{"--help"},
		{"help"},
		{"frobnicate"},
		{"backend", "frobnicate"},
		{"ui"},
	} {
		out, err := execute(t, root, args...)
		if err != nil {
			t.Fatalf("%v: expected success, got %v", args, err)
		}
		if !strings.Contains(out, "Usage:") {
			t.Fatalf("%v: expected usage, got %q", args, out)
		}
	}
	out, _ := execute(t, root, "frobnicate")
	if !strings.Contains(out, `unknown command "frobnicate"`) {
		t.Fatalf("expected unknown command notice, got %q", out)
	}
}

func TestVersion(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, root, "version")
	if err != nil || !strings.Contains(out, "stackctl "+version) {
		t.Fatalf("version: out=%q err=%v", out, err)
	}

	// invalid configuration still prints the version
	if err := os.WriteFile(filepath.Join(root, "stackctl.toml"), []byte("[timings]\nprobe_attempts = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, root, "version")
	if err != nil || !strings.Contains(out, "stackctl "+version) {
		t.Fatalf("version with bad config: out=%q err=%v", out, err)
	}
	if _, err := execute(t, root, "status"); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("status with bad config should fail, got %v", err)
	}
}

func TestModeFlagsAreExclusive(t *testing.T) {
	root := t.TempDir()
	if _, err := execute(t, root, "up", "--dev", "--release"); err == nil {
		t.Fatalf("expected --dev and --release to conflict")
	}
	if _, err := execute(t, root, "ui", "start", "--dev", "--release"); err == nil {
		t.Fatalf("expected --dev and --release to conflict on ui start")
	}
}

func TestStatus_AllStopped(t *testing.T) {
	root, _ := writeConfig(t, helperBinary(t))
	out, err := execute(t, root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "SERVICE") {
		t.Fatalf("expected header, got %q", out)
	}
	for _, name := range []string{registry.Backend, registry.MCP, registry.UI} {
		if !containsRow(out, name, "STOPPED") {
			t.Fatalf("expected %s STOPPED in %q", name, out)
		}
	}
	textfile := filepath.Join(root, "state", "stackctl.prom")
	before, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("expected metrics textfile: %v", err)
	}
	if !strings.Contains(string(before), `stackctl_service_state{service="backend",state="STOPPED"} 1`) {
		t.Fatalf("textfile lacks backend state:\n%s", before)
	}
	if _, err := execute(t, root, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	after, err := os.ReadFile(textfile)
	if err != nil || string(after) != string(before) {
		t.Fatalf("version must not rewrite the textfile: err=%v\n%s", err, after)
	}
}

func TestUpStatusDown_RealProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires linux process inspection")
	}
	if testing.Short() {
		t.Skip("spawns a real service")
	}
	root, port := writeConfig(t, helperBinary(t))
	t.Cleanup(func() { _, _ = execute(t, root, "down") })

	out, err := execute(t, root, "up", "--no-mcp", "--no-ui")
	if err != nil {
		t.Fatalf("up: %v\n%s", err, out)
	}
	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	if !containsRow(out, registry.Backend, "RUNNING") || !strings.Contains(out, endpoint) {
		t.Fatalf("expected backend RUNNING at %s, got %q", endpoint, out)
	}
	if !containsRow(out, registry.MCP, "SKIPPED") || !containsRow(out, registry.UI, "SKIPPED") {
		t.Fatalf("expected mcp and ui skipped, got %q", out)
	}
	if _, err := os.Stat(filepath.Join(root, "pids", registry.Backend+".pid")); err != nil {
		t.Fatalf("expected pid record: %v", err)
	}

	out, err = execute(t, root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !containsRow(out, registry.Backend, "RUNNING") || !containsRow(out, registry.MCP, "STOPPED") {
		t.Fatalf("unexpected status after up: %q", out)
	}

	out, err = execute(t, root, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "ready") || !strings.Contains(out, "launch") {
		t.Fatalf("expected launch and ready events, got %q", out)
	}

	out, err = execute(t, root, "down")
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if !strings.Contains(out, "killed") {
		t.Fatalf("expected backend to be killed, got %q", out)
	}
	out, err = execute(t, root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !containsRow(out, registry.Backend, "STOPPED") {
		t.Fatalf("expected backend STOPPED after down, got %q", out)
	}

	// second down is a no-op
	out, err = execute(t, root, "down")
	if err != nil || !strings.Contains(out, "not running") {
		t.Fatalf("second down: out=%q err=%v", out, err)
	}
}

func TestUp_LaunchFailureExitsNonZero(t *testing.T) {
	root, _ := writeConfig(t, "/nonexistent/stackctl-backend")
	out, err := execute(t, root, "up", "--no-mcp", "--no-ui")
	if err == nil {
		t.Fatalf("expected up to fail, got output %q", out)
	}
	if !strings.Contains(err.Error(), registry.Backend) {
		t.Fatalf("error should name the service: %v", err)
	}
	if !containsRow(out, registry.Backend, "FAILED") {
		t.Fatalf("expected backend FAILED row, got %q", out)
	}
}

func TestMutatingCommandRespectsLock(t *testing.T) {
	root, _ := writeConfig(t, helperBinary(t))
	lk, err := lock.TryAcquire(filepath.Join(root, "state", "stackctl.lock"))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := execute(t, root, "down"); !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	// read-only commands do not take the lock
	if _, err := execute(t, root, "status"); err != nil {
		t.Fatalf("status under lock: %v", err)
	}
}

func TestLogsAndClean(t *testing.T) {
	root, _ := writeConfig(t, helperBinary(t))
	logDir := filepath.Join(root, "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "backend.log"), []byte("line-a\nline-b\nline-c\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, root, "logs", "backend", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "line-a") || !strings.Contains(out, "line-c") {
		t.Fatalf("expected last two lines, got %q", out)
	}
	if _, err := execute(t, root, "logs", "nope"); !errors.Is(err, registry.ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}

	out, err = execute(t, root, "clean")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !strings.Contains(out, "removed") {
		t.Fatalf("expected removed files, got %q", out)
	}
	if _, err := os.Stat(filepath.Join(logDir, "backend.log")); !os.IsNotExist(err) {
		t.Fatalf("log file should be gone: %v", err)
	}
	out, err = execute(t, root, "clean")
	if err != nil || !strings.Contains(out, "nothing to clean") {
		t.Fatalf("second clean: out=%q err=%v", out, err)
	}
}

// containsRow reports whether some line starts with name and mentions state.
func containsRow(out, name, state string) bool {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == name && f[1] == state {
			return true
		}
	}
	return false
}
