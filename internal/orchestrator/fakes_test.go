package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/health"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/registry"
	"github.com/loykin/stackctl/internal/retry"
	"github.com/loykin/stackctl/internal/toolchain"
)

// world is a tiny simulated host: which pids live and which ports they hold.
type world struct {
	nextPID   int
	alive     map[int]bool
	listening map[int]int // port -> pid
	started   map[int]time.Time
	ports     map[string]int
	calls     []string

	failLaunch map[string]error
	notReady   map[string]bool
	slept      []time.Duration
}

func newWorld(descs ...registry.Descriptor) *world {
	w := &world{
		nextPID:    1000,
		alive:      map[int]bool{},
		listening:  map[int]int{},
		started:    map[int]time.Time{},
		ports:      map[string]int{},
		failLaunch: map[string]error{},
		notReady:   map[string]bool{},
	}
	for _, d := range descs {
		w.ports[d.Name] = d.Port
	}
	return w
}

func (w *world) kill(pid int) {
	delete(w.alive, pid)
	for port, owner := range w.listening {
		if owner == pid {
			delete(w.listening, port)
		}
	}
}

// spawn simulates a process started outside stackctl.
func (w *world) spawn(port int) int {
	w.nextPID++
	pid := w.nextPID
	w.alive[pid] = true
	if port > 0 {
		w.listening[port] = pid
	}
	return pid
}

func (w *world) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range w.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeReaper struct{ w *world }

func (r fakeReaper) Reclaim(_ context.Context, port int) []int {
	r.w.calls = append(r.w.calls, fmt.Sprintf("reclaim:%d", port))
	pid, ok := r.w.listening[port]
	if !ok {
		return nil
	}
	r.w.kill(pid)
	return []int{pid}
}

func (r fakeReaper) Owners(_ context.Context, port int) ([]int, error) {
	if pid, ok := r.w.listening[port]; ok {
		return []int{pid}, nil
	}
	return nil, nil
}

type fakeLauncher struct{ w *world }

func (l fakeLauncher) Launch(spec process.Spec, sinks process.Sinks) (int, error) {
	l.w.calls = append(l.w.calls, "launch:"+spec.Name)
	if err := l.w.failLaunch[spec.Name]; err != nil {
		return 0, err
	}
	if !strings.HasSuffix(sinks.Stdout, spec.Name+".log") || !strings.HasSuffix(sinks.Stderr, spec.Name+"_err.log") {
		return 0, errors.New("unexpected sinks")
	}
	return l.w.spawn(l.w.ports[spec.Name]), nil
}

type fakeRunner struct {
	w   *world
	err error
}

func (r fakeRunner) Run(_ context.Context, spec process.Spec, stdout, _ io.Writer) error {
	r.w.calls = append(r.w.calls, "run:"+spec.Executable+" "+strings.Join(spec.Args, " "))
	_, _ = io.WriteString(stdout, "built\n")
	return r.err
}

type fakeProber struct{ w *world }

func (p fakeProber) Probe(_ context.Context, url string) health.Result {
	p.w.calls = append(p.w.calls, "probe:"+url)
	if p.w.notReady[url] {
		return health.Result{Attempts: 30, Err: fmt.Errorf("%w after 30 attempts: connection refused", retry.ErrExhausted)}
	}
	return health.Result{Ready: true, Attempts: 1}
}

type fakeInspector struct{ w *world }

func (i fakeInspector) Listening(d registry.Descriptor) bool {
	_, ok := i.w.listening[d.Port]
	return ok
}
func (i fakeInspector) Alive(pid int) bool { return i.w.alive[pid] }
func (i fakeInspector) Inspect(pid int) (process.Info, error) {
	if !i.w.alive[pid] {
		return process.Info{}, errors.New("gone")
	}
	started, ok := i.w.started[pid]
	if !ok {
		started = testNow.Add(-90 * time.Second)
	}
	return process.Info{PID: pid, StartedAt: started, RSS: 4096}, nil
}

type fakeKiller struct{ w *world }

func (k fakeKiller) Kill(pid int, _ syscall.Signal) error {
	k.w.calls = append(k.w.calls, fmt.Sprintf("kill:%d", pid))
	if !k.w.alive[pid] {
		return syscall.ESRCH
	}
	k.w.kill(pid)
	return nil
}

type fakeTools struct{ missing map[string]bool }

func (t fakeTools) Locate(name string) (string, error) {
	if t.missing[name] {
		return "", fmt.Errorf("%w: %s", toolchain.ErrMissing, name)
	}
	return "/usr/bin/" + name, nil
}

type memHistory struct{ events []history.Event }

func (h *memHistory) Send(_ context.Context, e history.Event) error {
	h.events = append(h.events, e)
	return nil
}
func (h *memHistory) Close() error { return nil }
func (h *memHistory) Recent(_ context.Context, limit int) ([]history.Event, error) {
	var out []history.Event
	for i := len(h.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.events[i])
	}
	return out, nil
}

func (h *memHistory) types(service string) []history.EventType {
	var out []history.EventType
	for _, e := range h.events {
		if e.Service == service {
			out = append(out, e.Type)
		}
	}
	return out
}
