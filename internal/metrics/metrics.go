// Package metrics keeps Prometheus gauges describing the last observed state
// of the stack and writes them to a textfile for node_exporter to pick up.
// The controller is short-lived, so nothing is served over HTTP.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const namespace = "stackctl"

// Recorder owns a private registry. All methods are safe for concurrent use;
// a nil *Recorder is a no-op.
type Recorder struct {
	reg *prometheus.Registry
	mu  sync.Mutex

	up            *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	probeAttempts *prometheus.GaugeVec
	probeSeconds  *prometheus.GaugeVec
	rss           *prometheus.GaugeVec
	uptime        *prometheus.GaugeVec
	launches      *prometheus.CounterVec
	reclaimed     *prometheus.CounterVec
	lastCommand   *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "up",
			Help: "1 when the service port is listening at observation time.",
		}, []string{"service"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "state",
			Help: "Observed state of the service (1 = current state, 0 = other states).",
		}, []string{"service", "state"}),
		probeAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "probe", Name: "attempts",
			Help: "Readiness probe attempts used by the last launch.",
		}, []string{"service"}),
		probeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "probe", Name: "duration_seconds",
			Help: "Wall time spent waiting for readiness on the last launch.",
		}, []string{"service"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "resident_memory_bytes",
			Help: "Resident set size of the process owning the service port.",
		}, []string{"service"}),
		uptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "uptime_seconds",
			Help: "Age of the process owning the service port.",
		}, []string{"service"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "service", Name: "launches_total",
			Help: "Launch attempts made by this invocation.",
		}, []string{"service", "result"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "port", Name: "reclaimed_processes_total",
			Help: "Processes killed to free a service port by this invocation.",
		}, []string{"service"}),
		lastCommand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_command_timestamp_seconds",
			Help: "Unix time of the last invocation of each command.",
		}, []string{"command"}),
	}
	r.reg.MustRegister(r.up, r.state, r.probeAttempts, r.probeSeconds, r.rss, r.uptime,
		r.launches, r.reclaimed, r.lastCommand)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// SetState marks current as the active state of service among all.
func (r *Recorder) SetState(service, current string, all []string, listening bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		r.state.WithLabelValues(service, s).Set(v)
	}
	r.up.WithLabelValues(service).Set(boolFloat(listening))
}

func (r *Recorder) ObserveProbe(service string, attempts int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.probeAttempts.WithLabelValues(service).Set(float64(attempts))
	r.probeSeconds.WithLabelValues(service).Set(elapsed.Seconds())
}

func (r *Recorder) ObserveProcess(service string, rss uint64, uptime time.Duration) {
	if r == nil {
		return
	}
	r.rss.WithLabelValues(service).Set(float64(rss))
	r.uptime.WithLabelValues(service).Set(uptime.Seconds())
}

// IncLaunch counts a launch; result is "ok" or "error".
func (r *Recorder) IncLaunch(service, result string) {
	if r == nil {
		return
	}
	r.launches.WithLabelValues(service, result).Inc()
}

func (r *Recorder) AddReclaimed(service string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.reclaimed.WithLabelValues(service).Add(float64(n))
}

func (r *Recorder) MarkCommand(command string, at time.Time) {
	if r == nil {
		return
	}
	r.lastCommand.WithLabelValues(command).Set(float64(at.Unix()))
}

// Restore seeds the gauges that outlive a single invocation, last command
// times and last launch probes, from a textfile written earlier. Service
// state is not restored; callers observe it fresh. A missing file is not an
// error.
func (r *Recorder) Restore(path string) error {
	if r == nil || path == "" {
		return nil
	}
	// #nosec G304 -- path comes from configuration
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse metrics textfile: %w", err)
	}
	carried := map[string]*prometheus.GaugeVec{
		prometheus.BuildFQName(namespace, "", "last_command_timestamp_seconds"): r.lastCommand,
		prometheus.BuildFQName(namespace, "probe", "attempts"):                  r.probeAttempts,
		prometheus.BuildFQName(namespace, "probe", "duration_seconds"):          r.probeSeconds,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, vec := range carried {
		for _, m := range families[name].GetMetric() {
			labels := prometheus.Labels{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			g, err := vec.GetMetricWith(labels)
			if err != nil {
				continue
			}
			g.Set(m.GetGauge().GetValue())
		}
	}
	return nil
}

// WriteTextfile atomically replaces path with the current samples.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
