package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/loykin/stackctl/internal/history"
)

// State of a service. Only Running, RunningUntracked and Stopped are ever
// observed; the rest describe the outcome of a lifecycle operation.
type State int

const (
	Stopped State = iota
	Running
	RunningUntracked
	Starting
	Degraded
	Failed
	Skipped
)

var stateNames = map[State]string{
	Stopped:          "STOPPED",
	Running:          "RUNNING",
	RunningUntracked: "RUNNING_UNTRACKED",
	Starting:         "STARTING",
	Degraded:         "DEGRADED",
	Failed:           "FAILED",
	Skipped:          "SKIPPED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ObservableStates are the states Status can report.
func ObservableStates() []string {
	return []string{Running.String(), RunningUntracked.String(), Stopped.String()}
}

// ServiceError attributes a failure to one service and operation.
type ServiceError struct {
	Service string
	Op      string // launch, stop, build, ...
	Err     error
}

func (e *ServiceError) Error() string { return e.Service + ": " + e.Op + ": " + e.Err.Error() }
func (e *ServiceError) Unwrap() error { return e.Err }

// Outcome of starting or stopping one service.
type Outcome struct {
	Service   string
	State     State
	PID       int
	Endpoint  string
	Reclaimed []int // listeners killed to free the port
	Attempts  int   // readiness probe attempts
	Elapsed   time.Duration
	Detail    string
	Err       error
}

// Observation is the live state of one service at Status time.
type Observation struct {
	Service   string
	State     State
	PID       int // recorded pid when tracked, port owner when untracked
	Port      int
	Endpoint  string
	Listening bool
	Uptime    time.Duration
	RSS       uint64
	Detail    string
}

// Report is the result of executing one Command.
type Report struct {
	Command      string
	Down         []Outcome
	Up           []Outcome
	Observations []Observation
	Events       []history.Event
	Removed      []string
	Version      string
	Err          error // primary action failed
}

func (r Report) Failed() bool { return r.Err != nil }

// Degraded lists services whose readiness probe ran out.
func (r Report) Degraded() []Outcome {
	var out []Outcome
	for _, o := range r.Up {
		if o.State == Degraded {
			out = append(out, o)
		}
	}
	return out
}

// FailedServices lists the services attributed in Err.
func (r Report) FailedServices() []string {
	var out []string
	for _, o := range append(append([]Outcome(nil), r.Down...), r.Up...) {
		var se *ServiceError
		if errors.As(o.Err, &se) && o.State == Failed {
			out = append(out, se.Service)
		}
	}
	return out
}
