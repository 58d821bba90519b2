package process

import (
	"errors"
	"os"
	"sync"
)

// Process is a launched child. It owns the parent's handles on the output
// sinks until Close.
type Process struct {
	name   string
	pid    int
	mu     sync.Mutex
	stdout *os.File
	stderr *os.File
}

func (p *Process) Name() string { return p.name }
func (p *Process) PID() int     { return p.pid }

// Alive reports whether the child is still running.
func (p *Process) Alive() bool { return Alive(p.pid) }

// Close releases the sink handles. The child keeps its own copies.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.stdout != nil {
		errs = append(errs, p.stdout.Close())
		p.stdout = nil
	}
	if p.stderr != nil {
		errs = append(errs, p.stderr.Close())
		p.stderr = nil
	}
	return errors.Join(errs...)
}
