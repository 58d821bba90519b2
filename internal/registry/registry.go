// Package registry holds the static descriptors of the managed services and
// the order in which they start and stop.
package registry

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Names of the managed services.
const (
	Backend = "backend"
	MCP     = "mcp"
	UI      = "ui"
)

var (
	ErrUnknownService    = errors.New("unknown service")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
)

// LaunchSpec is everything needed to spawn a service process.
type LaunchSpec struct {
	Executable string
	Args       []string
	WorkDir    string
	Env        []string // per-service "K=V" entries merged over the global env
}

func (l LaunchSpec) clone() LaunchSpec {
	l.Args = append([]string(nil), l.Args...)
	l.Env = append([]string(nil), l.Env...)
	return l
}

// CommandLine renders the launch command for humans.
func (l LaunchSpec) CommandLine() string {
	return strings.TrimSpace(l.Executable + " " + strings.Join(l.Args, " "))
}

// Descriptor is the immutable description of one managed service.
type Descriptor struct {
	Name          string
	Launch        LaunchSpec
	Host          string
	Port          int
	ReadinessPath string
	DependsOn     []string
	// Toolchain marks Launch.Executable as an optional external tool: when it
	// cannot be located the service is skipped with a warning.
	Toolchain bool
}

func (d Descriptor) clone() Descriptor {
	d.Launch = d.Launch.clone()
	d.DependsOn = append([]string(nil), d.DependsOn...)
	return d
}

// Address is host:port of the service listener.
func (d Descriptor) Address() string {
	host := d.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// Endpoint is the base URL operators use to reach the service.
func (d Descriptor) Endpoint() string { return "http://" + d.Address() }

// ReadinessURL is the URL polled by the health prober.
func (d Descriptor) ReadinessURL() string {
	p := d.ReadinessPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return d.Endpoint() + p
}

// Registry is an ordered, validated set of descriptors.
type Registry struct {
	byName map[string]Descriptor
	order  []string
}

// New validates descriptors (unique names, known dependencies, no cycles) and
// computes the start order. Ties keep declaration order.
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	declared := make([]string, 0, len(descs))
	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, errors.New("service name is required")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q", d.Name)
		}
		r.byName[d.Name] = d.clone()
		declared = append(declared, d.Name)
	}
	for _, name := range declared {
		for _, dep := range r.byName[name].DependsOn {
			if _, ok := r.byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
		}
	}
	order, err := topoSort(declared, r.byName)
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

func topoSort(declared []string, byName map[string]Descriptor) ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(declared))
	order := make([]string, 0, len(declared))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range declared {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return d.clone(), nil
}

// Has reports whether name is managed.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns service names in start order.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

// StartOrder returns descriptors with every service after its dependencies.
func (r *Registry) StartOrder() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n].clone())
	}
	return out
}

// StopOrder is the reverse of StartOrder.
func (r *Registry) StopOrder() []Descriptor {
	out := r.StartOrder()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
