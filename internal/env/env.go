// Package env composes the exact environment handed to launched services.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env is an immutable environment recipe: an optional OS base, global
// variables from configuration, and per-service entries applied by Merge.
type Env struct {
	vars    Var
	inherit bool
	base    Var
}

// New returns an empty recipe. Without Inherit the launched process sees only
// what configuration states.
func New() Env { return Env{} }

// Inherit returns a copy that uses the controller's OS environment as base.
func (e Env) Inherit() Env {
	c := e.clone()
	c.inherit = true
	c.base = fromOS()
	return c
}

// WithSet returns a copy with k=v set as a global variable.
func (e Env) WithSet(k, v string) Env {
	if k == "" {
		return e
	}
	c := e.clone()
	c.vars[k] = v
	return c
}

// WithPairs applies "K=V" entries in order; malformed entries are skipped.
func (e Env) WithPairs(pairs []string) Env {
	c := e.clone()
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			c.vars[k] = v
		}
	}
	return c
}

// Inherits reports whether the OS environment is the base.
func (e Env) Inherits() bool { return e.inherit }

// Merge composes the final environment list applying order:
// OS base (when inherited), then globals, then perProc "K=V" overrides.
// ${VAR} references are expanded against the composed map (one pass, no
// recursion). The result is sorted by key so launches are reproducible.
func (e Env) Merge(perProc []string) []string {
	m := make(Var, len(e.base)+len(e.vars)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func (e Env) clone() Env {
	c := Env{vars: make(Var, len(e.vars)+1), inherit: e.inherit, base: e.base}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

func fromOS() Var {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	return base
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
