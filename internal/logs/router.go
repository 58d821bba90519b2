// Package logs maps services to their output sinks and reads them back.
package logs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/loykin/stackctl/internal/process"
)

const (
	stdoutSuffix = ".log"
	stderrSuffix = "_err.log"
)

// Router owns the primary log directory plus any extra directories whose
// *.log files are included in listing, tailing and cleanup.
type Router struct {
	dir   string
	extra []string
}

func NewRouter(dir string, extra ...string) *Router {
	return &Router{dir: dir, extra: slices.Clone(extra)}
}

func (r *Router) Dir() string { return r.dir }

// Dirs returns every managed directory, primary first, without duplicates.
func (r *Router) Dirs() []string {
	out := []string{filepath.Clean(r.dir)}
	for _, d := range r.extra {
		d = filepath.Clean(d)
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// EnsureDirs creates the primary directory.
func (r *Router) EnsureDirs() error { return os.MkdirAll(r.dir, 0o750) }

// Sinks returns the stdout and stderr sink paths for a service.
func (r *Router) Sinks(name string) process.Sinks {
	return process.Sinks{
		Stdout: filepath.Join(r.dir, name+stdoutSuffix),
		Stderr: filepath.Join(r.dir, name+stderrSuffix),
	}
}

// Files lists every *.log in the managed directories, sorted. Missing
// directories are skipped.
func (r *Router) Files() ([]string, error) {
	var out []string
	for _, d := range r.Dirs() {
		entries, err := os.ReadDir(d)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".log") {
				out = append(out, filepath.Join(d, e.Name()))
			}
		}
	}
	sort.Strings(out)
	return slices.Compact(out), nil
}

// TailService writes the last n lines of both sinks of name, each under a
// header. Missing sinks are noted rather than treated as errors.
func (r *Router) TailService(w io.Writer, name string, n int) error {
	s := r.Sinks(name)
	return r.tailFiles(w, n, s.Stdout, s.Stderr)
}

// TailAll tails every managed log file.
func (r *Router) TailAll(w io.Writer, n int) error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		_, err := fmt.Fprintln(w, "no log files")
		return err
	}
	return r.tailFiles(w, n, files...)
}

func (r *Router) tailFiles(w io.Writer, n int, paths ...string) error {
	for i, p := range paths {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "==> %s <==\n", p); err != nil {
			return err
		}
		err := TailFile(w, p, n)
		if errors.Is(err, fs.ErrNotExist) {
			if _, err := fmt.Fprintln(w, "(no output yet)"); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clean removes every managed *.log file and returns the paths removed.
func (r *Router) Clean() ([]string, error) {
	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f)
	}
	return removed, errors.Join(errs...)
}
