// Package pidstore persists the PID of each launched service as
// <dir>/<service>.pid. A record says only that the PID was launched by us;
// it never implies the process is alive.
package pidstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const ext = ".pid"

type Store struct {
	dir string
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Dir() string { return s.dir }

// Path of the record for name.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name+ext) }

// Save writes pid as decimal text without a trailing newline. The write goes
// through a temp file and rename so readers never observe a partial record.
func (s *Store) Save(name string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("save %s: invalid pid %d", name, pid)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(pid)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Load returns the recorded pid. A missing record is ok=false with a nil
// error; an unparsable one is an error.
func (s *Store) Load(name string) (pid int, ok bool, err error) {
	pid, err = ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pid, true, nil
}

// SavedAt returns when the record for name was last written. A process that
// started after this moment cannot be the one the record describes.
func (s *Store) SavedAt(name string) (time.Time, error) {
	fi, err := os.Stat(s.Path(name))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Clear removes the record; a missing record is not an error.
func (s *Store) Clear(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Names lists services that have a record, sorted.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, ext))
	}
	sort.Strings(out)
	return out, nil
}

// ClearAll removes every record and returns the names removed.
func (s *Store) ClearAll() ([]string, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, n := range names {
		errs = append(errs, s.Clear(n))
	}
	return names, errors.Join(errs...)
}

// ReadFile parses a PID file: the first line holds the decimal pid, anything
// after it is ignored.
func ReadFile(path string) (int, error) {
	// #nosec G304 -- path is built from the store directory
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}
