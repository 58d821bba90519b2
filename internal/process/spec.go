package process

import (
	"os"
	"path/filepath"
)

// Spec describes a process to launch. Env is used verbatim as the child's
// environment; callers compose it with the env package.
type Spec struct {
	Name       string
	Executable string
	Args       []string
	WorkDir    string
	Env        []string
}

// Sinks are the files that receive the child's stdout and stderr.
type Sinks struct {
	Stdout string
	Stderr string
}

// open opens both sinks for appending, creating missing files and parent
// directories. On error nothing is left open.
func (s Sinks) open() (stdout, stderr *os.File, err error) {
	if stdout, err = openAppend(s.Stdout); err != nil {
		return nil, nil, err
	}
	if stderr, err = openAppend(s.Stderr); err != nil {
		_ = stdout.Close()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304 -- sink paths come from the logs router
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
}
