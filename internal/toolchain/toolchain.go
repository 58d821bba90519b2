// Package toolchain detects optional external tools such as the UI package
// manager.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrMissing = errors.New("toolchain not found")

// Locator resolves a tool name to an executable path.
type Locator interface {
	Locate(name string) (string, error)
}

// PathLocator searches PATH, or resolves explicit paths directly.
type PathLocator struct{}

func (PathLocator) Locate(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrMissing)
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() || fi.Mode().Perm()&0o111 == 0 {
			return "", fmt.Errorf("%w: %s", ErrMissing, abs)
		}
		return abs, nil
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissing, name)
	}
	return p, nil
}

// Available reports whether l can find name.
func Available(l Locator, name string) bool {
	_, err := l.Locate(name)
	return err == nil
}
