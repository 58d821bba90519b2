package toolchain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPathLocator(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "fakenpm")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	p, err := PathLocator{}.Locate("fakenpm")
	if err != nil || p != tool {
		t.Fatalf("Locate = %q, %v", p, err)
	}
	if p, err := (PathLocator{}).Locate(tool); err != nil || p != tool {
		t.Fatalf("explicit path: %q %v", p, err)
	}
	if !Available(PathLocator{}, "fakenpm") {
		t.Fatalf("expected available")
	}
	for _, missing := range []string{"npm-not-here", filepath.Join(dir, "nope"), ""} {
		if _, err := (PathLocator{}).Locate(missing); !errors.Is(err, ErrMissing) {
			t.Fatalf("%q: expected ErrMissing, got %v", missing, err)
		}
	}
}
