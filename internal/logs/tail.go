package logs

import (
	"bytes"
	"io"
	"os"
)

const tailBlock = 8 << 10

// TailFile writes the last n lines of path to w. It reads backwards in blocks
// so large sinks cost only what is printed. A final line without a newline
// counts as a line.
func TailFile(w io.Writer, path string, n int) error {
	// #nosec G304 -- paths come from the managed log directories
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	b, err := tail(f, n)
	if err != nil {
		return err
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	_, err = w.Write(b)
	return err
}

// Tail returns the last n lines of path.
func Tail(path string, n int) ([]byte, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return tail(f, n)
}

func tail(f *os.File, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	pos := size
	for pos > 0 {
		step := int64(tailBlock)
		if pos < step {
			step = pos
		}
		pos -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, pos); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
		if countLines(buf) > n {
			break
		}
	}
	return lastLines(buf, n), nil
}

// countLines counts newline-separated lines, ignoring one trailing newline.
func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	c := bytes.Count(b, []byte{'\n'})
	if b[len(b)-1] != '\n' {
		c++
	}
	return c
}

func lastLines(b []byte, n int) []byte {
	end := len(b)
	if end > 0 && b[end-1] == '\n' {
		end--
	}
	cut := end
	for i := 0; i < n; i++ {
		idx := bytes.LastIndexByte(b[:cut], '\n')
		if idx < 0 {
			return b
		}
		cut = idx
		if i == n-1 {
			return b[idx+1:]
		}
	}
	return b
}
