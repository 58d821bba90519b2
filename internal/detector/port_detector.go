package detector

import (
	"errors"
	"net"
	"syscall"
	"time"
)

const defaultDialTimeout = 500 * time.Millisecond

// PortDetector reports whether something accepts TCP connections on Address.
type PortDetector struct {
	Address string // host:port
	Timeout time.Duration
}

func (d PortDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", d.Address, timeout)
	if err != nil {
		var ne net.Error
		if errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &ne) && ne.Timeout()) {
			return false, nil
		}
		return false, err
	}
	_ = conn.Close()
	return true, nil
}

func (d PortDetector) Describe() string { return "tcp:" + d.Address }
