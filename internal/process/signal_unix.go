//go:build !windows

package process

import "syscall"

// Kill signals pid. When pid leads its own process group (every service we
// launch does) the whole group is signalled, unless that group is ours.
func Kill(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid && pgid != syscall.Getpgrp() {
		return syscall.Kill(-pid, sig)
	}
	return syscall.Kill(pid, sig)
}
