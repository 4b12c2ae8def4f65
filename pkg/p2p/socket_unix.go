//go:build !windows

package p2p

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketReuseAddr is the holder listener's Control hook. SO_REUSEADDR
// lets a restarted holder rebind its port while accepted connections from
// the previous run sit in TIME_WAIT.
func setSocketReuseAddr(_, _ string, c syscall.RawConn) error {
	var opErr error
	if err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return opErr
}
