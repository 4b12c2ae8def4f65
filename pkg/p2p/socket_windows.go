//go:build windows

package p2p

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSocketReuseAddr is the holder listener's Control hook. With
// SO_REUSEADDR a holder restarted on the same port binds again even while
// connections from its previous run are still closing.
func setSocketReuseAddr(_, _ string, c syscall.RawConn) error {
	var opErr error
	if err := c.Control(func(fd uintptr) {
		opErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return opErr
}
