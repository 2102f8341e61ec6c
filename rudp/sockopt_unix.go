//go:build unix

package rudp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl returns a net.ListenConfig control function setting SO_REUSEADDR.
func reuseAddrControl(enable bool) func(network, address string, c syscall.RawConn) error {
	if !enable {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}

		return opErr
	}
}
