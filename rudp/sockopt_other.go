//go:build !unix

package rudp

import "syscall"

// reuseAddrControl is a no-op where SO_REUSEADDR is not exposed through x/sys/unix.
func reuseAddrControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
