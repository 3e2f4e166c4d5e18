//go:build !windows

package utils

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func listenerControl(enableTFO bool) func(network, address string, conn syscall.RawConn) error {
	return func(_, _ string, conn syscall.RawConn) error {
		var opErr error

		err := conn.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1) //nolint: nosnakecase
			if opErr != nil {
				opErr = fmt.Errorf("cannot set SO_REUSEADDR: %w", opErr)

				return
			}

			if enableTFO {
				// not every kernel supports it
				_ = setTCPFastOpen(int(fd)) //nolint: errcheck
			}
		})
		if err != nil {
			return fmt.Errorf("cannot control listener socket: %w", err)
		}

		return opErr
	}
}
