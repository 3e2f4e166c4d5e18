//go:build windows

package utils

import (
	"fmt"
	"syscall"
)

func listenerControl(_ bool) func(network, address string, conn syscall.RawConn) error {
	return func(_, _ string, conn syscall.RawConn) error {
		var opErr error

		err := conn.Control(func(fd uintptr) {
			opErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return fmt.Errorf("cannot control listener socket: %w", err)
		}

		if opErr != nil {
			return fmt.Errorf("cannot set SO_REUSEADDR: %w", opErr)
		}

		return nil
	}
}
