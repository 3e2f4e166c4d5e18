//go:build linux

package utils

import "golang.org/x/sys/unix"

func setTCPFastOpen(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, tfoQueueLen) //nolint: wrapcheck, nosnakecase
}
