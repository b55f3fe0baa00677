//go:build unix

package engine

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket IPv6 socket 只接收 IPv6，IPv4 与 IPv6 可以分别绑定同一端口
func controlSocket(network, _ string, c syscall.RawConn) error {
	if network != "tcp6" {
		return nil
	}
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
