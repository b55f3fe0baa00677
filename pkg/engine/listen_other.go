//go:build !unix && !windows

package engine

import (
	"strings"
	"syscall"
)

func controlSocket(string, string, syscall.RawConn) error {
	return nil
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use")
}
