//go:build unix

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR so a
// restarted server can rebind its port while the previous connection is in
// TIME_WAIT.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddr}
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
