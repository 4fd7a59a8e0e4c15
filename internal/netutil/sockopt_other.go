//go:build !unix

package netutil

import "net"

// ListenConfig returns the default listen configuration.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
