// Package netutil provides local address discovery and socket options for
// endpoint sockets.
package netutil

import (
	"net"
	"slices"
	"sync"
)

// Loopback is the fallback bind address.
const Loopback = "127.0.0.1"

var (
	localOnce  sync.Once
	localAddrs []string
)

// LocalAddresses returns the host's IPv4 interface addresses followed by the
// loopback address. The list is computed on first use and cached for the
// life of the process; callers must not modify it.
func LocalAddresses() []string {
	localOnce.Do(func() {
		localAddrs = discover(net.InterfaceAddrs)
	})
	return localAddrs
}

func discover(source func() ([]net.Addr, error)) []string {
	var out []string
	addrs, err := source()
	if err == nil {
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			ip4 := ip.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			if s := ip4.String(); !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return append(out, Loopback)
}

// ClampAddress returns addr when it appears in allowed, and the loopback
// address otherwise.
func ClampAddress(addr string, allowed []string) string {
	if slices.Contains(allowed, addr) {
		return addr
	}
	return Loopback
}
