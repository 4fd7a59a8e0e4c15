package netutil

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverKeepsIPv4AndAddsLoopback(t *testing.T) {
	source := func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)},
			&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPAddr{IP: net.ParseIP("10.0.0.5")},
			&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)},
		}, nil
	}
	assert.Equal(t, []string{"192.168.1.20", "10.0.0.5", Loopback}, discover(source))
}

func TestDiscoverError(t *testing.T) {
	source := func() ([]net.Addr, error) { return nil, errors.New("no interfaces") }
	assert.Equal(t, []string{Loopback}, discover(source))
}

func TestLocalAddressesCached(t *testing.T) {
	a := LocalAddresses()
	b := LocalAddresses()
	require.NotEmpty(t, a)
	assert.Equal(t, Loopback, a[len(a)-1])
	assert.Equal(t, a, b)
}

func TestClampAddress(t *testing.T) {
	allowed := []string{"10.0.0.5", Loopback}
	assert.Equal(t, "10.0.0.5", ClampAddress("10.0.0.5", allowed))
	assert.Equal(t, Loopback, ClampAddress("8.8.8.8", allowed))
	assert.Equal(t, Loopback, ClampAddress("", allowed))
}

func TestListenConfigRebind(t *testing.T) {
	lc := ListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()
	c, err := net.DialTimeout("tcp4", addr, time.Second)
	require.NoError(t, err)
	<-done
	_ = c.Close()
	require.NoError(t, ln.Close())

	ln2, err := lc.Listen(context.Background(), "tcp4", addr)
	require.NoError(t, err)
	_ = ln2.Close()
}

func TestApplyTCPOptionsIgnoresNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ApplyTCPOptions(a, TCPOptions{NoDelay: true, KeepAlive: time.Second})
}
