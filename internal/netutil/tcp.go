package netutil

import (
	"net"
	"time"
)

// TCPOptions are per-connection settings applied after accept or connect.
type TCPOptions struct {
	NoDelay         bool
	KeepAlive       time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

// ApplyTCPOptions applies safe per-connection TCP options that do not
// require raw file descriptor manipulation. Non-TCP connections are left
// untouched and failures are ignored.
func ApplyTCPOptions(conn net.Conn, opts TCPOptions) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(opts.NoDelay)
	if opts.ReadBufferSize > 0 {
		_ = tc.SetReadBuffer(opts.ReadBufferSize)
	}
	if opts.WriteBufferSize > 0 {
		_ = tc.SetWriteBuffer(opts.WriteBufferSize)
	}
	if opts.KeepAlive > 0 {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(opts.KeepAlive)
	}
}
