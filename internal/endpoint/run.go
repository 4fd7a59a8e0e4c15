package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"msgrelay/internal/metrics"
	"msgrelay/internal/netutil"
)

// session is one Start..Stop (or Start..failure) lifetime of the socket.
// Cancelling its context is the stop flag every goroutine of the run checks
// before acting on a completion.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	failed atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	packet   net.PacketConn
	released bool
}

func (s *session) cancelled() bool { return s.ctx.Err() != nil }

func (s *session) attach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	fn()
	return true
}

// Start opens the socket for the configured type and protocol. A run that is
// already active is replaced. Bind and listen failures are returned and
// leave the endpoint in the Error status; failures after that point are
// reported through the status and retried automatically.
func (e *Endpoint) Start() error {
	s, ok := e.begin(nil, false)
	if !ok {
		return ErrNotRunning
	}
	return e.open(s)
}

// begin installs a new session. When restart is set the swap only happens if
// prev is still the active run, so a restart never revives a stopped
// endpoint.
func (e *Endpoint) begin(prev *session, restart bool) (*session, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel}

	e.mu.Lock()
	if restart && e.run != prev {
		e.mu.Unlock()
		cancel()
		return nil, false
	}
	old := e.run
	e.run = s
	e.received = nil
	e.receivedStr = ""
	e.mu.Unlock()

	if old != nil {
		old.cancel()
		e.release(old)
	} else {
		metrics.IncEndpointsRunning()
	}
	e.notifier.Notify("ReceivedString")
	e.setStatus(StatusDefault)
	return s, true
}

func (e *Endpoint) open(s *session) error {
	e.mu.Lock()
	proto := e.protocol
	local := net.JoinHostPort(e.localAddress, strconv.Itoa(e.localPort))
	remote := net.JoinHostPort(e.remoteAddress, strconv.Itoa(e.remotePort))
	bindAddr := e.localAddress
	if e.typ == TypeServer {
		e.remoteAddress = ""
		e.remotePort = 0
	}
	e.mu.Unlock()

	if e.typ == TypeClient {
		e.setStatus(StatusWaiting)
		go e.connect(s, proto, bindAddr, remote)
		return nil
	}

	lc := netutil.ListenConfig()
	if proto == ProtocolUDP {
		pc, err := lc.ListenPacket(s.ctx, proto.network(), local)
		if err != nil {
			err = fmt.Errorf("listen %s: %w", local, err)
			e.startFailed(s, err)
			return err
		}
		if !s.attach(func() { s.packet = pc }) {
			_ = pc.Close()
			return ErrNotRunning
		}
		e.recordLocal(pc.LocalAddr())
		e.log().Info("udp server listening", "addr", pc.LocalAddr().String())
		e.CheckStatus()
		go e.receive(s, func(b []byte) (int, error) {
			n, _, err := pc.ReadFrom(b)
			return n, err
		})
		return nil
	}

	ln, err := lc.Listen(s.ctx, proto.network(), local)
	if err != nil {
		err = fmt.Errorf("listen %s: %w", local, err)
		e.startFailed(s, err)
		return err
	}
	if !s.attach(func() { s.listener = ln }) {
		_ = ln.Close()
		return ErrNotRunning
	}
	e.recordLocal(ln.Addr())
	e.log().Info("tcp server waiting for peer", "addr", ln.Addr().String())
	e.setStatus(StatusWaiting)
	go e.accept(s, ln)
	return nil
}

// accept takes exactly one peer and then closes the listener.
func (e *Endpoint) accept(s *session, ln net.Listener) {
	conn, err := ln.Accept()
	s.mu.Lock()
	if s.listener == ln {
		s.listener = nil
	}
	s.mu.Unlock()
	_ = ln.Close()

	if s.cancelled() {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		e.fail(s, fmt.Errorf("accept: %w", err))
		return
	}
	if !s.attach(func() { s.conn = conn }) {
		_ = conn.Close()
		return
	}
	netutil.ApplyTCPOptions(conn, e.tcp)
	e.recordPeer(conn)
	e.log().Info("peer accepted", "remote", conn.RemoteAddr().String())
	e.CheckStatus()
	e.receive(s, conn.Read)
}

func (e *Endpoint) connect(s *session, proto Protocol, bindAddr, remote string) {
	d := net.Dialer{LocalAddr: localAddr(proto, bindAddr)}
	conn, err := d.DialContext(s.ctx, proto.network(), remote)
	if s.cancelled() {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		e.fail(s, fmt.Errorf("connect %s: %w", remote, err))
		return
	}
	if !s.attach(func() { s.conn = conn }) {
		_ = conn.Close()
		return
	}
	netutil.ApplyTCPOptions(conn, e.tcp)
	e.recordPeer(conn)
	e.log().Info("connected", "local", conn.LocalAddr().String(), "remote", remote)
	e.CheckStatus()
	e.receive(s, conn.Read)
}

func localAddr(proto Protocol, addr string) net.Addr {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	if proto == ProtocolUDP {
		return &net.UDPAddr{IP: ip}
	}
	return &net.TCPAddr{IP: ip}
}

// receive keeps exactly one read outstanding until the run ends.
func (e *Endpoint) receive(s *session, read func([]byte) (int, error)) {
	buf := getBuffer()
	defer putBuffer(buf)
	for {
		n, err := read(buf)
		if s.cancelled() {
			return
		}
		if err != nil {
			e.fail(s, fmt.Errorf("receive: %w", err))
			return
		}
		data := bytes.Clone(buf[:n])

		e.mu.Lock()
		if e.run != s {
			e.mu.Unlock()
			return
		}
		e.status = StatusReceiving
		e.received = data
		e.receivedStr = e.codec.Decode(data)
		name := e.name
		e.mu.Unlock()
		e.notifier.Notify("Status")
		e.notifier.Notify("ReceivedString")

		metrics.AddReceived(name, n)
		e.dispatch(data)
		e.CheckStatus()
	}
}

// Send writes data on the caller's goroutine. Concurrent calls are not
// ordered with respect to each other.
func (e *Endpoint) Send(data []byte) error {
	e.mu.Lock()
	s := e.run
	c := e.codec
	name := e.name
	e.mu.Unlock()
	if s == nil || s.cancelled() {
		return ErrNotRunning
	}

	s.mu.Lock()
	conn, pc := s.conn, s.packet
	s.mu.Unlock()
	if conn == nil {
		if pc != nil {
			return ErrConnectionless
		}
		return ErrNotConnected
	}

	e.mu.Lock()
	if e.run == s {
		e.status = StatusSending
		e.received = nil
	}
	e.mu.Unlock()
	e.notifier.Notify("Status")

	if _, err := conn.Write(data); err != nil {
		err = fmt.Errorf("send: %w", err)
		e.fail(s, err)
		return err
	}
	e.set("SentString", func() { e.sentStr = c.Decode(data) })
	metrics.AddSent(name, len(data))
	e.CheckStatus()
	return nil
}

// Stop ends the current run, releases its sockets and waits briefly for
// pending completions to observe the stop.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	s := e.run
	e.run = nil
	grace := e.stopGrace
	e.mu.Unlock()

	if s != nil {
		s.cancel()
		e.release(s)
		metrics.DecEndpointsRunning()
		e.log().Info("endpoint stopped")
		time.Sleep(grace)
	}
	e.setStatus(StatusDefault)
}

// CheckStatus derives the status from the socket: Connected with a peer,
// Waiting while a listener is pending, Default when stopped or
// connectionless, Error when the run's socket is already gone.
func (e *Endpoint) CheckStatus() Status {
	e.mu.Lock()
	s := e.run
	e.mu.Unlock()

	st := StatusDefault
	if s != nil {
		s.mu.Lock()
		switch {
		case s.released:
			st = StatusError
		case s.conn != nil:
			st = StatusConnected
		case s.listener != nil:
			st = StatusWaiting
		}
		s.mu.Unlock()
	}

	e.mu.Lock()
	if e.run != s {
		st = e.status
		e.mu.Unlock()
		return st
	}
	changed := e.status != st
	e.status = st
	e.mu.Unlock()
	if changed {
		e.notifier.Notify("Status")
	}
	return st
}

// fail handles a transport error of run s: Error status with the error text
// as received string, release, and a restart after the restart delay.
func (e *Endpoint) fail(s *session, err error) {
	if s.cancelled() || !s.failed.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	if e.run != s {
		e.mu.Unlock()
		return
	}
	e.status = StatusError
	e.receivedStr = err.Error()
	name, delay := e.name, e.restartDelay
	e.mu.Unlock()
	e.notifier.Notify("Status")
	e.notifier.Notify("ReceivedString")

	e.log().Warn("endpoint failed, restarting", "error", err, "delay", delay)
	metrics.IncEndpointErrors(name)
	e.release(s)
	time.AfterFunc(delay, func() { e.restart(s) })
}

func (e *Endpoint) restart(prev *session) {
	if prev.cancelled() {
		return
	}
	s, ok := e.begin(prev, true)
	if !ok {
		return
	}
	metrics.IncEndpointRestarts(e.Name())
	if err := e.open(s); err != nil {
		e.log().Warn("restart failed", "error", err)
	}
}

// startFailed records a bind or listen failure. No restart is scheduled.
func (e *Endpoint) startFailed(s *session, err error) {
	e.mu.Lock()
	current := e.run == s
	if current {
		e.status = StatusError
		e.receivedStr = err.Error()
	}
	name := e.name
	e.mu.Unlock()
	if !current {
		return
	}
	e.notifier.Notify("Status")
	e.notifier.Notify("ReceivedString")
	e.log().Warn("endpoint start failed", "error", err)
	metrics.IncEndpointErrors(name)
	e.release(s)
}

// release closes every socket of run s. A connected TCP socket is shut down
// for writing first. Unexpected close errors are reported as an Error
// status with the description as received string.
func (e *Endpoint) release(s *session) {
	s.mu.Lock()
	ln, conn, pc := s.listener, s.conn, s.packet
	s.listener, s.conn, s.packet = nil, nil, nil
	s.released = true
	s.mu.Unlock()

	var errs []error
	if conn != nil {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		errs = append(errs, conn.Close())
	}
	if pc != nil {
		errs = append(errs, pc.Close())
	}
	if ln != nil {
		errs = append(errs, ln.Close())
	}

	var unexpected []error
	for _, err := range errs {
		if err != nil && !errors.Is(err, net.ErrClosed) {
			unexpected = append(unexpected, err)
		}
	}
	if len(unexpected) == 0 {
		return
	}
	err := errors.Join(unexpected...)
	e.mu.Lock()
	current := e.run == s
	if current {
		e.status = StatusError
		e.receivedStr = err.Error()
	}
	e.mu.Unlock()
	if current {
		e.notifier.Notify("Status")
		e.notifier.Notify("ReceivedString")
	}
}

func (e *Endpoint) recordLocal(a net.Addr) {
	host, port := splitAddr(a)
	e.mu.Lock()
	e.localAddress, e.localPort = host, port
	e.mu.Unlock()
	e.notifier.Notify("LocalAddress")
	e.notifier.Notify("LocalPort")
}

func (e *Endpoint) recordPeer(conn net.Conn) {
	lhost, lport := splitAddr(conn.LocalAddr())
	rhost, rport := splitAddr(conn.RemoteAddr())
	e.mu.Lock()
	e.localAddress, e.localPort = lhost, lport
	e.remoteAddress, e.remotePort = rhost, rport
	e.mu.Unlock()
	for _, f := range []string{"LocalAddress", "LocalPort", "RemoteAddress", "RemotePort"} {
		e.notifier.Notify(f)
	}
}

func splitAddr(a net.Addr) (string, int) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP.String(), v.Port
	case *net.UDPAddr:
		return v.IP.String(), v.Port
	}
	return "", 0
}
