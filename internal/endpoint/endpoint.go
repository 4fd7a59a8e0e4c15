// Package endpoint implements one relay socket: a TCP or UDP server or
// client with an observable status, automatic restart after transport
// errors and a data-received notification.
package endpoint

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"msgrelay/internal/codec"
	"msgrelay/internal/filter"
	"msgrelay/internal/netutil"
	"msgrelay/internal/observe"
)

const (
	// DefaultRestartDelay is the pause before a failed run is restarted.
	DefaultRestartDelay = 500 * time.Millisecond
	// DefaultStopGrace lets in-flight completions observe a stop.
	DefaultStopGrace = 100 * time.Millisecond
)

// DataHandler receives every payload read by an endpoint. Handlers run on
// their own goroutine and share data with other handlers; they must not
// modify it.
type DataHandler func(ep *Endpoint, data []byte)

// Endpoint is one socket with its configuration and run state. Role and
// type are fixed at construction.
type Endpoint struct {
	role Role
	typ  Type

	mu            sync.Mutex
	name          string
	protocol      Protocol
	codec         *codec.Codec
	localAddress  string
	localPort     int
	remoteAddress string
	remotePort    int
	enabled       bool
	collapsed     bool
	status        Status
	received      []byte
	receivedStr   string
	sentStr       string
	testString    string
	run           *session

	allowed      []string
	tcp          netutil.TCPOptions
	restartDelay time.Duration
	stopGrace    time.Duration
	logger       *slog.Logger

	notifier observe.Notifier

	handlerMu sync.RWMutex
	handlers  map[uint64]DataHandler
	nextID    uint64
}

// Option configures an Endpoint.
type Option func(*Endpoint)

func WithName(name string) Option { return func(e *Endpoint) { e.name = name } }

func WithProtocol(p Protocol) Option { return func(e *Endpoint) { e.protocol = p } }

// WithCodec sets the text encoding used for received, sent and test strings.
func WithCodec(c *codec.Codec) Option {
	return func(e *Endpoint) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithLocal sets the bind address and port. The address is clamped to the
// allowed local addresses.
func WithLocal(addr string, port int) Option {
	return func(e *Endpoint) {
		e.localAddress = addr
		e.localPort = port
	}
}

func WithRemote(addr string, port int) Option {
	return func(e *Endpoint) {
		e.remoteAddress = addr
		e.remotePort = port
	}
}

// WithLocalAddresses replaces the process-wide list of bind addresses.
func WithLocalAddresses(addrs []string) Option {
	return func(e *Endpoint) {
		if len(addrs) > 0 {
			e.allowed = addrs
		}
	}
}

func WithTCPOptions(opts netutil.TCPOptions) Option { return func(e *Endpoint) { e.tcp = opts } }

func WithCollapsed(v bool) Option { return func(e *Endpoint) { e.collapsed = v } }

func WithTestString(s string) Option { return func(e *Endpoint) { e.testString = s } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithRestartDelay(d time.Duration) Option { return func(e *Endpoint) { e.restartDelay = d } }

func WithStopGrace(d time.Duration) Option { return func(e *Endpoint) { e.stopGrace = d } }

// New returns a stopped, disabled endpoint.
func New(role Role, typ Type, opts ...Option) *Endpoint {
	e := &Endpoint{
		role:         role,
		typ:          typ,
		codec:        codec.UTF8,
		allowed:      netutil.LocalAddresses(),
		restartDelay: DefaultRestartDelay,
		stopGrace:    DefaultStopGrace,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.localAddress == "" {
		e.localAddress = e.allowed[0]
	}
	e.localAddress = netutil.ClampAddress(e.localAddress, e.allowed)
	if e.name == "" {
		e.name = fmt.Sprintf("%s %s", typ, role)
	}
	return e
}

func (e *Endpoint) Role() Role { return e.role }
func (e *Endpoint) Type() Type { return e.typ }

// Subscribe registers a property-change handler.
func (e *Endpoint) Subscribe(fn observe.Handler) func() { return e.notifier.Subscribe(fn) }

// OnDataReceived registers fn for every received payload and returns a
// function that removes it.
func (e *Endpoint) OnDataReceived(fn DataHandler) (unsubscribe func()) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[uint64]DataHandler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	return func() {
		e.handlerMu.Lock()
		delete(e.handlers, id)
		e.handlerMu.Unlock()
	}
}

func (e *Endpoint) dispatch(data []byte) {
	e.handlerMu.RLock()
	defer e.handlerMu.RUnlock()
	for _, fn := range e.handlers {
		go fn(e, data)
	}
}

// set runs fn under the endpoint lock and then notifies the named field.
func (e *Endpoint) set(field string, fn func()) {
	e.mu.Lock()
	fn()
	e.mu.Unlock()
	e.notifier.Notify(field)
}

func (e *Endpoint) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

func (e *Endpoint) SetName(name string) { e.set("Name", func() { e.name = name }) }

func (e *Endpoint) Protocol() Protocol {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocol
}

// SetProtocol takes effect on the next Start.
func (e *Endpoint) SetProtocol(p Protocol) { e.set("Protocol", func() { e.protocol = p }) }

func (e *Endpoint) Codec() *codec.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codec
}

func (e *Endpoint) SetCodec(c *codec.Codec) {
	if c == nil {
		c = codec.UTF8
	}
	e.set("Encoding", func() { e.codec = c })
}

func (e *Endpoint) LocalAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localAddress
}

// SetLocalAddress selects the bind address. Addresses that are not local to
// this host are replaced by the loopback address.
func (e *Endpoint) SetLocalAddress(addr string) {
	e.set("LocalAddress", func() { e.localAddress = netutil.ClampAddress(addr, e.allowed) })
}

func (e *Endpoint) LocalPort() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localPort
}

func (e *Endpoint) SetLocalPort(port int) { e.set("LocalPort", func() { e.localPort = port }) }

func (e *Endpoint) RemoteAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteAddress
}

func (e *Endpoint) SetRemoteAddress(addr string) {
	e.set("RemoteAddress", func() { e.remoteAddress = addr })
}

func (e *Endpoint) RemotePort() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remotePort
}

func (e *Endpoint) SetRemotePort(port int) { e.set("RemotePort", func() { e.remotePort = port }) }

func (e *Endpoint) Collapsed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collapsed
}

func (e *Endpoint) SetCollapsed(v bool) { e.set("Collapsed", func() { e.collapsed = v }) }

func (e *Endpoint) TestString() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.testString
}

func (e *Endpoint) SetTestString(s string) { e.set("TestString", func() { e.testString = s }) }

func (e *Endpoint) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetEnabled starts the endpoint when it becomes enabled and stops it when
// it becomes disabled.
func (e *Endpoint) SetEnabled(v bool) error {
	e.mu.Lock()
	changed := e.enabled != v
	e.enabled = v
	e.mu.Unlock()
	if !changed {
		return nil
	}
	e.notifier.Notify("Enabled")
	if v {
		return e.Start()
	}
	e.Stop()
	return nil
}

func (e *Endpoint) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Endpoint) setStatus(st Status) {
	e.mu.Lock()
	changed := e.status != st
	e.status = st
	e.mu.Unlock()
	if changed {
		e.notifier.Notify("Status")
	}
}

// Received returns the last received payload.
func (e *Endpoint) Received() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.received
}

// ReceivedString returns the last received payload decoded with the
// endpoint's codec, or the description of the last transport error.
func (e *Endpoint) ReceivedString() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receivedStr
}

func (e *Endpoint) SentString() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sentStr
}

// Running reports whether a run is active (started and not stopped).
func (e *Endpoint) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

// SendTest sends the test string, escape-decoded and encoded with the
// endpoint's codec.
func (e *Endpoint) SendTest() error {
	e.mu.Lock()
	text, c := e.testString, e.codec
	e.mu.Unlock()
	return e.Send(c.Encode(filter.ReplaceSpecialCharacters(text)))
}

// Info is a point-in-time view of an endpoint.
type Info struct {
	Name           string   `json:"name"`
	Role           Role     `json:"role"`
	Type           Type     `json:"type"`
	Protocol       Protocol `json:"protocol"`
	Encoding       string   `json:"encoding"`
	LocalAddress   string   `json:"local_address"`
	LocalPort      int      `json:"local_port"`
	RemoteAddress  string   `json:"remote_address,omitempty"`
	RemotePort     int      `json:"remote_port,omitempty"`
	Enabled        bool     `json:"enabled"`
	Collapsed      bool     `json:"collapsed"`
	Status         Status   `json:"status"`
	ReceivedString string   `json:"received,omitempty"`
	SentString     string   `json:"sent,omitempty"`
	TestString     string   `json:"test_string,omitempty"`
}

func (e *Endpoint) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		Name:           e.name,
		Role:           e.role,
		Type:           e.typ,
		Protocol:       e.protocol,
		Encoding:       e.codec.Name(),
		LocalAddress:   e.localAddress,
		LocalPort:      e.localPort,
		RemoteAddress:  e.remoteAddress,
		RemotePort:     e.remotePort,
		Enabled:        e.enabled,
		Collapsed:      e.collapsed,
		Status:         e.status,
		ReceivedString: e.receivedStr,
		SentString:     e.sentStr,
		TestString:     e.testString,
	}
}

func (e *Endpoint) log() *slog.Logger {
	return e.logger.With("endpoint", e.Name(), "role", e.role.String())
}
