// Package link relays payloads from source endpoints through a filter
// pipeline to destination endpoints.
package link

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"msgrelay/internal/codec"
	"msgrelay/internal/endpoint"
	"msgrelay/internal/filter"
	"msgrelay/internal/metrics"
	"msgrelay/internal/netutil"
	"msgrelay/internal/observe"
)

// DefaultName is the name given to a link created without WithName.
const DefaultName = "CommLink_1"

var (
	ErrWrongRole        = errors.New("endpoint has the wrong role for this collection")
	ErrDuplicate        = errors.New("endpoint already in link")
	ErrEndpointNotFound = errors.New("endpoint not in link")
)

// Link owns its endpoints and pipeline. At most one delivery runs at a
// time; concurrent deliveries wait on the relay lock.
type Link struct {
	relayMu sync.Mutex

	mu           sync.Mutex
	name         string
	enabled      bool
	status       Status
	sources      []*endpoint.Endpoint
	destinations []*endpoint.Endpoint
	unsubscribe  map[*endpoint.Endpoint]func()
	testCodec    *codec.Codec
	testString   string
	testFiltered string

	pipeline *filter.Pipeline
	allowed  []string
	logger   *slog.Logger
	notifier observe.Notifier
}

// Option configures a Link.
type Option func(*Link)

func WithName(name string) Option { return func(l *Link) { l.name = name } }

// WithLocalAddresses sets the bind addresses handed to endpoints created by
// NewEndpoint.
func WithLocalAddresses(addrs []string) Option {
	return func(l *Link) {
		if len(addrs) > 0 {
			l.allowed = addrs
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Link) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func WithPipeline(p *filter.Pipeline) Option {
	return func(l *Link) {
		if p != nil {
			l.pipeline = p
		}
	}
}

func WithTestCodec(c *codec.Codec) Option {
	return func(l *Link) {
		if c != nil {
			l.testCodec = c
		}
	}
}

// New returns a disabled link with no endpoints and an empty pipeline.
func New(opts ...Option) *Link {
	l := &Link{
		name:        DefaultName,
		unsubscribe: make(map[*endpoint.Endpoint]func()),
		testCodec:   codec.UTF8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pipeline == nil {
		l.pipeline = filter.NewPipeline()
	}
	if l.allowed == nil {
		l.allowed = netutil.LocalAddresses()
	}
	return l
}

// Subscribe registers a property-change handler.
func (l *Link) Subscribe(fn observe.Handler) func() { return l.notifier.Subscribe(fn) }

func (l *Link) Pipeline() *filter.Pipeline { return l.pipeline }

// LocalAddresses returns the addresses endpoints of this link may bind to.
func (l *Link) LocalAddresses() []string { return slices.Clone(l.allowed) }

func (l *Link) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *Link) SetName(name string) {
	l.mu.Lock()
	l.name = name
	l.mu.Unlock()
	l.notifier.Notify("Name")
}

func (l *Link) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled turns relaying on or off. Endpoints keep running either way.
func (l *Link) SetEnabled(v bool) {
	l.mu.Lock()
	changed := l.enabled != v
	l.enabled = v
	l.mu.Unlock()
	if !changed {
		return
	}
	l.notifier.Notify("Enabled")
	if v {
		l.setStatus(StatusOn)
	} else {
		l.setStatus(StatusDefault)
	}
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Link) setStatus(st Status) {
	l.mu.Lock()
	changed := l.status != st
	l.status = st
	l.mu.Unlock()
	if changed {
		l.notifier.Notify("Status")
	}
}

// NewEndpoint creates an endpoint bound to this link's local addresses and
// logger. It is not added to the link.
func (l *Link) NewEndpoint(role endpoint.Role, typ endpoint.Type, opts ...endpoint.Option) *endpoint.Endpoint {
	base := []endpoint.Option{
		endpoint.WithLocalAddresses(l.allowed),
		endpoint.WithLogger(l.logger),
	}
	return endpoint.New(role, typ, append(base, opts...)...)
}

// AddSource appends ep to the sources and relays everything it receives.
func (l *Link) AddSource(ep *endpoint.Endpoint) error {
	if ep.Role() != endpoint.RoleSource {
		return fmt.Errorf("add source %s: %w", ep.Name(), ErrWrongRole)
	}
	l.mu.Lock()
	if slices.Contains(l.sources, ep) {
		l.mu.Unlock()
		return fmt.Errorf("add source %s: %w", ep.Name(), ErrDuplicate)
	}
	l.sources = append(l.sources, ep)
	l.unsubscribe[ep] = ep.OnDataReceived(l.Deliver)
	l.mu.Unlock()
	l.notifier.Notify("Sources")
	return nil
}

// RemoveSource detaches and stops ep.
func (l *Link) RemoveSource(ep *endpoint.Endpoint) error {
	l.mu.Lock()
	i := slices.Index(l.sources, ep)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("remove source %s: %w", ep.Name(), ErrEndpointNotFound)
	}
	l.sources = slices.Delete(l.sources, i, i+1)
	unsub := l.unsubscribe[ep]
	delete(l.unsubscribe, ep)
	l.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	ep.Stop()
	l.notifier.Notify("Sources")
	return nil
}

func (l *Link) AddDestination(ep *endpoint.Endpoint) error {
	if ep.Role() != endpoint.RoleDestination {
		return fmt.Errorf("add destination %s: %w", ep.Name(), ErrWrongRole)
	}
	l.mu.Lock()
	if slices.Contains(l.destinations, ep) {
		l.mu.Unlock()
		return fmt.Errorf("add destination %s: %w", ep.Name(), ErrDuplicate)
	}
	l.destinations = append(l.destinations, ep)
	l.mu.Unlock()
	l.notifier.Notify("Destinations")
	return nil
}

// RemoveDestination detaches and stops ep.
func (l *Link) RemoveDestination(ep *endpoint.Endpoint) error {
	l.mu.Lock()
	i := slices.Index(l.destinations, ep)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("remove destination %s: %w", ep.Name(), ErrEndpointNotFound)
	}
	l.destinations = slices.Delete(l.destinations, i, i+1)
	l.mu.Unlock()
	ep.Stop()
	l.notifier.Notify("Destinations")
	return nil
}

func (l *Link) Sources() []*endpoint.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sources)
}

func (l *Link) Destinations() []*endpoint.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.destinations)
}

// Endpoint finds a source or destination by name, sources first.
func (l *Link) Endpoint(name string) (*endpoint.Endpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ep := range slices.Concat(l.sources, l.destinations) {
		if ep.Name() == name {
			return ep, true
		}
	}
	return nil, false
}

// Deliver relays one payload received by src to every enabled destination.
// It is registered as the data-received handler of each source.
func (l *Link) Deliver(src *endpoint.Endpoint, data []byte) {
	if !l.Enabled() {
		return
	}
	l.relayMu.Lock()
	defer l.relayMu.Unlock()

	start := time.Now()
	l.setStatus(StatusWorking)
	if len(data) > 0 {
		srcCodec := src.Codec()
		for _, dst := range l.Destinations() {
			if !dst.Enabled() {
				continue
			}
			if err := l.forward(srcCodec, dst, data); err != nil {
				metrics.IncDeliveryErrors()
				l.log().Warn("delivery failed", "source", src.Name(), "destination", dst.Name(), "error", err)
			}
		}
	}
	metrics.ObserveDelivery(l.Name(), time.Since(start))

	if l.Enabled() {
		l.setStatus(StatusOn)
	} else {
		l.setStatus(StatusDefault)
	}
}

func (l *Link) forward(srcCodec *codec.Codec, dst *endpoint.Endpoint, data []byte) error {
	dstCodec := dst.Codec()
	payload := codec.Convert(srcCodec, dstCodec, data)
	out, err := l.pipeline.Apply(payload, dstCodec)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		metrics.IncFilteredEmpty()
		return nil
	}
	if err := dst.Send(out); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (l *Link) TestCodec() *codec.Codec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.testCodec
}

// SetTestCodec changes the test encoding and refilters the test string.
func (l *Link) SetTestCodec(c *codec.Codec) error {
	if c == nil {
		c = codec.UTF8
	}
	l.mu.Lock()
	l.testCodec = c
	s := l.testString
	l.mu.Unlock()
	l.notifier.Notify("TestEncoding")
	return l.SetTestString(s)
}

func (l *Link) TestString() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.testString
}

// TestFilteredString is the test string after the last SetTestString run.
func (l *Link) TestFilteredString() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.testFiltered
}

// SetTestString runs s through the pipeline with the test codec and
// records the result. On a filter error the previous result is kept.
func (l *Link) SetTestString(s string) error {
	l.mu.Lock()
	l.testString = s
	c := l.testCodec
	l.mu.Unlock()
	l.notifier.Notify("TestString")

	l.relayMu.Lock()
	out, err := l.pipeline.Apply(c.Encode(s), c)
	l.relayMu.Unlock()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.testFiltered = c.Decode(out)
	l.mu.Unlock()
	l.notifier.Notify("TestFilteredString")
	return nil
}

// Close stops every endpoint. The link keeps its configuration.
func (l *Link) Close() {
	for _, ep := range slices.Concat(l.Sources(), l.Destinations()) {
		ep.Stop()
	}
}

// Info is a point-in-time view of a link.
type Info struct {
	Name               string             `json:"name"`
	Enabled            bool               `json:"enabled"`
	Status             Status             `json:"status"`
	TestEncoding       string             `json:"test_encoding"`
	TestString         string             `json:"test_string,omitempty"`
	TestFilteredString string             `json:"test_filtered_string,omitempty"`
	Sources            []endpoint.Info    `json:"sources"`
	Destinations       []endpoint.Info    `json:"destinations"`
	Filters            []filter.StageInfo `json:"filters"`
	Variables          map[string]string  `json:"variables,omitempty"`
}

func (l *Link) Info() Info {
	l.mu.Lock()
	info := Info{
		Name:               l.name,
		Enabled:            l.enabled,
		Status:             l.status,
		TestEncoding:       l.testCodec.Name(),
		TestString:         l.testString,
		TestFilteredString: l.testFiltered,
		Sources:            make([]endpoint.Info, 0, len(l.sources)),
		Destinations:       make([]endpoint.Info, 0, len(l.destinations)),
	}
	srcs, dsts := slices.Clone(l.sources), slices.Clone(l.destinations)
	l.mu.Unlock()

	for _, ep := range srcs {
		info.Sources = append(info.Sources, ep.Info())
	}
	for _, ep := range dsts {
		info.Destinations = append(info.Destinations, ep.Info())
	}
	stages := l.pipeline.Stages()
	info.Filters = make([]filter.StageInfo, 0, len(stages))
	for _, st := range stages {
		info.Filters = append(info.Filters, st.Info())
	}
	info.Variables = l.pipeline.Variables()
	return info
}

func (l *Link) log() *slog.Logger { return l.logger.With("link", l.Name()) }
