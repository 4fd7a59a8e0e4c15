// Package runner builds relay links from configuration or saved
// preferences and runs them until shutdown.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"msgrelay/internal/codec"
	"msgrelay/internal/config"
	"msgrelay/internal/endpoint"
	"msgrelay/internal/filter"
	"msgrelay/internal/link"
	"msgrelay/internal/netutil"
	"msgrelay/internal/prefs"
)

// SeedPort is the port used by the first-run link.
const SeedPort = 12345

type Runner struct {
	cfg          *config.Config
	logger       *slog.Logger
	localAddrs   []string
	endpointOpts []endpoint.Option

	mu      sync.RWMutex
	built   bool
	links   []*link.Link
	pending []*endpoint.Endpoint
	store   *prefs.Store
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithLocalAddresses(addrs []string) Option {
	return func(r *Runner) {
		if len(addrs) > 0 {
			r.localAddrs = addrs
		}
	}
}

// WithEndpointOptions appends opts to every endpoint the runner creates.
func WithEndpointOptions(opts ...endpoint.Option) Option {
	return func(r *Runner) { r.endpointOpts = append(r.endpointOpts, opts...) }
}

func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.localAddrs == nil {
		r.localAddrs = netutil.LocalAddresses()
	}
	return r
}

// Links returns the links built so far.
func (r *Runner) Links() []*link.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*link.Link(nil), r.links...)
}

// Build creates the links without starting any endpoint. Configured links
// take precedence over saved preferences; when neither yields a link a
// first-run link is seeded.
func (r *Runner) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return nil
	}

	if path := r.cfg.Preferences.Path; path != "" {
		store, err := prefs.Open(path)
		if err != nil {
			return err
		}
		r.store = store
	}

	if len(r.cfg.Links) > 0 {
		for _, lc := range r.cfg.Links {
			l, enable := r.buildLink(lc)
			r.links = append(r.links, l)
			r.pending = append(r.pending, enable...)
		}
	} else {
		l := r.newLink()
		if r.store != nil {
			r.logger.Info("loading link from preferences", "path", r.store.Path())
			r.pending = prefs.LoadLink(r.store, l, r.logger, r.endpointOpts...)
		} else {
			l.SetEnabled(true)
		}
		r.pending = append(r.pending, r.seed(l)...)
		r.links = append(r.links, l)
	}
	r.built = true
	return nil
}

func (r *Runner) newLink(opts ...link.Option) *link.Link {
	base := []link.Option{link.WithLocalAddresses(r.localAddrs), link.WithLogger(r.logger)}
	return link.New(append(base, opts...)...)
}

func (r *Runner) buildLink(lc config.Link) (*link.Link, []*endpoint.Endpoint) {
	log := r.logger.With("link", lc.Name)

	testCodec, err := codec.Lookup(lc.TestEncoding)
	if err != nil {
		log.Warn("unknown test encoding, using default", "error", err)
		testCodec = codec.UTF8
	}
	var pipeOpts []filter.Option
	if lc.MaxSubstitutions > 0 {
		pipeOpts = append(pipeOpts, filter.WithMaxSubstitutions(lc.MaxSubstitutions))
	}
	l := r.newLink(
		link.WithName(lc.Name),
		link.WithPipeline(filter.NewPipeline(pipeOpts...)),
		link.WithTestCodec(testCodec),
	)

	for i, fc := range lc.Filters {
		st, err := buildStage(fc)
		if err != nil {
			log.Warn("skipping filter", "index", i, "error", err)
			continue
		}
		l.Pipeline().Add(st)
	}

	var enable []*endpoint.Endpoint
	add := func(role endpoint.Role, i int, ec config.Endpoint) {
		ep, err := r.buildEndpoint(l, role, ec)
		if err == nil {
			if role == endpoint.RoleSource {
				err = l.AddSource(ep)
			} else {
				err = l.AddDestination(ep)
			}
		}
		if err != nil {
			log.Warn("skipping endpoint", "role", role.String(), "index", i, "error", err)
			return
		}
		if ec.IsEnabled() {
			enable = append(enable, ep)
		}
	}
	for i, ec := range lc.Sources {
		add(endpoint.RoleSource, i, ec)
	}
	for i, ec := range lc.Destinations {
		add(endpoint.RoleDestination, i, ec)
	}

	if err := l.SetTestString(lc.TestString); err != nil {
		log.Warn("test string filter failed", "error", err)
	}
	l.SetEnabled(lc.IsEnabled())
	return l, enable
}

func buildStage(fc config.Filter) (*filter.Stage, error) {
	kind, err := filter.ParseKind(fc.Kind)
	if err != nil {
		return nil, err
	}
	st := filter.NewStage(kind)
	st.SetName(fc.Name)
	st.SetEnabled(fc.IsEnabled())
	p1, p2 := fc.Params()
	if err := st.SetParams(p1, p2); err != nil {
		return nil, err
	}
	if kind == filter.KindReplace {
		st.SetFlag(fc.ReplaceAll())
	}
	return st, nil
}

func (r *Runner) buildEndpoint(l *link.Link, role endpoint.Role, ec config.Endpoint) (*endpoint.Endpoint, error) {
	if err := ec.Check(); err != nil {
		return nil, err
	}
	typ, err := endpoint.ParseType(ec.Type)
	if err != nil {
		return nil, err
	}
	proto, err := endpoint.ParseProtocol(ec.Protocol)
	if err != nil {
		return nil, err
	}
	c, err := codec.Lookup(ec.Encoding)
	if err != nil {
		return nil, err
	}
	opts := []endpoint.Option{
		endpoint.WithName(ec.Name),
		endpoint.WithProtocol(proto),
		endpoint.WithCodec(c),
		endpoint.WithLocal(ec.LocalAddress, ec.LocalPort),
		endpoint.WithRemote(ec.RemoteAddress, ec.RemotePort),
		endpoint.WithCollapsed(ec.Collapsed),
		endpoint.WithTestString(ec.TestString),
		endpoint.WithTCPOptions(ec.TCPOptions()),
	}
	if d := ec.RestartDelayDuration(); d > 0 {
		opts = append(opts, endpoint.WithRestartDelay(d))
	}
	return l.NewEndpoint(role, typ, append(opts, r.endpointOpts...)...), nil
}

// seed fills an empty link with the first-run setup: a TCP server source,
// a TCP client destination pointing at it, an enabled one second delay and
// a disabled CRLF append.
func (r *Runner) seed(l *link.Link) []*endpoint.Endpoint {
	var enable []*endpoint.Endpoint
	local := l.LocalAddresses()[0]
	if len(l.Sources()) == 0 {
		src := l.NewEndpoint(endpoint.RoleSource, endpoint.TypeServer, append([]endpoint.Option{
			endpoint.WithName("Adam Source Device"),
			endpoint.WithLocal(local, SeedPort),
		}, r.endpointOpts...)...)
		if err := l.AddSource(src); err == nil {
			enable = append(enable, src)
		}
	}
	if len(l.Destinations()) == 0 {
		dst := l.NewEndpoint(endpoint.RoleDestination, endpoint.TypeClient, append([]endpoint.Option{
			endpoint.WithName("Davis Destination Device"),
			endpoint.WithLocal(local, 0),
			endpoint.WithRemote(local, SeedPort),
		}, r.endpointOpts...)...)
		if err := l.AddDestination(dst); err == nil {
			enable = append(enable, dst)
		}
	}
	if l.Pipeline().Len() == 0 {
		delay := filter.NewStage(filter.KindDelay)
		delay.SetNumber(1000)
		delay.SetEnabled(true)
		l.Pipeline().Add(delay)

		crlf := filter.NewStage(filter.KindAppend)
		crlf.SetText(`\r\n`)
		l.Pipeline().Add(crlf)
	}
	return enable
}

// Start builds the links if needed, starts every enabled endpoint and
// blocks until ctx is cancelled. Endpoints that fail to bind are left in
// the error state and logged.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.Build(); err != nil {
		return err
	}

	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := ep.SetEnabled(true); err != nil {
				failed.Add(1)
				r.logger.Warn("endpoint failed to start", "endpoint", ep.Name(), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start endpoints: %w", err)
	}
	r.logger.Info("relay started", "links", len(r.Links()), "endpoints", len(pending), "failed", failed.Load())

	<-ctx.Done()
	return r.Close()
}

// Close saves the first link to the preference store, when one is
// configured, and stops every endpoint.
func (r *Runner) Close() error {
	r.mu.RLock()
	links := append([]*link.Link(nil), r.links...)
	store := r.store
	r.mu.RUnlock()

	var saveErr error
	if store != nil && len(links) > 0 {
		prefs.SaveLink(store, links[0])
		if err := store.Save(); err != nil {
			saveErr = fmt.Errorf("save preferences: %w", err)
		} else {
			r.logger.Info("preferences saved", "path", store.Path(), "link", links[0].Name())
		}
	}

	var g errgroup.Group
	for _, l := range links {
		g.Go(func() error {
			l.Close()
			return nil
		})
	}
	_ = g.Wait()
	return saveErr
}

// Current tracks the active runner across restarts and serves its links.
type Current struct {
	p atomic.Pointer[Runner]
}

func (c *Current) Set(r *Runner) { c.p.Store(r) }

func (c *Current) Links() []*link.Link {
	r := c.p.Load()
	if r == nil {
		return nil
	}
	return r.Links()
}
