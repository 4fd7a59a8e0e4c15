package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebServer serves /metrics, /healthz, a text status page and any mounted
// handlers such as the JSON API.
type WebServer struct {
	registry    *prometheus.Registry
	addr        string
	enablePprof bool
	startTime   time.Time
	mounts      []mount
}

type mount struct {
	pattern string
	handler http.Handler
}

// WebServerOption configures a WebServer.
type WebServerOption func(*WebServer)

// WithPprof enables /debug/pprof/* endpoints.
func WithPprof(enable bool) WebServerOption {
	return func(ws *WebServer) {
		ws.enablePprof = enable
	}
}

// WithHandler mounts h under pattern.
func WithHandler(pattern string, h http.Handler) WebServerOption {
	return func(ws *WebServer) {
		ws.mounts = append(ws.mounts, mount{pattern: pattern, handler: h})
	}
}

// NewWebServer creates a status server on addr. A nil registry gets a fresh
// one with the Go, process and relay collectors.
func NewWebServer(addr string, registry *prometheus.Registry, opts ...WebServerOption) (*WebServer, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := Register(registry); err != nil {
			return nil, fmt.Errorf("register relay metrics: %w", err)
		}
	}
	ws := &WebServer{
		registry:  registry,
		addr:      addr,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws, nil
}

// Handler returns the routing table.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/status/text", s.handleTextStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}
	return mux
}

// Start listens on the configured address and serves until ctx is done.
func (s *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleTextStatus returns a human-readable text status.
func (s *WebServer) handleTextStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	st := SnapshotData()

	uptime := time.Since(s.startTime).Truncate(time.Second)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fmt.Fprintf(w, "=== msgrelay status ===\n\n")
	fmt.Fprintf(w, "Uptime:       %s\n", uptime)
	fmt.Fprintf(w, "Go Version:   %s\n", runtime.Version())
	fmt.Fprintf(w, "Platform:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Goroutines:   %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "Alloc:        %s\n\n", formatBytes(m.Alloc))

	fmt.Fprintf(w, "--- Traffic ---\n")
	fmt.Fprintf(w, "Endpoints:    %d running, %d errors, %d restarts\n", st.EndpointsRunning, st.EndpointErrors, st.EndpointRestarts)
	fmt.Fprintf(w, "Received:     %d messages, %s\n", st.MessagesReceived, formatBytes(uint64(st.BytesReceived)))
	fmt.Fprintf(w, "Sent:         %d messages, %s\n", st.MessagesSent, formatBytes(uint64(st.BytesSent)))
	fmt.Fprintf(w, "Deliveries:   %d (avg %.2fms, %d failed, %d empty)\n", st.Deliveries, GetDeliveryAvgMs(), st.DeliveryErrors, st.FilteredEmpty)
	for _, name := range EndpointNames() {
		ep := st.Endpoints[name]
		fmt.Fprintf(w, "  %-24s rx %d/%s tx %d/%s\n", name,
			ep.MessagesReceived, formatBytes(uint64(ep.BytesReceived)),
			ep.MessagesSent, formatBytes(uint64(ep.BytesSent)))
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
