// Package api serves the JSON control surface for running links.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"msgrelay/internal/codec"
	"msgrelay/internal/config"
	"msgrelay/internal/endpoint"
	"msgrelay/internal/link"
	"msgrelay/internal/metrics"
)

// LinkSource returns the links currently served.
type LinkSource interface {
	Links() []*link.Link
}

// DashboardAPI exposes a dashboard-friendly JSON API surface.
type DashboardAPI struct {
	cfg     func() *config.Config
	links   LinkSource
	started time.Time
}

func NewDashboardAPI(cfg *config.Config, links LinkSource) *DashboardAPI {
	return &DashboardAPI{
		cfg:     func() *config.Config { return cfg },
		links:   links,
		started: time.Now(),
	}
}

// WithConfigSource makes /api/v1/config follow fn, e.g. a reloadable config.
func (d *DashboardAPI) WithConfigSource(fn func() *config.Config) *DashboardAPI {
	d.cfg = fn
	return d
}

func (d *DashboardAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", d.handleStatus)
	mux.HandleFunc("GET /api/v1/links", d.handleLinks)
	mux.HandleFunc("GET /api/v1/links/{name}", d.handleLink)
	mux.HandleFunc("POST /api/v1/links/{name}/test", d.handleTest)
	mux.HandleFunc("POST /api/v1/links/{name}/endpoints/{endpoint}/send-test", d.handleSendTest)
	mux.HandleFunc("GET /api/v1/encodings", d.handleEncodings)
	mux.HandleFunc("GET /api/v1/metrics", d.handleMetrics)
	mux.HandleFunc("GET /api/v1/config", d.handleConfig)
	return mux
}

func (d *DashboardAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := metrics.SnapshotData()
	links := d.allLinks()
	enabled := 0
	for _, l := range links {
		if l.Enabled() {
			enabled++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"uptime_seconds":    int64(time.Since(d.started).Seconds()),
		"links":             len(links),
		"links_enabled":     enabled,
		"endpoints_running": snap.EndpointsRunning,
		"deliveries":        snap.Deliveries,
		"delivery_errors":   snap.DeliveryErrors,
	})
}

func (d *DashboardAPI) handleLinks(w http.ResponseWriter, _ *http.Request) {
	links := d.allLinks()
	infos := make([]link.Info, 0, len(links))
	for _, l := range links {
		infos = append(infos, l.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": infos})
}

func (d *DashboardAPI) handleLink(w http.ResponseWriter, r *http.Request) {
	l, ok := d.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.Info())
}

type testRequest struct {
	TestString *string `json:"test_string"`
	Encoding   string  `json:"encoding"`
}

func (d *DashboardAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	l, ok := d.lookup(w, r)
	if !ok {
		return
	}
	var req testRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Encoding != "" {
		c, err := codec.Lookup(req.Encoding)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := l.SetTestCodec(c); err != nil && req.TestString == nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	s := l.TestString()
	if req.TestString != nil {
		s = *req.TestString
	}
	if err := l.SetTestString(s); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"test_encoding":        l.TestCodec().Name(),
		"test_string":          l.TestString(),
		"test_filtered_string": l.TestFilteredString(),
	})
}

func (d *DashboardAPI) handleSendTest(w http.ResponseWriter, r *http.Request) {
	l, ok := d.lookup(w, r)
	if !ok {
		return
	}
	ep, ok := l.Endpoint(r.PathValue("endpoint"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "endpoint not found"})
		return
	}
	var req testRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TestString != nil {
		ep.SetTestString(*req.TestString)
	}
	if err := ep.SendTest(); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, endpoint.ErrNotRunning) || errors.Is(err, endpoint.ErrNotConnected) ||
			errors.Is(err, endpoint.ErrConnectionless) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": ep.SentString()})
}

func (d *DashboardAPI) handleEncodings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"encodings": codec.Names()})
}

func (d *DashboardAPI) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": metrics.SnapshotData(),
	})
}

func (d *DashboardAPI) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := d.cfg()
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"config": map[string]any{}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config": map[string]any{
			"logging":     cfg.Logging.Level,
			"metrics":     cfg.Metrics.Listen,
			"pprof":       cfg.Metrics.Pprof,
			"preferences": cfg.Preferences.Path,
			"links":       len(cfg.Links),
		},
	})
}

func (d *DashboardAPI) allLinks() []*link.Link {
	if d.links == nil {
		return nil
	}
	return d.links.Links()
}

func (d *DashboardAPI) lookup(w http.ResponseWriter, r *http.Request) (*link.Link, bool) {
	name := r.PathValue("name")
	for _, l := range d.allLinks() {
		if l.Name() == name {
			return l, true
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "link not found"})
	return nil, false
}

// decodeBody accepts an empty body as a zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
