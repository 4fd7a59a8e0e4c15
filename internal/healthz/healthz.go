// Package healthz aggregates health checks for the running links and
// serves them as JSON.
package healthz

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Result is the aggregate health check result.
type Result struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Checker is the interface for health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc is an adapter for simple checker functions.
type CheckerFunc struct {
	NameVal string
	CheckFn func(ctx context.Context) error
}

// Name returns the checker name.
func (c CheckerFunc) Name() string { return c.NameVal }

// Check runs the check.
func (c CheckerFunc) Check(ctx context.Context) error { return c.CheckFn(ctx) }

// HealthChecker runs registered checks plus the checks produced by its
// sources on every request.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	sources []func() []Checker
	timeout time.Duration
	token   string // Simple auth token
}

// New creates a health checker. A non-empty token is required as a bearer
// token by HTTPHandler.
func New(token string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]Checker),
		timeout: 5 * time.Second,
		token:   token,
	}
}

// Register registers a health check.
func (h *HealthChecker) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[checker.Name()] = checker
}

// Unregister removes a health check.
func (h *HealthChecker) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
}

// AddSource registers fn, whose checks are recomputed on every run.
func (h *HealthChecker) AddSource(fn func() []Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, fn)
}

// RunChecks runs all checks. Any failing check makes the result unhealthy.
func (h *HealthChecker) RunChecks(ctx context.Context) Result {
	h.mu.RLock()
	checks := make([]Checker, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	sources := append([]func() []Checker(nil), h.sources...)
	h.mu.RUnlock()
	for _, fn := range sources {
		checks = append(checks, fn()...)
	}

	result := Result{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checks)),
	}
	for _, checker := range checks {
		check := h.runCheck(ctx, checker)
		result.Checks = append(result.Checks, check)
		if check.Status == StatusUnhealthy {
			result.Status = StatusUnhealthy
		}
	}
	sort.Slice(result.Checks, func(i, j int) bool { return result.Checks[i].Name < result.Checks[j].Name })
	return result
}

func (h *HealthChecker) runCheck(ctx context.Context, checker Checker) Check {
	start := time.Now()
	check := Check{
		Name:        checker.Name(),
		LastChecked: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := checker.Check(checkCtx)
	check.Duration = time.Since(start)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = StatusHealthy
	}
	return check
}

// HTTPHandler returns an HTTP handler for health checks.
func (h *HealthChecker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if h.token != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+h.token)) != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "unauthorized",
				})
				return
			}
		}

		result := h.RunChecks(r.Context())
		if result.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
}

// SimpleCheck creates a simple checker from a function.
func SimpleCheck(name string, fn func() error) Checker {
	return CheckerFunc{
		NameVal: name,
		CheckFn: func(ctx context.Context) error {
			return fn()
		},
	}
}
