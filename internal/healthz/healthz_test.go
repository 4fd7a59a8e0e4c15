package healthz

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrelay/internal/endpoint"
	"msgrelay/internal/link"
)

func TestRunChecksAggregates(t *testing.T) {
	h := New("")
	assert.Equal(t, StatusHealthy, h.RunChecks(context.Background()).Status)

	h.Register(SimpleCheck("ok", func() error { return nil }))
	h.Register(SimpleCheck("bad", func() error { return errors.New("boom") }))
	res := h.RunChecks(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, "bad", res.Checks[0].Name)
	assert.Equal(t, "boom", res.Checks[0].Message)

	h.Unregister("bad")
	assert.Equal(t, StatusHealthy, h.RunChecks(context.Background()).Status)
}

func TestHTTPHandler(t *testing.T) {
	h := New("secret")
	h.Register(SimpleCheck("bad", func() error { return errors.New("boom") }))

	w := httptest.NewRecorder()
	h.HTTPHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.HTTPHandler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestLinkCheckersReportFailedEndpoints(t *testing.T) {
	busy, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	l := link.New(link.WithName("main"), link.WithLocalAddresses([]string{"127.0.0.1"}))
	src := l.NewEndpoint(endpoint.RoleSource, endpoint.TypeServer, endpoint.WithName("in"),
		endpoint.WithLocal("127.0.0.1", port), endpoint.WithStopGrace(time.Millisecond))
	require.NoError(t, l.AddSource(src))
	defer l.Close()

	h := New("")
	h.AddSource(func() []Checker { return LinkCheckers([]*link.Link{l}) })

	res := h.RunChecks(context.Background())
	assert.Equal(t, StatusHealthy, res.Status, "disabled endpoints are not checked")
	require.Len(t, res.Checks, 1)
	assert.Equal(t, "main/in", res.Checks[0].Name)

	assert.Error(t, src.SetEnabled(true), "port is taken")
	res = h.RunChecks(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Checks[0].Message, "Source Error")
}
