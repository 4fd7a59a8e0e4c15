package api

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrelay/internal/config"
	"msgrelay/internal/endpoint"
	"msgrelay/internal/filter"
	"msgrelay/internal/link"
)

type staticLinks []*link.Link

func (s staticLinks) Links() []*link.Link { return s }

func newTestLink(t *testing.T) *link.Link {
	t.Helper()
	l := link.New(link.WithName("main"), link.WithLocalAddresses([]string{"127.0.0.1"}))
	st := filter.NewStage(filter.KindAppend)
	require.NoError(t, st.SetParams("!", ""))
	st.SetEnabled(true)
	l.Pipeline().Add(st)
	require.NoError(t, l.AddSource(l.NewEndpoint(endpoint.RoleSource, endpoint.TypeServer, endpoint.WithName("in"))))
	l.SetEnabled(true)
	return l
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "%s %s: invalid json", method, path)
	return w, m
}

func TestDashboardEndpoints(t *testing.T) {
	cfg := &config.Config{}
	cfg.Metrics.Listen = "127.0.0.1:9477"
	api := NewDashboardAPI(cfg, staticLinks{newTestLink(t)})

	for _, p := range []string{"/api/v1/status", "/api/v1/links", "/api/v1/links/main", "/api/v1/encodings", "/api/v1/metrics", "/api/v1/config"} {
		w, _ := do(t, api.Handler(), http.MethodGet, p, "")
		assert.Equal(t, http.StatusOK, w.Code, p)
	}
}

func TestConfigFollowsSource(t *testing.T) {
	current := &config.Config{Logging: config.Logging{Level: "info"}}
	api := NewDashboardAPI(nil, staticLinks{}).WithConfigSource(func() *config.Config { return current })
	h := api.Handler()

	_, m := do(t, h, http.MethodGet, "/api/v1/config", "")
	assert.Equal(t, "info", m["config"].(map[string]any)["logging"])

	current = &config.Config{Logging: config.Logging{Level: "debug"}}
	_, m = do(t, h, http.MethodGet, "/api/v1/config", "")
	assert.Equal(t, "debug", m["config"].(map[string]any)["logging"])
}

func TestStatusCountsLinks(t *testing.T) {
	api := NewDashboardAPI(nil, staticLinks{newTestLink(t)})
	_, m := do(t, api.Handler(), http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, true, m["ok"])
	assert.EqualValues(t, 1, m["links"])
	assert.EqualValues(t, 1, m["links_enabled"])
}

func TestUnknownLink(t *testing.T) {
	api := NewDashboardAPI(nil, staticLinks{newTestLink(t)})
	w, m := do(t, api.Handler(), http.MethodGet, "/api/v1/links/other", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "link not found", m["error"])
}

func TestLinkTestString(t *testing.T) {
	api := NewDashboardAPI(nil, staticLinks{newTestLink(t)})
	h := api.Handler()

	w, m := do(t, h, http.MethodPost, "/api/v1/links/main/test", `{"test_string":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi!", m["test_filtered_string"])

	w, m = do(t, h, http.MethodPost, "/api/v1/links/main/test", `{"encoding":"latin1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "windows-1252", m["test_encoding"])
	assert.Equal(t, "hi!", m["test_filtered_string"])

	w, _ = do(t, h, http.MethodPost, "/api/v1/links/main/test", `{"encoding":"klingon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/links/main/test", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkTestStringFilterError(t *testing.T) {
	l := newTestLink(t)
	st := filter.NewStage(filter.KindAppend)
	require.NoError(t, st.SetParams("$Input", ""))
	st.SetEnabled(true)
	l.Pipeline().Add(st)

	api := NewDashboardAPI(nil, staticLinks{l})
	w, m := do(t, api.Handler(), http.MethodPost, "/api/v1/links/main/test", `{"test_string":"$Input"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, m["error"], "substitution limit")
}

func TestSendTestNotRunning(t *testing.T) {
	api := NewDashboardAPI(nil, staticLinks{newTestLink(t)})
	h := api.Handler()

	w, m := do(t, h, http.MethodPost, "/api/v1/links/main/endpoints/in/send-test", `{"test_string":"x"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NotEmpty(t, m["error"])

	w, _ = do(t, h, http.MethodPost, "/api/v1/links/main/endpoints/nope/send-test", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendTestDelivers(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	l := newTestLink(t)
	out := l.NewEndpoint(endpoint.RoleDestination, endpoint.TypeClient, endpoint.WithName("out"),
		endpoint.WithLocal("127.0.0.1", 0), endpoint.WithRemote("127.0.0.1", addr.Port),
		endpoint.WithStopGrace(time.Millisecond))
	require.NoError(t, l.AddDestination(out))
	require.NoError(t, out.SetEnabled(true))
	defer l.Close()

	peer, err := ln.Accept()
	require.NoError(t, err)
	defer peer.Close()
	require.Eventually(t, func() bool { return out.Status() == endpoint.StatusConnected }, 3*time.Second, 10*time.Millisecond)

	api := NewDashboardAPI(nil, staticLinks{l})
	w, m := do(t, api.Handler(), http.MethodPost, "/api/v1/links/main/endpoints/out/send-test", `{"test_string":"ping\\n"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ping\n", m["sent"])

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 5)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", string(buf))
}
