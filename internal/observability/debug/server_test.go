package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	logx "wristrelay/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "hits"})
	reg.MustRegister(c)
	c.Inc()

	s := New(logx.Nop(), reg, func() any { return map[string]int{"queue": 2} })
	ts := httptest.NewServer(s.Handler(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestEndpointsWithoutToken(t *testing.T) {
	ts := newTestServer(t, Config{})

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/healthz", "").StatusCode)

	resp := get(t, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, 2, doc["queue"])

	resp = get(t, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/debug/pprof/", "").StatusCode)
}

func TestTokenGuard(t *testing.T) {
	ts := newTestServer(t, Config{Token: "s3cret", Prefix: "ops/pprof"})

	assert.Equal(t, http.StatusUnauthorized, get(t, ts.URL+"/healthz", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, ts.URL+"/healthz", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/healthz", "s3cret").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/status?token=s3cret", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/ops/pprof/", "s3cret").StatusCode)
}

func TestReconfigureRefusesInsecureBind(t *testing.T) {
	s := New(logx.Nop(), nil, nil)
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"})
	s.Stop(ctx)

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	s.Reconfigure(ctx, Config{Enabled: false})
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "/debug/pprof/", normalizePrefix(""))
	assert.Equal(t, "/ops/", normalizePrefix("ops"))
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("10.0.0.1:6060"))
}
