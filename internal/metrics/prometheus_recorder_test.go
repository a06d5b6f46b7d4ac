package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prom.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveCompile("rebuild", 150*time.Millisecond, OutcomeSuccess)
	pr.ObserveCompile("rebuild", 90*time.Millisecond, OutcomeFailed)
	pr.ObserveAssets(4, 2048)
	pr.IncHotUpdate("update")
	pr.SetHotClients(2)
	pr.IncProxyRequest("api", http.StatusBadGateway)
	pr.IncCachePruned(3)
	pr.IncCachePruned(0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	body := scrape(t, reg)
	assert.Contains(t, body, `frontbuild_compile_outcomes_total{kind="rebuild",outcome="failed"} 1`)
	assert.Contains(t, body, "frontbuild_hot_clients 2")
	assert.Contains(t, body, `frontbuild_proxy_requests_total{code="502",rule="api"} 1`)
	assert.Contains(t, body, "frontbuild_cache_pruned_entries_total 3")
	assert.Contains(t, body, "frontbuild_asset_bytes 2048")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveCompile("build", time.Second, OutcomeSuccess)
	pr.SetHotClients(1)
	var r Recorder = NoopRecorder{}
	r.IncHotUpdate("reload")
}
