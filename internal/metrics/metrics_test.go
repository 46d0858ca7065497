package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Counters(t *testing.T) {
	m := New()
	m.Ingested("peacock", "created")
	m.Ingested("peacock", "created")
	m.Ingested("abc", "skipped-duplicate")
	m.Swept("orphan", 3)
	m.Swept("ended", 0)
	m.Assigned(4, 1)
	m.ObserveRun("ok", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("peacock", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("abc", "skipped-duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweptTotal.WithLabelValues("orphan")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.AssignTotal.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
}

func TestCollectors_NilSafe(t *testing.T) {
	var m *Collectors
	assert.NotPanics(t, func() {
		m.Ingested("peacock", "created")
		m.ChannelRegistered("abc", true)
		m.ObserveRun("ok", time.Second)
		m.ProviderError("abc", "fetch")
	})
	assert.Nil(t, m.Registry())
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ProviderError("abc", "fetch")

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/channels/abc/1", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ccepg_provider_errors_total{provider="abc",stage="fetch"} 1`)
	assert.Contains(t, body, `endpoint="/api/channels/:provider/:id"`)
	assert.Contains(t, body, `status="418"`)
}
