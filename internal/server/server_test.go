package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/ccepg/internal/guide"
	"github.com/voyagen/ccepg/internal/metrics"
	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/service"
	"github.com/voyagen/ccepg/internal/store"
)

type countingRefresher struct{ calls int }

func (c *countingRefresher) RequestRefresh(context.Context, string) error {
	c.calls++
	return nil
}

type testEnv struct {
	store     *store.Memory
	settings  *service.Settings
	refresher *countingRefresher
	handler   http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemory()
	settings := service.NewSettings(s)
	ref := &countingRefresher{}
	srv := New(Deps{
		Store:     s,
		Settings:  settings,
		Exporter:  guide.NewExporter(s, settings, time.UTC),
		Refresher: ref,
		Metrics:   metrics.New(),
		Port:      "0",
	})
	return &testEnv{store: s, settings: settings, refresher: ref, handler: srv.Handler()}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addChannel(t *testing.T, provider, id, name string) {
	t.Helper()
	ch := models.Channel{ID: id, Name: name, Provider: provider, Enabled: true, StreamURL: "https://watch.example/" + id}
	require.NoError(t, e.store.InsertChannel(context.Background(), &ch))
}

func TestExports_NotFoundBeforeFirstRun(t *testing.T) {
	env := newEnv(t)
	for _, path := range []string{"/channels.m3u", "/xmltv.xml"} {
		rec := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "404 not found", rec.Body.String(), path)
	}
}

func TestExports_AfterRun(t *testing.T) {
	env := newEnv(t)
	env.addChannel(t, models.ProviderPeacock, "p1", "NBC")
	require.NoError(t, env.settings.MarkRun(context.Background(), time.Now()))

	rec := env.do(http.MethodGet, "/channels.m3u", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-mpegurl", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "#EXTM3U\n"))
	assert.Contains(t, rec.Body.String(), `tvg-name="NBC"`)

	rec = env.do(http.MethodGet, "/xmltv.xml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `<channel id="1.ccEPG">`)
}

func TestUnknownRoute(t *testing.T) {
	rec := newEnv(t).do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404 not found", rec.Body.String())
}

func TestUpdatePrefix(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	rec := env.do(http.MethodPut, "/api/settings/prefix", `{"prefix":"http://"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	prefix, err := env.settings.Prefix(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultPrefix, prefix)

	rec = env.do(http.MethodPut, "/api/settings/prefix", `{"prefix":"http://tv.lan:5589"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	prefix, err = env.settings.Prefix(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://tv.lan:5589", prefix)

	rec = env.do(http.MethodPut, "/api/settings/prefix", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToggleProvider(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPut, "/api/providers/abc", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	enabled, err := env.settings.ProviderEnabled(context.Background(), models.ProviderABC)
	require.NoError(t, err)
	assert.False(t, enabled)

	rec = env.do(http.MethodPut, "/api/providers/netflix", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, "/api/providers/abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSettings(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Prefix    string `json:"prefix"`
		Providers []struct {
			Key     string `json:"key"`
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, service.DefaultPrefix, body.Prefix)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "Peacock", body.Providers[0].Name)
	assert.True(t, body.Providers[1].Enabled)
}

func TestChannels(t *testing.T) {
	env := newEnv(t)
	env.addChannel(t, models.ProviderPeacock, "p1", "NBC")
	env.addChannel(t, models.ProviderABC, "a1", "ABC News")

	rec := env.do(http.MethodGet, "/api/channels?provider=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Channels []models.Channel `json:"channels"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "a1", list.Channels[0].ID)

	rec = env.do(http.MethodPut, "/api/channels/abc/a1", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ch models.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	assert.False(t, ch.Enabled)
	assert.Equal(t, 2, ch.Number)

	rec = env.do(http.MethodPut, "/api/channels/abc/missing", `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/channels?enabled=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, env.refresher.calls)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ccepg_http_request_duration_seconds")
}

func TestCORSPreflight(t *testing.T) {
	rec := newEnv(t).do(http.MethodOptions, "/api/settings", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
