package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voyagen/ccepg/api"
	"github.com/voyagen/ccepg/internal/guide"
	"github.com/voyagen/ccepg/internal/metrics"
	"github.com/voyagen/ccepg/internal/models"
	"github.com/voyagen/ccepg/internal/provider"
	"github.com/voyagen/ccepg/internal/service"
	"github.com/voyagen/ccepg/internal/store"
)

// Deps holds the collaborators the HTTP API is built on.
type Deps struct {
	Store     store.Store
	Settings  *service.Settings
	Exporter  *guide.Exporter
	Refresher service.Refresher
	Metrics   *metrics.Collectors
	Port      string
}

// Server holds dependencies for the HTTP API.
type Server struct {
	store     store.Store
	settings  *service.Settings
	exporter  *guide.Exporter
	refresher service.Refresher
	metrics   *metrics.Collectors
	port      string
	mux       *http.ServeMux
}

// New creates a Server and registers routes.
// Refresher and Metrics may be nil.
func New(d Deps) *Server {
	srv := &Server{
		store:     d.Store,
		settings:  d.Settings,
		exporter:  d.Exporter,
		refresher: d.Refresher,
		metrics:   d.Metrics,
		port:      d.Port,
		mux:       http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	// Exports
	s.mux.HandleFunc("GET /channels.m3u", s.handlePlaylist)
	s.mux.HandleFunc("GET /xmltv.xml", s.handleGuide)

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// Settings
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings/prefix", s.handleUpdatePrefix)
	s.mux.HandleFunc("PUT /api/providers/{provider}", s.handleToggleProvider)

	// Channels
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("PUT /api/channels/{provider}/{id}", s.handleToggleChannel)

	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)

	s.mux.HandleFunc("/", notFound)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s.metrics.Middleware(s)))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- export handlers ---

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	body, err := s.exporter.RenderPlaylist(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	body, err := s.exporter.RenderGuide(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ready writes the plain 404 until the first pipeline run has completed.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) bool {
	ok, err := s.exporter.Ready(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return false
	}
	if !ok {
		notFound(w, r)
		return false
	}
	return true
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 not found"))
}

// --- api handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if last, ok, err := s.settings.LastRun(r.Context()); err == nil && ok {
		resp["last_run"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

type providerStatus struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix, err := s.settings.LookupPrefix(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	providers := make([]providerStatus, 0, len(knownProviders))
	for _, key := range knownProviders {
		enabled, err := s.settings.LookupProviderEnabled(ctx, key)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		providers = append(providers, providerStatus{Key: key, Name: provider.DisplayName(key), Enabled: enabled})
	}

	resp := map[string]any{
		"prefix":    prefix,
		"providers": providers,
	}
	if last, ok, err := s.settings.LastRun(ctx); err == nil && ok {
		resp["last_run"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

var knownProviders = []string{models.ProviderPeacock, models.ProviderABC}

func isKnownProvider(key string) bool {
	for _, k := range knownProviders {
		if k == key {
			return true
		}
	}
	return false
}

type updatePrefixRequest struct {
	Prefix string `json:"prefix"`
}

func (s *Server) handleUpdatePrefix(w http.ResponseWriter, r *http.Request) {
	var req updatePrefixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if err := s.settings.SetPrefix(r.Context(), req.Prefix); err != nil {
		if errors.Is(err, service.ErrInvalidPrefix) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prefix": req.Prefix})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func decodeToggle(r *http.Request) (bool, error) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Enabled == nil {
		return false, fmt.Errorf("enabled is required")
	}
	return *req.Enabled, nil
}

func (s *Server) handleToggleProvider(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("provider")
	if !isKnownProvider(key) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("provider %q not found", key))
		return
	}
	enabled, err := decodeToggle(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.settings.SetProviderEnabled(r.Context(), key, enabled); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	log.Info().Str("provider", key).Bool("enabled", enabled).Msg("provider toggled")
	writeJSON(w, http.StatusOK, providerStatus{Key: key, Name: provider.DisplayName(key), Enabled: enabled})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	var filter store.ChannelFilter
	if v := r.URL.Query().Get("provider"); v != "" {
		filter.Provider = &v
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		switch v {
		case "true", "1":
			on := true
			filter.Enabled = &on
		case "false", "0":
			off := false
			filter.Enabled = &off
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid enabled: %s (use true or false)", v))
			return
		}
	}

	channels, err := s.store.ListChannels(r.Context(), filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"total":    len(channels),
	})
}

func (s *Server) handleToggleChannel(w http.ResponseWriter, r *http.Request) {
	prov, id := r.PathValue("provider"), r.PathValue("id")
	enabled, err := decodeToggle(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.SetChannelEnabled(r.Context(), prov, id, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("channel %s/%s not found", prov, id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	ch, err := s.store.GetChannel(r.Context(), prov, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("refresh is not available"))
		return
	}
	if err := s.refresher.RequestRefresh(r.Context(), "api"); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- middleware ---

// withCORS adds CORS headers to every response and handles preflight OPTIONS requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withLogging wraps a handler and logs each request with method, path, status, and duration.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		ev := log.Info()
		if sw.status >= 500 {
			ev = log.Error()
		} else if sw.status >= 400 {
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writeJSON")
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// --- docs handlers ---

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>ccEPG API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/api/docs/openapi.yaml", dom_id: "#swagger-ui" });
  </script>
</body>
</html>`
