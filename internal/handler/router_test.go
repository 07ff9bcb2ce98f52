package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
	"github.com/zhouzirui/z-tavern/salesbot/internal/metrics"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/democonfig"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

type nopStepper struct{}

func (nopStepper) Step(context.Context, string, string, *chat.State) (chat.Delta, error) {
	return chat.Delta{Answer: "ok"}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestRouter(t *testing.T, db Pinger) http.Handler {
	t.Helper()
	repo := store.NewMemory(0)
	recorder := metrics.NewPrometheusRecorder()
	svc := chatService.NewService(repo, repo, nopStepper{}, chatService.Options{Observer: recorder})
	cfg := &config.Config{
		Server:  config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	if db == nil {
		db = repo
	}
	return NewRouter(cfg, svc, democonfig.NewResolver(repo, 1), db, recorder.Handler())
}

func TestRouterHealth(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	newTestRouter(t, failingPinger{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRouterServesMetrics(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "go_goroutines")
}

func TestRouterAppliesCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "https://app.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterMountsPersonaRoutes(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/personas/s1", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "persona not found")
}
