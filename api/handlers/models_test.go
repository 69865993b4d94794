package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/api"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/testutil/fixtures"
	"github.com/SkastVnT/AI-Assistant-sub002/testutil/mocks"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newModelsHandler(t *testing.T) (*ModelsHandler, *circuitbreaker.Registry) {
	t.Helper()
	registry := newTestRegistry(t, "gemini", "deepseek")
	require.NoError(t, registry.SetDefault("gemini"))

	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{Threshold: 1, RecoveryTimeout: time.Minute}, zap.NewNop())
	table := fallback.BuildTable([]llm.ModelConfig{
		fixtures.ModelWithFallback("gemini", "deepseek"),
		fixtures.ModelConfig("deepseek"),
	}, nil)
	fb := fallback.NewManager(table, zap.NewNop())

	return NewModelsHandler(registry, breakers, fb, zap.NewNop()), breakers
}

func tripBreaker(b *circuitbreaker.Registry, name string) {
	_ = b.Get(name).Call(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
}

func TestModelsHandler_HandleList(t *testing.T) {
	h, breakers := newModelsHandler(t)
	tripBreaker(breakers, "deepseek")

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var models []api.ModelInfo
	resp := decodeResponse(t, w, &models)
	assert.True(t, resp.Success)
	require.Len(t, models, 2)

	byName := map[string]api.ModelInfo{}
	for _, m := range models {
		byName[m.Name] = m
	}

	gemini := byName["gemini"]
	assert.True(t, gemini.Default)
	assert.Equal(t, []string{"deepseek"}, gemini.Fallbacks)
	assert.Nil(t, gemini.Breaker, "breaker is created lazily on first call")

	deepseek := byName["deepseek"]
	assert.False(t, deepseek.Default)
	require.NotNil(t, deepseek.Breaker)
	assert.Equal(t, circuitbreaker.StateOpen.String(), deepseek.Breaker.State)

	assert.NotContains(t, w.Body.String(), "sk-test-", "credentials never leave the process")
}

func TestModelsHandler_HandleGet(t *testing.T) {
	h, _ := newModelsHandler(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/models/{name}", h.HandleGet)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/models/deepseek", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info api.ModelInfo
	decodeResponse(t, w, &info)
	assert.Equal(t, "deepseek", info.Name)
	assert.Equal(t, "deepseek-model", info.Model)
	assert.True(t, info.SupportsStreaming)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/models/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelsHandler_HandleResetBreaker(t *testing.T) {
	h, breakers := newModelsHandler(t)
	tripBreaker(breakers, "gemini")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/models/{name}/reset", h.HandleResetBreaker)

	tests := []struct {
		name       string
		model      string
		wantStatus int
		wantState  string
	}{
		{name: "open breaker is closed", model: "gemini", wantStatus: http.StatusOK, wantState: circuitbreaker.StateClosed.String()},
		{name: "never called provider", model: "deepseek", wantStatus: http.StatusOK, wantState: circuitbreaker.StateClosed.String()},
		{name: "unknown model", model: "missing", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/models/"+tt.model+"/reset", nil))
			assert.Equal(t, tt.wantStatus, w.Code)

			var snap circuitbreaker.Snapshot
			resp := decodeResponse(t, w, &snap)
			if tt.wantStatus != http.StatusOK {
				require.NotNil(t, resp.Error)
				assert.Equal(t, string(types.ErrModelNotFound), resp.Error.Code)
				return
			}
			assert.Equal(t, tt.model, snap.Name)
			assert.Equal(t, tt.wantState, snap.State)
			assert.Zero(t, snap.FailureCount)
		})
	}

	assert.Equal(t, circuitbreaker.StateClosed, breakers.Get("gemini").State())
}

func TestModelsHandler_NilFallback(t *testing.T) {
	registry := newTestRegistry(t, "solo")
	h := NewModelsHandler(registry, circuitbreaker.NewRegistry(nil, nil), nil, nil)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))

	var models []api.ModelInfo
	decodeResponse(t, w, &models)
	require.Len(t, models, 1)
	assert.Empty(t, models[0].Fallbacks)
}

type probingHandler struct {
	*mocks.MockHandler
	status *llm.HealthStatus
	err    error
}

func (p *probingHandler) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return p.status, p.err
}

func TestModelsHandler_HandleProbe(t *testing.T) {
	registry := newTestRegistry(t, "plain")
	require.NoError(t, registry.Register(fixtures.ModelConfig("up"), &probingHandler{
		MockHandler: mocks.NewSuccessHandler("up", "ok"),
		status:      &llm.HealthStatus{Healthy: true, Latency: time.Millisecond},
	}))
	require.NoError(t, registry.Register(fixtures.ModelConfig("down"), &probingHandler{
		MockHandler: mocks.NewSuccessHandler("down", "ok"),
		status:      &llm.HealthStatus{Healthy: false, Message: "503"},
		err:         errors.New("down health check failed"),
	}))
	breakers := circuitbreaker.NewRegistry(nil, zap.NewNop())
	h := NewModelsHandler(registry, breakers, nil, zap.NewNop())

	tests := []struct {
		name     string
		model    string
		wantCode int
	}{
		{"healthy", "up", http.StatusOK},
		{"unhealthy", "down", http.StatusServiceUnavailable},
		{"no probe support", "plain", http.StatusNotImplemented},
		{"unknown", "missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/models/"+tt.model+"/health", nil)
			r.SetPathValue("name", tt.model)
			w := httptest.NewRecorder()
			h.HandleProbe(w, r)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	// 探测不经过熔断器
	assert.Equal(t, 0, breakers.Len())
}
