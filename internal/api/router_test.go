package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/assetflow/internal/api"
	"github.com/kiranshivaraju/assetflow/internal/api/handler"
	mw "github.com/kiranshivaraju/assetflow/internal/api/middleware"
	"github.com/kiranshivaraju/assetflow/internal/broker"
	"github.com/kiranshivaraju/assetflow/internal/cache"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/internal/task"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Ping(_ context.Context) error { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type discardFirer struct{}

func (discardFirer) Fire(context.Context, string, models.Event) error { return nil }

// --- router tests ---

type testRouter struct {
	http.Handler
	store *store.MemoryStore
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	st := store.NewMemoryStore()
	q := queue.New(queue.NewMemoryDelegate(), nil, nil)
	tm := task.NewManager(st, q, discardFirer{}, nil, nil, nil)
	b := broker.New(q, st, tm, 100, nil, nil)

	return &testRouter{
		store: st,
		Handler: api.NewRouter(api.Dependencies{
			Auth:      mw.NewAuth(st),
			RateLimit: mw.NewRateLimit(&stubCache{}, 60),
			Metrics:   metrics.New(),
			HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"status":"ok"}`))
			},
			PollTasksHandler:    handler.NewPollTasksHandler(b),
			ReportStatusHandler: handler.NewReportStatusHandler(b),
			CreateKeyHandler:    handler.NewCreateKeyHandler(st),
			ListKeysHandler:     handler.NewListKeysHandler(st),
		}),
	}
}

func (tr *testRouter) key(t *testing.T, scopes ...string) string {
	t.Helper()
	raw, key, err := mw.NewAPIKey("test", scopes)
	require.NoError(t, err)
	require.NoError(t, tr.store.CreateAPIKey(context.Background(), key))
	return raw
}

func (tr *testRouter) do(method, path, rawKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	w := httptest.NewRecorder()
	tr.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(t)
	w := router.do("GET", "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_MetricsEndpoint_Public(t *testing.T) {
	router := newTestRouter(t)
	router.do("GET", "/api/v1/health", "", "")

	w := router.do("GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assetflow_http_requests_total")
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/broker/workers/w1/tasks"},
		{"POST", "/broker/workers/w1/tasks/00000000-0000-0000-0000-000000000000/status"},
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs"},
		{"GET", "/api/v1/pipelines/00000000-0000-0000-0000-000000000000"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := router.do(ep.method, ep.path, "", "")

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_Scopes(t *testing.T) {
	router := newTestRouter(t)
	worker := router.key(t, models.ScopeWorker)
	jobs := router.key(t, models.ScopeJobs)
	admin := router.key(t, models.ScopeAdmin)

	poll := `[{"type":"TRANSFER","availability":1}]`
	assert.Equal(t, http.StatusOK, router.do("POST", "/broker/workers/w1/tasks", worker, poll).Code)
	assert.Equal(t, http.StatusForbidden, router.do("POST", "/broker/workers/w1/tasks", jobs, poll).Code)
	assert.Equal(t, http.StatusOK, router.do("POST", "/broker/workers/w1/tasks", admin, poll).Code)

	assert.Equal(t, http.StatusForbidden, router.do("GET", "/api/v1/admin/keys", worker, "").Code)
	assert.Equal(t, http.StatusOK, router.do("GET", "/api/v1/admin/keys", admin, "").Code)

	// Job routes are registered but not wired in this router.
	assert.Equal(t, http.StatusNotImplemented, router.do("GET", "/api/v1/jobs", jobs, "").Code)
	assert.Equal(t, http.StatusForbidden, router.do("GET", "/api/v1/jobs", worker, "").Code)
}

func TestRouter_PollWireFormat(t *testing.T) {
	router := newTestRouter(t)
	worker := router.key(t, models.ScopeWorker)

	w := router.do("POST", "/broker/workers/w1/tasks", worker, `[{"type":"TRANSFER","availability":3}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)
	w := router.do("GET", "/api/v1/nonexistent", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// Verify interfaces are satisfied
var _ cache.Cache = (*stubCache)(nil)
