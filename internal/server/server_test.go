package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/layerwise/internal/database"
	testingutil "github.com/aristath/layerwise/internal/testing"
)

type fakeJobs struct{ running int }

func (f fakeJobs) Running() int { return f.running }

type pingModule struct{}

func (pingModule) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestServer(t *testing.T, dbs ...*database.DB) *Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "layerwise_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	s := New(Config{
		Log:       zerolog.New(nil).Level(zerolog.Disabled),
		Port:      0,
		DevMode:   true,
		Databases: dbs,
		Jobs:      fakeJobs{running: 2},
		Gatherer:  registry,
		Modules:   []RouteRegistrar{pingModule{}},
	})
	s.systemHandlers.stats = func() (float64, float64) { return 12.5, 40 }
	return s
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	db, cleanup := testingutil.NewTestDB(t, "portfolio")
	defer cleanup()
	s := newTestServer(t, db)

	w := serve(s, "GET", "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, map[string]interface{}{"portfolio": "ok"}, response["databases"])
}

func TestHandleHealth_ClosedDatabase(t *testing.T) {
	db, cleanup := testingutil.NewTestDB(t, "runs")
	defer cleanup()
	require.NoError(t, db.Close())
	s := newTestServer(t, db)

	w := serve(s, "GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestHandleSystemStatus(t *testing.T) {
	db, cleanup := testingutil.NewTestDB(t, "runs")
	defer cleanup()
	s := newTestServer(t, db)

	w := serve(s, "GET", "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response struct {
		Data     SystemStatusResponse   `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Contains(t, response.Metadata, "timestamp")
	assert.Equal(t, 12.5, response.Data.CPUPercent)
	assert.Equal(t, 40.0, response.Data.RAMPercent)
	assert.Equal(t, 2, response.Data.RunningJobs)
	assert.GreaterOrEqual(t, response.Data.UptimeSeconds, 0.0)
	require.Len(t, response.Data.Databases, 1)
	assert.Equal(t, "runs", response.Data.Databases[0].Name)
	assert.Greater(t, response.Data.Databases[0].SizeMB, 0.0)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, "GET", "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "layerwise_test_total 1")
}

func TestModuleRoutesMountedUnderAPI(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, serve(s, "GET", "/api/ping").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, "GET", "/ping").Code)
}
