package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	m := New()

	m.RecordsIngested("source", 3)
	m.RecordsIngested("source", 2)
	m.ComparisonServed("advanced")
	m.SelectionChanged(4)
	m.SelectionChanged(0)
	m.MigrationFinished(5, 2)
	m.ExportFinished(nil)
	m.ExportFinished(errors.New("disk full"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.recordsIngested.WithLabelValues("source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.comparisons.WithLabelValues("advanced")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.selectionChanges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.migrations))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.migratedRecords))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skippedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exports.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exports.WithLabelValues("error")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/tables/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/tables/1", "/tables/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/tables/{id}", "GET", "404")))
}

func TestHandler_ExposesActiveFiles(t *testing.T) {
	m := New()
	m.RegisterActiveFiles(func() int { return 3 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "routemigrate_active_file_operations 3"))
}
