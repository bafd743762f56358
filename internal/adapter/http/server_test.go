package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/gfs-ingest-service/internal/adapter/http"
	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStatus struct {
	runs    []domain.RunStatus
	missing []int
	gotRun  time.Time
	err     error
}

func (m *mockStatus) Runs(context.Context) ([]domain.RunStatus, error) { return m.runs, m.err }

func (m *mockStatus) Missing(_ context.Context, run time.Time) ([]int, error) {
	m.gotRun = run
	return m.missing, m.err
}

var run = time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)

func newTestServer(readyErr error, status *mockStatus) *httpadapter.Server {
	if status == nil {
		status = &mockStatus{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, status, slog.Default())
}

func get(t *testing.T, srv http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newTestServer(nil, nil), "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, newTestServer(errors.New("no tick yet"), nil), "/readyz").Code)
}

func TestReadinessGroup(t *testing.T) {
	ok := &mockReadiness{}
	down := &mockReadiness{err: errors.New("database unreachable")}

	require.NoError(t, httpadapter.ReadinessGroup{ok, ok}.CheckReadiness(context.Background()))
	err := httpadapter.ReadinessGroup{ok, down}.CheckReadiness(context.Background())
	require.ErrorContains(t, err, "database unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunsEndpoint(t *testing.T) {
	status := &mockStatus{runs: []domain.RunStatus{
		{RunTime: run, Existing: 200, Missing: 9},
		{RunTime: run.Add(-6 * time.Hour), Existing: 209, Complete: true},
	}}
	rec := get(t, newTestServer(nil, status), "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []struct {
			Run      string `json:"run"`
			Existing int    `json:"existing"`
			Missing  int    `json:"missing"`
			Complete bool   `json:"complete"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "2024010206", body.Runs[0].Run)
	assert.Equal(t, 9, body.Runs[0].Missing)
	assert.True(t, body.Runs[1].Complete)
}

func TestRunsEndpoint_StorageError(t *testing.T) {
	rec := get(t, newTestServer(nil, &mockStatus{err: errors.New("db down")}), "/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestMissingEndpoint(t *testing.T) {
	status := &mockStatus{missing: []int{381, 384}}
	for _, path := range []string{"/v1/runs/2024010206/missing", "/v1/runs/2024-01-02T06:00:00Z/missing"} {
		rec := get(t, newTestServer(nil, status), path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, run, status.gotRun)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "2024010206", body["run"])
		assert.Equal(t, []any{381.0, 384.0}, body["missing"])
		assert.Equal(t, false, body["complete"])
	}
}

func TestMissingEndpoint_CompleteRun(t *testing.T) {
	rec := get(t, newTestServer(nil, &mockStatus{}), "/v1/runs/2024010206/missing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"run":"2024010206","missing":[],"complete":true}`, rec.Body.String())
}

func TestMissingEndpoint_BadRun(t *testing.T) {
	for _, path := range []string{"/v1/runs/yesterday/missing", "/v1/runs/2024010207/missing"} {
		rec := get(t, newTestServer(nil, &mockStatus{}), path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
