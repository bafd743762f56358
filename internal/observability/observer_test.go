package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRun = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLogObserver_JobFinished(t *testing.T) {
	var buf bytes.Buffer
	metrics := NewMetricsForTesting()
	obs := NewLogObserver(newLogger(&buf, "info", "json"), metrics)

	obs.JobFinished(domain.JobEvent{
		PassID: "p1", RunTime: testRun, Offset: 3, Status: domain.JobSucceeded,
		Attempts: 1, Records: 40, Bytes: 2048, Duration: 2 * time.Second,
	})
	obs.JobFinished(domain.JobEvent{
		PassID: "p1", RunTime: testRun, Offset: 4, Status: domain.JobFailed,
		Attempts: 3, Error: "decode: boom",
	})

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 40, testutil.ToFloat64(metrics.RecordsWritten), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(metrics.BytesFetched), 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "2024010100", first["run"])
	assert.Equal(t, "gfs-ingest", first["service"])
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "decode: boom", second["error"])
}

func TestLogObserver_PassAndRunEvents(t *testing.T) {
	var buf bytes.Buffer
	metrics := NewMetricsForTesting()
	obs := NewLogObserver(newLogger(&buf, "debug", "text"), metrics)

	obs.RunLocated(domain.RunLocated{RunTime: testRun, Missing: 206})
	obs.PassFinished(domain.PassSummary{RunTime: testRun, Jobs: 206, Succeeded: 0, Failed: 206})
	obs.PassFinished(domain.PassSummary{RunTime: testRun, Jobs: 206, Succeeded: 206})
	obs.RunsPruned(domain.PruneSummary{Cutoff: testRun, Kept: []time.Time{testRun.Add(6 * time.Hour), testRun}, DeletedRows: 12})

	assert.InDelta(t, 206, testutil.ToFloat64(metrics.MissingOffsets), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PassesTotal.WithLabelValues("idle")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PassesTotal.WithLabelValues("progress")), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(metrics.PrunedRows), 0)
	assert.Contains(t, buf.String(), "msg=\"runs pruned\"")
}

func TestParseLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
