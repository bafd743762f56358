package observability

import (
	"log/slog"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// LogObserver renders acquisition events as structured log records and
// Prometheus samples.
type LogObserver struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger, metrics *Metrics) *LogObserver {
	return &LogObserver{logger: logger, metrics: metrics}
}

func (o *LogObserver) JobStarted(e domain.JobEvent) {
	o.logger.Debug("job started", "pass_id", e.PassID, "run", domain.FormatRun(e.RunTime), "offset", e.Offset)
}

func (o *LogObserver) JobFinished(e domain.JobEvent) {
	o.metrics.JobsTotal.WithLabelValues(string(e.Status)).Inc()
	o.metrics.JobAttempts.Observe(float64(e.Attempts))
	o.metrics.JobDuration.Observe(e.Duration.Seconds())
	o.metrics.BytesFetched.Add(float64(e.Bytes))
	o.metrics.RecordsWritten.Add(float64(e.Records))

	attrs := []any{
		"pass_id", e.PassID,
		"run", domain.FormatRun(e.RunTime),
		"offset", e.Offset,
		"status", e.Status,
		"attempts", e.Attempts,
		"records", e.Records,
		"bytes", e.Bytes,
		"duration", e.Duration,
	}
	switch e.Status {
	case domain.JobSucceeded:
		o.logger.Info("job finished", attrs...)
	case domain.JobNotPublished, domain.JobCancelled:
		o.logger.Info("job finished", append(attrs, "error", e.Error)...)
	default:
		o.logger.Warn("job failed", append(attrs, "error", e.Error)...)
	}
}

func (o *LogObserver) PassFinished(s domain.PassSummary) {
	outcome := "idle"
	if s.Succeeded > 0 {
		outcome = "progress"
	}
	o.metrics.PassesTotal.WithLabelValues(outcome).Inc()
	o.metrics.PassDuration.Observe(s.Duration.Seconds())

	o.logger.Info("pass finished",
		"pass_id", s.PassID,
		"run", domain.FormatRun(s.RunTime),
		"jobs", s.Jobs,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"not_published", s.NotPublished,
		"records", s.Records,
		"bytes", s.Bytes,
		"duration", s.Duration,
	)
}

func (o *LogObserver) RunLocated(e domain.RunLocated) {
	o.metrics.MissingOffsets.Set(float64(e.Missing))
	o.logger.Info("run located", "run", domain.FormatRun(e.RunTime), "missing", e.Missing, "probed_offset", e.ProbedOffset)
}

func (o *LogObserver) RunsPruned(s domain.PruneSummary) {
	o.metrics.PrunedRows.Add(float64(s.DeletedRows))
	kept := make([]string, len(s.Kept))
	for i, k := range s.Kept {
		kept[i] = domain.FormatRun(k)
	}
	o.logger.Info("runs pruned", "cutoff", domain.FormatRun(s.Cutoff), "kept", kept, "deleted_rows", s.DeletedRows)
}
