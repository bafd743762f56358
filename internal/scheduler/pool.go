package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultConcurrency is the worker count used when a pass asks for none.
const DefaultConcurrency = 6

// Fetcher retrieves the raw artifact for a job.
type Fetcher interface {
	Fetch(ctx context.Context, job domain.Job) (domain.Artifact, error)
}

// Decoder turns an artifact into records inside region.
type Decoder interface {
	Decode(ctx context.Context, artifact domain.Artifact, region domain.Region) ([]domain.Record, error)
}

// RecordSink persists decoded records. Appends must be idempotent.
type RecordSink interface {
	AppendRecords(ctx context.Context, records []domain.Record) error
}

// PassResult aggregates one pool pass. Failed includes NotPublished.
type PassResult struct {
	PassID       string
	Jobs         int
	Succeeded    int
	Failed       int
	NotPublished int
	Cancelled    int
	Records      int64
	Bytes        int64
	Duration     time.Duration
}

// Pool fetches, decodes and stores artifacts with a fixed number of workers.
type Pool struct {
	fetcher  Fetcher
	decoder  Decoder
	sink     RecordSink
	region   domain.Region
	policy   Policy
	clock    clockwork.Clock
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithObserver sets the event observer.
func WithObserver(o Observer) PoolOption { return func(p *Pool) { p.observer = o } }

// WithTracer sets the tracer used for per-job spans.
func WithTracer(t trace.Tracer) PoolOption { return func(p *Pool) { p.tracer = t } }

// NewPool creates a Pool.
func NewPool(f Fetcher, d Decoder, s RecordSink, region domain.Region, policy Policy, clock clockwork.Clock, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		fetcher:  f,
		decoder:  d,
		sink:     s,
		region:   region,
		policy:   policy,
		clock:    clock,
		observer: NopObserver{},
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type passCounters struct {
	succeeded    atomic.Int64
	failed       atomic.Int64
	notPublished atomic.Int64
	cancelled    atomic.Int64
	records      atomic.Int64
	bytes        atomic.Int64
}

// Run processes one job per offset with concurrency workers and blocks until
// every job is terminal or ctx is done. After cancellation workers stop
// processing jobs; a job already writing to storage may still complete.
// Jobs never started count as cancelled, so Succeeded+Failed+Cancelled
// always equals Jobs.
func (p *Pool) Run(ctx context.Context, run time.Time, offsets []int, concurrency int) PassResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	start := p.clock.Now()
	passID := uuid.NewString()

	jobs := make(chan domain.Job, len(offsets))
	for _, o := range offsets {
		jobs <- domain.Job{RunTime: run.UTC(), Offset: o}
	}
	close(jobs)

	var c passCounters
	var wg sync.WaitGroup
	for range min(concurrency, max(len(offsets), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					// Drain so every job is counted once.
					c.cancelled.Add(1)
					continue
				}
				p.process(ctx, passID, job, &c)
			}
		}()
	}
	wg.Wait()

	res := PassResult{
		PassID:       passID,
		Jobs:         len(offsets),
		Succeeded:    int(c.succeeded.Load()),
		Failed:       int(c.failed.Load()),
		NotPublished: int(c.notPublished.Load()),
		Cancelled:    int(c.cancelled.Load()),
		Records:      c.records.Load(),
		Bytes:        c.bytes.Load(),
		Duration:     p.clock.Since(start),
	}
	p.observer.PassFinished(domain.PassSummary{
		PassID:       res.PassID,
		RunTime:      run.UTC(),
		Jobs:         res.Jobs,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		NotPublished: res.NotPublished,
		Records:      res.Records,
		Bytes:        res.Bytes,
		Duration:     res.Duration,
	})
	return res
}

func (p *Pool) process(ctx context.Context, passID string, job domain.Job, c *passCounters) {
	ctx, span := p.tracer.Start(ctx, "gfs.job", trace.WithAttributes(
		attribute.String("gfs.run", domain.FormatRun(job.RunTime)),
		attribute.Int("gfs.offset", job.Offset),
	))
	defer span.End()

	start := p.clock.Now()
	event := domain.JobEvent{PassID: passID, RunTime: job.RunTime, Offset: job.Offset}
	p.observer.JobStarted(event)

	var records int
	var transferred int64
	attempts, err := p.policy.Do(ctx, p.clock, func(ctx context.Context, _ int) error {
		n, size, err := p.attempt(ctx, job)
		transferred += size
		records = n
		return err
	})

	event.Attempts = attempts
	event.Bytes = transferred
	event.Duration = p.clock.Since(start)
	c.bytes.Add(transferred)

	switch {
	case err == nil:
		event.Status = domain.JobSucceeded
		event.Records = records
		c.succeeded.Add(1)
		c.records.Add(int64(records))
	case ctx.Err() != nil:
		event.Status = domain.JobCancelled
		event.Error = err.Error()
		c.cancelled.Add(1)
	case errors.Is(err, domain.ErrNotPublished):
		event.Status = domain.JobNotPublished
		event.Error = err.Error()
		c.failed.Add(1)
		c.notPublished.Add(1)
	default:
		event.Status = domain.JobFailed
		event.Error = err.Error()
		c.failed.Add(1)
	}

	span.SetAttributes(attribute.Int("gfs.attempts", attempts), attribute.String("gfs.status", string(event.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(event.Status))
	}
	p.observer.JobFinished(event)
}

// attempt runs one fetch, decode and store cycle for a job.
func (p *Pool) attempt(ctx context.Context, job domain.Job) (int, int64, error) {
	artifact, err := p.fetcher.Fetch(ctx, job)
	if err != nil {
		return 0, 0, err
	}
	size := int64(len(artifact.Data))

	records, err := p.decoder.Decode(ctx, artifact, p.region)
	if err != nil {
		var de *domain.DecodeError
		if !errors.As(err, &de) {
			err = &domain.DecodeError{Job: job, Err: err}
		}
		return 0, size, err
	}

	if err := p.sink.AppendRecords(ctx, records); err != nil {
		var se *domain.StorageError
		if !errors.As(err, &se) {
			err = &domain.StorageError{Op: "append", Err: err}
		}
		return 0, size, err
	}
	return len(records), size, nil
}
