package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// --- mocks ---

// memStore is an in-memory storage collaborator. ForecastTimes rotates through
// the representations SQL drivers hand back so the tracker's parsing is
// exercised on every call.
type memStore struct {
	mu      sync.Mutex
	rows    map[int64]map[int64]int // run unix -> forecast unix -> row count
	extra   map[int64][]any         // unparseable values returned alongside real ones
	queries map[int64]int
	err     error
}

func newMemStore() *memStore {
	return &memStore{
		rows:    make(map[int64]map[int64]int),
		extra:   make(map[int64][]any),
		queries: make(map[int64]int),
	}
}

func (s *memStore) seed(run time.Time, offsets ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offsets {
		s.addLocked(run, domain.ForecastTime(run, o))
	}
}

func (s *memStore) seedComplete(run time.Time) {
	s.seed(run, domain.Required().Sorted()...)
}

func (s *memStore) addLocked(run, forecast time.Time) {
	byRun, ok := s.rows[run.Unix()]
	if !ok {
		byRun = make(map[int64]int)
		s.rows[run.Unix()] = byRun
	}
	byRun[forecast.Unix()]++
}

func (s *memStore) AppendRecords(_ context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.addLocked(r.RunTime, r.ForecastTime)
	}
	return nil
}

func (s *memStore) ForecastTimes(_ context.Context, run time.Time) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[run.Unix()]++
	if s.err != nil {
		return nil, s.err
	}
	var out []any
	i := 0
	for ft := range s.rows[run.Unix()] {
		t := time.Unix(ft, 0).UTC()
		switch i % 3 {
		case 0:
			out = append(out, t)
		case 1:
			out = append(out, t.Format("2006-01-02 15:04:05"))
		default:
			out = append(out, []byte(t.Format(time.RFC3339)))
		}
		i++
	}
	return append(out, s.extra[run.Unix()]...), nil
}

func (s *memStore) ListRuns(_ context.Context) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.rows))
	for run := range s.rows {
		out = append(out, time.Unix(run, 0).UTC())
	}
	return out, nil
}

func (s *memStore) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for run, byRun := range s.rows {
		if run < cutoff.Unix() {
			for _, n := range byRun {
				deleted += int64(n)
			}
			delete(s.rows, run)
		}
	}
	return deleted, nil
}

func (s *memStore) hasRun(run time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[run.Unix()]
	return ok
}

func (s *memStore) queryCount(run time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[run.Unix()]
}

// fakeFetcher delegates to fn and counts calls per offset.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[int]int
	fn    func(ctx context.Context, job domain.Job, call int) (domain.Artifact, error)
}

func newFakeFetcher(fn func(ctx context.Context, job domain.Job, call int) (domain.Artifact, error)) *fakeFetcher {
	return &fakeFetcher{calls: make(map[int]int), fn: fn}
}

func (f *fakeFetcher) Fetch(ctx context.Context, job domain.Job) (domain.Artifact, error) {
	f.mu.Lock()
	f.calls[job.Offset]++
	call := f.calls[job.Offset]
	f.mu.Unlock()
	return f.fn(ctx, job, call)
}

func (f *fakeFetcher) callsFor(offset int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[offset]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func okArtifact(_ context.Context, job domain.Job, _ int) (domain.Artifact, error) {
	return domain.Artifact{Job: job, Data: make([]byte, 2048)}, nil
}

// fakeDecoder emits one record per artifact unless failFor says otherwise.
type fakeDecoder struct {
	failFor func(job domain.Job) error
}

func (d *fakeDecoder) Decode(_ context.Context, a domain.Artifact, _ domain.Region) ([]domain.Record, error) {
	if d.failFor != nil {
		if err := d.failFor(a.Job); err != nil {
			return nil, err
		}
	}
	return []domain.Record{{
		RunTime:      a.Job.RunTime,
		ForecastTime: a.Job.ForecastTime(),
		Lat:          35,
		Lon:          -97,
		Field:        "t2m",
		Value:        12.5,
	}}, nil
}

// recordingObserver counts events by kind.
type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[domain.JobStatus]int
	passes   []domain.PassSummary
	located  []domain.RunLocated
	pruned   []domain.PruneSummary
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(map[domain.JobStatus]int)}
}

func (o *recordingObserver) JobStarted(domain.JobEvent) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) JobFinished(e domain.JobEvent) {
	o.mu.Lock()
	o.finished[e.Status]++
	o.mu.Unlock()
}

func (o *recordingObserver) PassFinished(s domain.PassSummary) {
	o.mu.Lock()
	o.passes = append(o.passes, s)
	o.mu.Unlock()
}

func (o *recordingObserver) RunLocated(e domain.RunLocated) {
	o.mu.Lock()
	o.located = append(o.located, e)
	o.mu.Unlock()
}

func (o *recordingObserver) RunsPruned(s domain.PruneSummary) {
	o.mu.Lock()
	o.pruned = append(o.pruned, s)
	o.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testRegion = domain.Region{LatMin: 30, LatMax: 40, LonMin: -100, LonMax: -90}
