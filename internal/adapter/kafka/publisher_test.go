package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testRun = time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)
	testNow = time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func newTestPublisher(w messageWriter) *Publisher {
	return &Publisher{
		writer: w,
		clock:  clockwork.NewFakeClockAt(testNow),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSerializeToMessage(t *testing.T) {
	summary := domain.PassSummary{PassID: "pass-1", RunTime: testRun, Jobs: 209, Succeeded: 200, Failed: 9, NotPublished: 9}

	msg, err := serializeToMessage(EventPassFinished, testRun, summary, testNow)
	require.NoError(t, err)

	assert.Equal(t, []byte("2024042612"), msg.Key)
	assert.Contains(t, string(msg.Value), `"pass_id":"pass-1"`)
	assert.Contains(t, string(msg.Value), `"not_published":9`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte(EventPassFinished), msg.Headers[0].Value)
	assert.Equal(t, "emitted_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-04-26T15:10:00Z"), msg.Headers[1].Value)
}

func TestSerializeToMessage_ZeroRunHasNoKey(t *testing.T) {
	msg, err := serializeToMessage(EventRunsPruned, time.Time{}, domain.PruneSummary{}, testNow)
	require.NoError(t, err)
	assert.Nil(t, msg.Key)
}

func TestPublisher_PublishesObserverEvents(t *testing.T) {
	w := &recordingWriter{}
	p := newTestPublisher(w)

	p.JobStarted(domain.JobEvent{RunTime: testRun, Offset: 3})
	p.JobFinished(domain.JobEvent{RunTime: testRun, Offset: 3, Status: domain.JobSucceeded, Records: 40})
	p.PassFinished(domain.PassSummary{RunTime: testRun})
	p.RunLocated(domain.RunLocated{RunTime: testRun, Missing: 12})
	p.RunsPruned(domain.PruneSummary{Cutoff: testRun, DeletedRows: 100})

	require.Len(t, w.msgs, 4, "job start events are not published")
	var types []string
	for _, m := range w.msgs {
		types = append(types, string(m.Headers[0].Value))
	}
	assert.Equal(t, []string{EventJobFinished, EventPassFinished, EventRunLocated, EventRunsPruned}, types)

	var job domain.JobEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &job))
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.Equal(t, 40, job.Records)
}

func TestPublisher_WriteErrorIsSwallowed(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker unavailable")}
	p := newTestPublisher(w)

	assert.NotPanics(t, func() { p.RunLocated(domain.RunLocated{RunTime: testRun}) })
	assert.Len(t, w.msgs, 1)
}
