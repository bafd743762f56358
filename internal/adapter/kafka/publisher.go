package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

// Event types carried in the event_type header.
const (
	EventJobFinished  = "job_finished"
	EventPassFinished = "pass_finished"
	EventRunLocated   = "run_located"
	EventRunsPruned   = "runs_pruned"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher streams acquisition events to a Kafka topic. It implements
// scheduler.Observer. Writes are asynchronous so a slow broker never holds up
// a worker; delivery failures are logged by the writer's completion callback.
type Publisher struct {
	writer messageWriter
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPublisher creates a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string, clock clockwork.Clock, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           200 * time.Millisecond,
		Completion: func(msgs []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("event publish failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &Publisher{writer: w, clock: clock, logger: logger}
}

// JobStarted is not published; start events would double the stream volume
// without adding information the finish event lacks.
func (p *Publisher) JobStarted(domain.JobEvent) {}

// JobFinished implements scheduler.Observer.
func (p *Publisher) JobFinished(e domain.JobEvent) {
	p.publish(EventJobFinished, e.RunTime, e)
}

// PassFinished implements scheduler.Observer.
func (p *Publisher) PassFinished(s domain.PassSummary) {
	p.publish(EventPassFinished, s.RunTime, s)
}

// RunLocated implements scheduler.Observer.
func (p *Publisher) RunLocated(e domain.RunLocated) {
	p.publish(EventRunLocated, e.RunTime, e)
}

// RunsPruned implements scheduler.Observer.
func (p *Publisher) RunsPruned(s domain.PruneSummary) {
	p.publish(EventRunsPruned, s.Cutoff, s)
}

func (p *Publisher) publish(eventType string, run time.Time, payload any) {
	msg, err := serializeToMessage(eventType, run, payload, p.clock.Now())
	if err != nil {
		p.logger.Error("serialize event", "event_type", eventType, "error", err)
		return
	}
	if err := p.writer.WriteMessages(context.Background(), msg); err != nil {
		p.logger.Warn("event publish failed", "event_type", eventType, "error", err)
	}
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an event payload into a Kafka message keyed by
// run so a run's events stay ordered within one partition.
func serializeToMessage(eventType string, run time.Time, payload any, now time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", eventType, err)
	}
	var key []byte
	if !run.IsZero() {
		key = []byte(domain.FormatRun(run))
	}
	return kafkago.Message{
		Key:   key,
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "emitted_at", Value: []byte(now.UTC().Format(time.RFC3339))},
		},
	}, nil
}
