// Package publisher emits upsert outcomes to Kafka so downstream
// consumers (notifications, search indexing) can react to calendar
// changes without polling the database.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

// DefaultTopic is the topic event changes are published to.
const DefaultTopic = "trailblaze.events"

type (
	// Change is the wire message published for every inserted or updated
	// event.
	Change struct {
		RunID     string    `json:"run_id"`
		Source    string    `json:"source"`
		Action    string    `json:"action"` // "inserted" or "updated"
		Name      string    `json:"name"`
		RideID    string    `json:"ride_id,omitempty"`
		DateStart time.Time `json:"date_start"`
		Location  string    `json:"location,omitempty"`
		EmittedAt time.Time `json:"emitted_at"`
	}

	// messageWriter is the slice of kafka.Writer the publisher needs;
	// tests substitute a recorder.
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Publisher converts upsert results into change messages. A nil
	// Publisher is valid and publishes nothing, so the pipeline does not
	// special-case disabled messaging.
	Publisher struct {
		writer messageWriter
		logger *slog.Logger
	}
)

// New creates a Publisher writing to the given brokers and topic. An
// empty topic uses DefaultTopic.
func New(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}

	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}

	return &Publisher{
		writer: writer,
		logger: logger.With("component", "publisher"),
	}
}

// PublishResults emits one change message per inserted or updated event.
// Errored and skipped results produce no message. Publish failures are
// returned but the caller treats them as non-fatal; the database is the
// source of truth.
func (p *Publisher) PublishResults(ctx context.Context, runID string, results []*events.UpsertResult) error {
	if p == nil {
		return nil
	}

	messages := make([]kafka.Message, 0, len(results))

	for _, result := range results {
		if result == nil || result.Event == nil || result.Error != nil {
			continue
		}

		action := ""

		switch {
		case result.Inserted:
			action = "inserted"
		case result.Updated:
			action = "updated"
		default:
			continue
		}

		change := Change{
			RunID:     runID,
			Source:    result.Event.Source.String(),
			Action:    action,
			Name:      result.Event.Name,
			RideID:    result.Event.RideID,
			DateStart: result.Event.DateStart,
			Location:  result.Event.Location,
			EmittedAt: time.Now().UTC(),
		}

		payload, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to encode change message: %w", err)
		}

		// Key on source+name so changes for one event stay ordered
		// within a partition.
		messages = append(messages, kafka.Message{
			Key:   []byte(change.Source + "/" + change.Name),
			Value: payload,
		})
	}

	if len(messages) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to publish %d change messages: %w", len(messages), err)
	}

	p.logger.Info("published event changes", "run_id", runID, "messages", len(messages))

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	return p.writer.Close()
}
