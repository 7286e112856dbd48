// Package vectorsync propagates chunk insertions/removals to the vector
// index off the note-ingestion request path. The in-process Inline
// publisher applies them directly in a background goroutine (the
// teacher's fire-and-forget "best effort" pattern); the Kafka publisher
// instead hands them to a notes-rag.vector-sync topic so a separate
// consumer process can apply them with its own retry policy, the way the
// teacher's orchestrator decouples command handling from Kafka delivery.
package vectorsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"notesrag/internal/config"
	"notesrag/internal/vectorindex"
)

// EventType names the two propagation operations.
type EventType string

const (
	EventUpsert EventType = "upsert"
	EventRemove EventType = "remove"
)

// Event is one propagation unit: either datapoints to upsert or ids to
// remove, never both.
type Event struct {
	Type       EventType               `json:"type"`
	TenantID   string                  `json:"tenantId"`
	Datapoints []vectorindex.Datapoint `json:"datapoints,omitempty"`
	IDs        []string                `json:"ids,omitempty"`
}

// Publisher hands a propagation event off to whatever applies it to the
// vector index, synchronously or not.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Inline applies events directly against the adapter in a background
// goroutine with its own bounded timeout; the indexer's write path never
// blocks on it. This is the default when Kafka is unconfigured.
type Inline struct {
	vector vectorindex.Adapter
	log    zerolog.Logger
}

func NewInline(vector vectorindex.Adapter, log zerolog.Logger) *Inline {
	return &Inline{vector: vector, log: log}
}

func (p *Inline) Publish(_ context.Context, ev Event) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		switch ev.Type {
		case EventUpsert:
			err = p.vector.Upsert(ctx, ev.Datapoints)
		case EventRemove:
			err = p.vector.Remove(ctx, ev.IDs)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("vector index propagation failed (best-effort)")
		}
	}()
	return nil
}

func (p *Inline) Close() error { return nil }

// Kafka publishes JSON-encoded events to the configured topic instead of
// applying them in-process. A separate Consumer (run from the composition
// root, or a standalone worker) reads the same topic and calls Apply.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

func (p *Kafka) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal vector-sync event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TenantID),
		Value: payload,
	})
}

func (p *Kafka) Close() error { return p.writer.Close() }

// Consumer reads vector-sync events back off the Kafka topic and applies
// them to the vector index adapter, retrying transient failures before
// giving up on a message and moving to the next one.
type Consumer struct {
	reader      *kafka.Reader
	vector      vectorindex.Adapter
	log         zerolog.Logger
	maxAttempts int
}

func NewConsumer(cfg config.KafkaConfig, vector vectorindex.Adapter, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		vector:      vector,
		log:         log,
		maxAttempts: 3,
	}
}

// Run reads and applies events until ctx is canceled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch vector-sync message: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error().Err(err).Msg("vector-sync event unmarshal failed, skipping")
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.applyWithRetry(ctx, ev); err != nil {
			c.log.Error().Err(err).Str("event", string(ev.Type)).Msg("vector-sync event apply failed after retries")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Warn().Err(err).Msg("vector-sync commit failed")
		}
	}
}

func (c *Consumer) applyWithRetry(ctx context.Context, ev Event) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var err error
		switch ev.Type {
		case EventUpsert:
			err = c.vector.Upsert(ctx, ev.Datapoints)
		case EventRemove:
			err = c.vector.Remove(ctx, ev.IDs)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return lastErr
}
