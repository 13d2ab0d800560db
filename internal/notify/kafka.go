package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/giftflow/go-autogift-backend/internal/utils"
)

// KafkaEmitter publishes events to a Kafka topic, keyed by rule ID so that
// per-rule ordering survives partitioning.
type KafkaEmitter struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaEmitter builds an emitter writing to topic on the given brokers.
func NewKafkaEmitter(brokers []string, topic string, log zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

// Emit implements Emitter. The event timestamp is set here when absent.
func (e *KafkaEmitter) Emit(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.AmountDisplay == "" && ev.AmountCents > 0 && ev.Currency != "" {
		ev.AmountDisplay = utils.FormatAmount(ev.AmountCents, ev.Currency)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.RuleID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.log.Error().Err(err).
			Str("event_type", ev.Type).
			Str("rule_id", ev.RuleID).
			Msg("notification emit failed")
		return fmt.Errorf("notify: write message: %w", err)
	}
	e.log.Debug().
		Str("event_type", ev.Type).
		Str("rule_id", ev.RuleID).
		Str("execution_id", ev.ExecutionID).
		Msg("notification emitted")
	return nil
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error { return e.writer.Close() }
