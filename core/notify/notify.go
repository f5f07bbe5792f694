// Package notify publishes record change events to kafka
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/logger"
)

// Event is the value of a change message
type Event struct {
	Collection string          `json:"collection"`
	Operation  core.Operation  `json:"operation"`
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a core.Notifier which writes one message per change. Messages are keyed
// by the record id, so all changes of a record go to the same partition.
type Kafka struct {
	writer messageWriter
}

var _ core.Notifier = (*Kafka)(nil)

// NewKafka returns a notifier writing to topic. Messages are written asynchronously,
// delivery failures are logged.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
			Async:                  true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Default().WithError(err).Errorf("Error 4901: cannot deliver %d change notifications", len(messages))
				}
			},
		},
	}
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, collection string, operation core.Operation, payload []byte) error {
	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	value, err := json.Marshal(Event{
		Collection: collection,
		Operation:  operation,
		ID:         record.ID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "collection", Value: []byte(collection)},
			{Key: "operation", Value: []byte(operation)},
		},
	})
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
