package collect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

// Publisher fans ledger transitions out to whoever watches ingestion.
type Publisher interface {
	Publish(ctx context.Context, task model.UpdateTask) error
	Close() error
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.UpdateTask) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

type KafkaPublisher struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewKafkaPublisher(writer KafkaWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger.With(zap.String(`component`, `ledger-events`))}
}

// NewPublisher returns a kafka backed publisher, or a no-op one when no brokers are configured.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 || topic == `` {
		return NopPublisher{}
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaPublisher(writer, logger)
}

// Publish keys by task id so every transition of one task lands on one partition.
func (publisher *KafkaPublisher) Publish(ctx context.Context, task model.UpdateTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, `encode task event`)
	}
	err = publisher.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.TaskID), Value: value,
		Time: time.Now().UTC()})
	if err != nil {
		return errors.Wrapf(err, `publish task %s`, task.TaskID)
	}
	return nil
}

func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}
