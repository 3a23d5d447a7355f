package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/pipeline"
)

// KafkaConfig holds the consumer group settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// kafkaReader is the subset of *kafka.Reader used here.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads order events from a Kafka topic. Offsets are committed
// only once a message is acknowledged, so a retried message is fetched again
// after a rebalance or restart.
type KafkaConsumer struct {
	reader  kafkaReader
	topic   string
	handler Handler
	logger  *zap.Logger
	backoff time.Duration
}

// NewKafkaConsumer joins cfg.GroupID on cfg.Topic.
func NewKafkaConsumer(cfg KafkaConfig, handler Handler, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	logger.Info("kafka consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)
	return newKafkaConsumer(reader, cfg.Topic, handler, logger), nil
}

func newKafkaConsumer(reader kafkaReader, topic string, handler Handler, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, topic: topic, handler: handler, logger: logger, backoff: time.Second}
}

// Run fetches until ctx is cancelled. A message the pipeline wants retried
// is handled again after a backoff before the consumer moves on, keeping
// per-partition order.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started", zap.String("topic", c.topic))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("kafka consumer stopped")
				return nil
			}
			return fmt.Errorf("kafka fetch failed: %w", err)
		}

		for c.handler.HandleMessage(ctx, "kafka", msg.Value) == pipeline.Retry {
			select {
			case <-ctx.Done():
				c.logger.Info("kafka consumer stopped")
				return nil
			case <-time.After(c.backoff):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
