package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"awarerisk.org/internal/obs"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Kafka publishes JSON notifications to Kafka behind a circuit breaker.
type Kafka struct {
	writer  messageWriter
	prefix  string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewKafka creates a synchronous Kafka publisher.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafka(w, cfg, logger), nil
}

func newKafka(w messageWriter, cfg KafkaConfig, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = obs.Logger()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publisher",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Kafka{writer: w, prefix: cfg.TopicPrefix, breaker: breaker, logger: logger}
}

// Publish writes payload as JSON to prefix+topic, keyed by the payload's notification key.
func (k *Kafka) Publish(ctx context.Context, topic string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		obs.RecordPublish(topic, err)
		return fmt.Errorf("encode %s notification: %w", topic, err)
	}
	msg := kafka.Message{
		Topic: k.prefix + topic,
		Key:   []byte(keyOf(payload)),
		Value: value,
		Time:  time.Now().UTC(),
	}
	_, err = k.breaker.Execute(func() (interface{}, error) {
		return nil, k.writer.WriteMessages(ctx, msg)
	})
	obs.RecordPublish(topic, err)
	if err != nil {
		k.logger.Error("publish notification failed",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	k.logger.Debug("published notification",
		zap.String("topic", msg.Topic),
		zap.Int("value_size", len(value)))
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
