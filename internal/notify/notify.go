// Package notify publishes domain notifications to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"awarerisk.org/internal/obs"
)

// Publisher delivers a payload on a topic. Delivery is at-least-once; callers
// do not retry.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Message is a published notification as seen by in-process subscribers.
type Message struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Keyed lets a payload choose its partition key.
type Keyed interface {
	NotificationKey() string
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Log writes notifications to the structured logger. Useful when no broker is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	obs.RecordPublish(topic, err)
	if err != nil {
		return err
	}
	logger := l.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	logger.Info("notification",
		zap.String("topic", topic),
		zap.String("key", keyOf(payload)),
		zap.ByteString("payload", data),
	)
	return nil
}

// Multi fans a notification out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func keyOf(payload any) string {
	if k, ok := payload.(Keyed); ok {
		return k.NotificationKey()
	}
	return ""
}
