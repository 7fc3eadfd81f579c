package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds the alert event topic configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Validate validates the Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes digests as JSON events keyed by house id.
type KafkaNotifier struct {
	writer kafkaMessageWriter
}

// NewKafkaNotifier creates a Kafka notifier.
func NewKafkaNotifier(config KafkaConfig) (*KafkaNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaNotifier{writer: w}, nil
}

// Name returns "kafka".
func (k *KafkaNotifier) Name() string {
	return "kafka"
}

type alertEvent struct {
	ID        string   `json:"id"`
	SensorID  *string  `json:"sensor_id,omitempty"`
	Type      string   `json:"alert_type"`
	Severity  string   `json:"severity"`
	Rule      string   `json:"rule,omitempty"`
	Message   string   `json:"message"`
	Value     *float64 `json:"value,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	CreatedAt string   `json:"created_at"`
}

type digestEvent struct {
	HouseID   string       `json:"house_id"`
	HouseName string       `json:"house_name"`
	Recipient string       `json:"recipient"`
	Severity  string       `json:"severity"`
	Alerts    []alertEvent `json:"alerts"`
	CreatedAt string       `json:"created_at"`
}

func buildDigestEvent(digest *Digest) digestEvent {
	ev := digestEvent{
		HouseID:   digest.HouseID,
		HouseName: digest.HouseName,
		Recipient: digest.Recipient,
		Severity:  string(digest.MaxSeverity()),
		Alerts:    make([]alertEvent, 0, len(digest.Alerts)),
		CreatedAt: digest.CreatedAt.Format(time.RFC3339),
	}
	for _, a := range digest.Alerts {
		ev.Alerts = append(ev.Alerts, alertEvent{
			ID:        a.ID,
			SensorID:  a.SensorID,
			Type:      string(a.Type),
			Severity:  string(a.Severity),
			Rule:      a.Rule,
			Message:   a.Message,
			Value:     a.Value,
			Threshold: a.Threshold,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return ev
}

// Send writes the digest event to the topic.
func (k *KafkaNotifier) Send(ctx context.Context, digest *Digest) error {
	value, err := json.Marshal(buildDigestEvent(digest))
	if err != nil {
		return fmt.Errorf("failed to marshal digest: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(digest.HouseID),
		Value: value,
		Time:  digest.CreatedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
