package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Envelope wraps every message published to Kafka.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

const kafkaAlertType = "bridge_alert"

// KafkaSender publishes alerts to a Kafka topic through a synchronous producer.
type KafkaSender struct {
	topic string
	p     sarama.SyncProducer
	now   func() time.Time
}

// NewKafkaSender connects a synchronous producer to brokers and publishes alerts to topic.
func NewKafkaSender(brokers []string, topic string, cfg *sarama.Config) (*KafkaSender, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic required")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaSenderWithProducer(p, topic), nil
}

// NewKafkaSenderWithProducer wraps an existing producer.
func NewKafkaSenderWithProducer(p sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{topic: topic, p: p, now: time.Now}
}

var _ Sender = (*KafkaSender)(nil)

func (s *KafkaSender) Send(ctx context.Context, payload AlertPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	b, err := json.Marshal(Envelope{
		Type: kafkaAlertType,
		TS:   s.now().UnixMilli(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(payload.RuleID),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

// Close releases the underlying producer.
func (s *KafkaSender) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}
