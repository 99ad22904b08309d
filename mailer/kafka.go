package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmailEvent is the payload published for an external mail worker.
type EmailEvent struct {
	EventID          string    `json:"eventId"`
	To               string    `json:"to"`
	DisplayName      string    `json:"displayName"`
	Subject          string    `json:"subject"`
	Body             string    `json:"body"`
	ExpiresInSeconds int64     `json:"expiresInSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
}

// KafkaMailer hands reset emails to a mail worker through a Kafka topic.
// Sends block until the leader acknowledges the write.
type KafkaMailer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

// NewKafkaMailer connects a sync producer to brokers.
func NewKafkaMailer(brokers []string, topic string, logger *zap.Logger) (*KafkaMailer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true // Required by SyncProducer
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Kafka mailer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return newKafkaMailer(producer, topic, logger), nil
}

func newKafkaMailer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaMailer{producer: producer, topic: topic, logger: logger, now: time.Now}
}

func (m *KafkaMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", sendFailure("kafka", err)
	}
	body, err := RenderBody(msg)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(EmailEvent{
		EventID:          uuid.NewString(),
		To:               msg.To,
		DisplayName:      msg.DisplayName,
		Subject:          Subject,
		Body:             body,
		ExpiresInSeconds: int64(msg.TTL / time.Second),
		CreatedAt:        m.now().UTC(),
	})
	if err != nil {
		return "", sendFailure("kafka", err)
	}

	partition, offset, err := m.producer.SendMessage(&sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(msg.To),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return "", sendFailure("kafka", err)
	}
	return fmt.Sprintf("%s/%d/%d", m.topic, partition, offset), nil
}

// Close flushes and closes the producer.
func (m *KafkaMailer) Close() error {
	m.logger.Info("Closing Kafka mailer")
	if err := m.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
