// Package events publishes domain events to Kafka, or to the log when no
// broker is configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	dialAttempts = 5
	dialDelay    = 2 * time.Second
)

// Producer is the subset of sarama.SyncProducer the publisher needs.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// NewProducer dials broker and returns a sync producer that waits for acks.
func NewProducer(broker string, retryMax int, retryBackoff time.Duration, logger *zap.Logger) (sarama.SyncProducer, error) {
	brokers := []string{broker}
	if err := waitForKafka(brokers, logger); err != nil {
		return nil, err
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = retryMax
	config.Producer.Retry.Backoff = retryBackoff

	return sarama.NewSyncProducer(brokers, config)
}

func waitForKafka(brokers []string, logger *zap.Logger) error {
	for i := 0; i < dialAttempts; i++ {
		config := sarama.NewConfig()
		config.Net.DialTimeout = time.Second
		client, err := sarama.NewClient(brokers, config)
		if err == nil {
			client.Close()
			return nil
		}
		logger.Info("waiting for kafka", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(dialDelay)
	}
	return fmt.Errorf("kafka not available after %d attempts", dialAttempts)
}

// KafkaPublisher implements port.EventPublisher on a topic keyed by user id.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher wraps producer.
func NewKafkaPublisher(producer Producer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(_ context.Context, evt domain.DomainEvent) error {
	if evt.At == 0 {
		evt.At = time.Now().Unix()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.UserID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(evt.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("kafka publish failed",
			zap.String("event_type", evt.Type),
			zap.String("user_id", evt.UserID),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "kafka", Err: err}
	}

	p.logger.Debug("event published",
		zap.String("event_type", evt.Type),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the logger only.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt domain.DomainEvent) error {
	p.logger.Info("domain event",
		zap.String("event_type", evt.Type),
		zap.String("user_id", evt.UserID),
		zap.Any("payload", evt.Payload),
	)
	return nil
}
