package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/events"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt domain.DomainEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.Type != domain.DomainCreditsGranted || evt.UserID != "u1" {
			return errors.New("unexpected event " + string(val))
		}
		if evt.At == 0 {
			return errors.New("timestamp not set")
		}
		return nil
	})

	pub := events.NewKafkaPublisher(producer, "assistant-manager.events", zap.NewNop())
	err := pub.Publish(context.Background(), domain.DomainEvent{
		Type:    domain.DomainCreditsGranted,
		UserID:  "u1",
		Payload: map[string]any{"credits": 100},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := events.NewKafkaPublisher(producer, "topic", zap.NewNop())
	err := pub.Publish(context.Background(), domain.DomainEvent{Type: domain.DomainPhoneReleased, UserID: "u1"})

	var ext *domain.ErrExternalService
	assert.True(t, errors.As(err, &ext))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestLogPublisher(t *testing.T) {
	pub := events.NewLogPublisher(zap.NewNop())
	assert.NoError(t, pub.Publish(context.Background(), domain.DomainEvent{Type: domain.DomainProfileUpdated}))
}
