package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/kafka"
)

type terminalEvent struct {
	IntentID string `json:"intent_id"`
	State    string `json:"state"`
}

func mockConfig() *sarama.Config {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestPublisherPublish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mockConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev terminalEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.IntentID != "ci_1" || ev.State != "succeeded" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	pub := kafka.NewPublisher(producer, "checkout.terminal")
	err := pub.Publish(context.Background(), kafka.Message{
		Key:     "ci_1",
		Type:    "checkout.succeeded",
		Payload: terminalEvent{IntentID: "ci_1", State: "succeeded"},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestPublisherPublishFailure(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mockConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := kafka.NewPublisher(producer, "checkout.terminal")
	err := pub.Publish(context.Background(), kafka.Message{Key: "ci_1", Payload: terminalEvent{}})
	assert.ErrorIs(t, err, kafka.ErrPublishFailed)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestPublisherEncodingError(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mockConfig())
	pub := kafka.NewPublisher(producer, "checkout.terminal")

	err := pub.Publish(context.Background(), kafka.Message{Key: "ci_1", Payload: make(chan int)})
	assert.ErrorIs(t, err, kafka.ErrEncodingMessage)
	require.NoError(t, pub.Close())
}

func TestPublisherCanceledContext(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mockConfig())
	pub := kafka.NewPublisher(producer, "checkout.terminal")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, kafka.Message{Key: "ci_1"}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestNewSyncProducerWithoutBrokers(t *testing.T) {
	t.Parallel()

	_, err := kafka.NewSyncProducer(kafka.Config{})
	assert.ErrorIs(t, err, kafka.ErrNoBrokers)
}

func TestNewPublisherPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { kafka.NewPublisher(nil, "topic") })
	assert.Panics(t, func() { kafka.NewPublisher(mocks.NewSyncProducer(t, mockConfig()), "") })
}
