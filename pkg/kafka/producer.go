package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
)

// NewSyncProducer builds a producer that waits for all in-sync replicas and
// returns successes, so Publish only returns once the broker has the message.
func NewSyncProducer(cfg Config) (sarama.SyncProducer, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Return.Successes = true
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
	}

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Join(ErrProducerInit, err)
	}
	return p, nil
}

// Message is one event to publish. Key selects the partition, so all events
// for the same key stay ordered.
type Message struct {
	Key     string
	Type    string
	Payload any
}

// Publisher writes JSON-encoded messages to a single topic.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(log *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPublisher panics on a nil producer or an empty topic.
func NewPublisher(producer sarama.SyncProducer, topic string, opts ...PublisherOption) *Publisher {
	if producer == nil {
		panic("kafka: nil producer")
	}
	if topic == "" {
		panic("kafka: empty topic")
	}
	p := &Publisher{producer: producer, topic: topic, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg and blocks until the broker acknowledges it.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return errors.Join(ErrEncodingMessage, err)
	}

	pm := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(body),
	}
	if msg.Type != "" {
		pm.Headers = []sarama.RecordHeader{{Key: []byte("type"), Value: []byte(msg.Type)}}
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	p.log.DebugContext(ctx, "kafka message published",
		slog.String("topic", p.topic),
		slog.String("key", msg.Key),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
	)
	return nil
}

// Close closes the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
