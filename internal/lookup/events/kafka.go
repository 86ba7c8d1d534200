package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaPublisher produces events asynchronously, keyed by task id so events
// for one task land on one partition in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

type KafkaOption func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewKafkaPublisher connects a franz-go client to brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(0),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return NewKafkaPublisherWithProducer(client, topic, opts...)
}

func NewKafkaPublisherWithProducer(producer Producer, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	p := &KafkaPublisher{producer: producer, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev TaskEvent) error {
	rec, err := p.record(ev)
	if err != nil {
		return err
	}
	// The promise outlives the request; detach from its cancellation.
	p.producer.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("task event delivery failed",
				"task_id", ev.TaskID,
				"event", string(ev.Type),
				"topic", r.Topic,
				"error", err,
			)
		}
	})
	return nil
}

func (p *KafkaPublisher) record(ev TaskEvent) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode task event: %w", err)
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.TaskID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.producer.Flush(ctx)
	p.producer.Close()
	return err
}
