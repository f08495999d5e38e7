// Package events delivers ledger events to the message broker.
//
// The service treats publishing as fire-and-forget: KafkaPublisher returns an
// error so the caller can log and count it, but a failed publish never undoes
// a ledger write. A circuit breaker stops producing while the broker is down.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"credits/pkg/platform/circuit"
	"credits/pkg/platform/sentinel"
	"credits/pkg/requestcontext"
)

// Producer is the part of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type keyed interface {
	EventKey() string
}

// KafkaPublisher produces JSON-encoded events, one record per event, keyed by user.
type KafkaPublisher struct {
	producer Producer
	prefix   string
	timeout  time.Duration
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*KafkaPublisher)

// WithTopicPrefix namespaces every topic, e.g. "prod." + "credit.allocated".
func WithTopicPrefix(prefix string) Option {
	return func(p *KafkaPublisher) {
		p.prefix = prefix
	}
}

func WithPublishTimeout(d time.Duration) Option {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *KafkaPublisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *KafkaPublisher) {
		p.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *KafkaPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewKafkaPublisher wraps a producer, usually a *kgo.Client.
func NewKafkaPublisher(producer Producer, opts ...Option) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	p := &KafkaPublisher{
		producer: producer,
		timeout:  5 * time.Second,
		breaker:  circuit.New("kafka"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish encodes payload and produces it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if !p.breaker.Allow() {
		p.metrics.IncDropped(topic, "circuit_open")
		return fmt.Errorf("publish %s: broker circuit open: %w", topic, sentinel.ErrUnavailable)
	}

	value, err := json.Marshal(payload)
	if err != nil {
		p.metrics.IncDropped(topic, "encode")
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	record := &kgo.Record{
		Topic: p.prefix + topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(topic)},
		},
	}
	if k, ok := payload.(keyed); ok {
		record.Key = []byte(k.EventKey())
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: "request_id", Value: []byte(requestID)})
	}

	// delivery outlives the caller's cancellation; only the publish timeout bounds it
	produceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.producer.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.metrics.SetBreakerState(true)
			p.logger.WarnContext(ctx, "kafka circuit breaker opened", "topic", record.Topic, "error", err)
		}
		p.metrics.IncDropped(topic, "produce")
		return fmt.Errorf("produce %s: %w", record.Topic, err)
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetBreakerState(false)
		p.logger.InfoContext(ctx, "kafka circuit breaker closed", "topic", record.Topic)
	}
	p.metrics.IncPublished(topic)
	return nil
}
