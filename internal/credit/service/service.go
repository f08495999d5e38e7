package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits/internal/credit/metrics"
	"credits/internal/credit/models"
	"credits/internal/credit/ports"
	"credits/pkg/requestcontext"
)

const tracerName = "credits/internal/credit/service"

// DefaultSubscriptionDays is the fallback period when a subscription's end
// cannot be resolved.
const DefaultSubscriptionDays = 30

// Service is the credit ledger engine. It owns no state of its own; every
// mutation goes through the store's single-row conditional writes.
type Service struct {
	store       ports.Store
	publisher   ports.EventPublisher
	users       ports.UserDirectory
	eligibility ports.EligibilityChecker
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	subscriptionDays int
	expirationBatch  int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithUserDirectory(d ports.UserDirectory) Option {
	return func(s *Service) {
		s.users = d
	}
}

func WithEligibilityChecker(c ports.EligibilityChecker) Option {
	return func(s *Service) {
		s.eligibility = c
	}
}

// WithSubscriptionFallbackDays sets the period used when a subscription end date is unavailable.
func WithSubscriptionFallbackDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.subscriptionDays = days
		}
	}
}

// WithExpirationBatchSize bounds how many allocations one expiration pass loads per page.
func WithExpirationBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.expirationBatch = n
		}
	}
}

// New constructs the ledger service.
func New(store ports.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("credit store is required")
	}
	s := &Service{
		store:            store,
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		subscriptionDays: DefaultSubscriptionDays,
		expirationBatch:  500,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// startSpan opens a span and returns a finish func that records the outcome,
// the duration metric and a failure counter keyed by ledger error kind.
func (s *Service) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "credit."+operation, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		s.metrics.ObserveOperation(operation, start)
		if errp != nil && *errp != nil {
			err := *errp
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.IncrementFailure(operation, string(models.KindOf(err)))
		}
		span.End()
	}
}

// publish emits an event without failing the caller.
func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.metrics.IncrementPublishFailure(topic)
		s.logger.WarnContext(ctx, "failed to publish credit event",
			"topic", topic,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	ports.LogAudit(ctx, s.logger, event, attrs...)
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
