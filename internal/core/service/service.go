package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const (
	instrumentationName  = "github.com/rl1809/crop-exchange/internal/core/service"
	defaultAnchorTimeout = 5 * time.Second
)

// deps is shared by every service in this package.
type deps struct {
	db            port.DatabaseRepository
	anchor        port.Anchor
	cache         port.CacheRepository
	events        port.EventPublisher
	logger        *zap.Logger
	tracer        trace.Tracer
	anchorTimeout time.Duration
	now           func() time.Time
}

type Option func(*deps)

func WithCache(cache port.CacheRepository) Option {
	return func(d *deps) { d.cache = cache }
}

func WithEvents(events port.EventPublisher) Option {
	return func(d *deps) { d.events = events }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *deps) { d.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *deps) { d.tracer = tracer }
}

// WithAnchorTimeout bounds every call to the external anchor.
func WithAnchorTimeout(timeout time.Duration) Option {
	return func(d *deps) { d.anchorTimeout = timeout }
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func newDeps(db port.DatabaseRepository, anchor port.Anchor, opts []Option) deps {
	d := deps{
		db:            db,
		anchor:        anchor,
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(instrumentationName),
		anchorTimeout: defaultAnchorTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// anchorCall runs fn with the anchor timeout. Any failure comes back
// wrapped in domain.ErrExternalServiceDegraded.
func (d *deps) anchorCall(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	if d.anchor == nil {
		return "", fmt.Errorf("%w: no anchor configured", domain.ErrExternalServiceDegraded)
	}

	ctx, cancel := context.WithTimeout(ctx, d.anchorTimeout)
	defer cancel()

	proof, err := fn(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExternalServiceDegraded, err)
	}
	if proof == "" {
		return "", fmt.Errorf("%w: anchor returned an empty proof", domain.ErrExternalServiceDegraded)
	}
	return proof, nil
}

func (d *deps) publish(ctx context.Context, t domain.EventType, order domain.Order) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishOrderEvent(ctx, domain.NewOrderEvent(t, order, d.now())); err != nil {
		d.logger.Warn("Failed to publish order event",
			zap.String("event", string(t)),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func (d *deps) cacheAvailable(ctx context.Context, batch *domain.Batch) {
	if d.cache == nil || batch == nil {
		return
	}
	if err := d.cache.SetAvailable(ctx, batch.ID, batch.Available); err != nil {
		d.logger.Warn("Failed to cache availability", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
