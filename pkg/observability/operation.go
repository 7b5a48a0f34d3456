package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// Operation tracks one service call across tracing, metrics and logging
type Operation struct {
	name    string
	start   time.Time
	span    trace.Span
	metrics *Metrics
	logger  *Logger
}

// StartOperation starts a span named name and a latency timer. End must be
// called with the operation's final error.
func StartOperation(ctx context.Context, metrics *Metrics, logger *Logger, name string, attrs ...attribute.KeyValue) (context.Context, *Operation) {
	if logger == nil {
		logger = NewNopLogger()
	}
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Operation{
		name:    name,
		start:   time.Now(),
		span:    span,
		metrics: metrics,
		logger:  logger.WithOperation(name),
	}
}

// Logger returns the operation-scoped logger
func (o *Operation) Logger() *Logger {
	return o.logger
}

// End records the outcome. Errors of unknown kind are logged at error level.
func (o *Operation) End(err error) {
	defer o.span.End()

	result := apperrors.Result(err)
	o.span.SetAttributes(attribute.String("tenancy.result", result))
	o.metrics.ObserveOperation(o.name, result, time.Since(o.start))

	if err == nil {
		return
	}

	o.span.RecordError(err)
	if apperrors.KindOf(err) == apperrors.KindUnknown {
		o.span.SetStatus(codes.Error, err.Error())
		o.logger.WithError(err).Error("operation failed")
	}
}
