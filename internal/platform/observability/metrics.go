package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/tabitours/api/internal/platform/observability"

// VerificationMetrics records request authentication outcomes (webhook signatures, OIDC).
type VerificationMetrics struct {
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewVerificationMetrics registers instruments on meter, or the global provider when meter is nil.
// Registration failures are logged and leave the corresponding instrument disabled.
func NewVerificationMetrics(meter metric.Meter, logger *zap.Logger) *VerificationMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &VerificationMetrics{}
	attempts, err := meter.Int64Counter("auth.verification.attempts",
		metric.WithDescription("Count of request verification attempts by kind and outcome"))
	if err != nil {
		logger.Warn("observability: unable to register verification counter", zap.Error(err))
	} else {
		m.attempts = attempts
	}
	latency, err := meter.Float64Histogram("auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of request verification in milliseconds"))
	if err != nil {
		logger.Warn("observability: unable to register verification latency", zap.Error(err))
	} else {
		m.latency = latency
	}
	return m
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *VerificationMetrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
}
