package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OTELMetrics implements MetricsRecorder using OpenTelemetry
type OTELMetrics struct {
	attempts  metric.Int64Counter
	successes metric.Int64Counter
	rejected  metric.Int64Counter
	errors    metric.Int64Counter
	duration  metric.Float64Histogram

	minted      metric.Int64Counter
	lastTokenID metric.Int64Gauge

	logger *zap.Logger
}

// NewOTELMetrics creates a new OpenTelemetry metrics recorder
func NewOTELMetrics(meter metric.Meter, logger *zap.Logger) (*OTELMetrics, error) {
	m := &OTELMetrics{logger: logger}

	var err error

	m.attempts, err = meter.Int64Counter(
		"tn_claim.authorize_attempts_total",
		metric.WithDescription("Total number of authorization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.successes, err = meter.Int64Counter(
		"tn_claim.authorize_success_total",
		metric.WithDescription("Total number of successful claims"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejected, err = meter.Int64Counter(
		"tn_claim.authorize_rejected_total",
		metric.WithDescription("Total number of rejected authorization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.errors, err = meter.Int64Counter(
		"tn_claim.authorize_errors_total",
		metric.WithDescription("Total number of authorization attempts that failed on infrastructure"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"tn_claim.authorize_duration_seconds",
		metric.WithDescription("Duration of successful authorizations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.minted, err = meter.Int64Counter(
		"tn_claim.tokens_minted_total",
		metric.WithDescription("Total number of tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	m.lastTokenID, err = meter.Int64Gauge(
		"tn_claim.last_token_id",
		metric.WithDescription("Identifier of the most recently issued token"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *OTELMetrics) RecordAuthorizeAttempt(ctx context.Context) {
	m.attempts.Add(ctx, 1)
}

func (m *OTELMetrics) RecordAuthorizeSuccess(ctx context.Context, duration time.Duration) {
	m.successes.Add(ctx, 1)
	m.duration.Record(ctx, duration.Seconds())
}

func (m *OTELMetrics) RecordAuthorizeRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
		),
	)
}

func (m *OTELMetrics) RecordAuthorizeError(ctx context.Context, errType string) {
	m.errors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errType),
		),
	)
}

func (m *OTELMetrics) RecordTokenMinted(ctx context.Context, tokenID uint64) {
	m.minted.Add(ctx, 1)
	m.lastTokenID.Record(ctx, int64(tokenID))
}
