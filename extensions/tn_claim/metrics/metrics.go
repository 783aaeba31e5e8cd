// Package metrics provides observability for the tn_claim extension.
// It uses a plugin pattern to ensure zero overhead when OpenTelemetry is not available.
package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Rejection reasons used as the "reason" attribute.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonAlreadyClaimed   = "already_claimed"
	ReasonInvalidReceiver  = "invalid_receiver"
)

// Error types used as the "error_type" attribute.
const (
	ErrTypeNone               = "none"
	ErrTypeTimeout            = "timeout"
	ErrTypeCancelled          = "cancelled"
	ErrTypeNetworkUnavailable = "network_unavailable"
	ErrTypeConnection         = "connection_error"
	ErrTypeStore              = "store_error"
	ErrTypeUnknown            = "unknown"
)

// MetricsRecorder defines the interface for recording claim metrics.
// This allows for pluggable implementations - either real OTEL metrics or no-op.
type MetricsRecorder interface {
	// Authorization metrics
	RecordAuthorizeAttempt(ctx context.Context)
	RecordAuthorizeSuccess(ctx context.Context, duration time.Duration)
	RecordAuthorizeRejected(ctx context.Context, reason string)
	RecordAuthorizeError(ctx context.Context, errType string)

	// Issuance metrics
	RecordTokenMinted(ctx context.Context, tokenID uint64)
}

// NewMetricsRecorder creates a metrics recorder instance.
// It automatically detects if OpenTelemetry is available and returns
// either a real OTEL implementation or a no-op implementation.
func NewMetricsRecorder(logger *zap.Logger) MetricsRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.GetMeterProvider().Meter("github.com/trufnetwork/claimgate/extensions/tn_claim")

	// Try to create a test metric to verify OTEL is functional
	_, err := meter.Int64Counter("tn_claim.test")
	if err != nil {
		logger.Debug("OpenTelemetry not available, metrics disabled")
		return NewNoOpMetrics()
	}

	otelMetrics, err := NewOTELMetrics(meter, logger)
	if err != nil {
		logger.Warn("failed to initialize OTEL metrics, falling back to no-op", zap.Error(err))
		return NewNoOpMetrics()
	}

	logger.Info("OpenTelemetry metrics initialized successfully")
	return otelMetrics
}

// ClassifyError categorizes infrastructure errors for metric labels to keep cardinality low.
// Callers that own a sentinel for the failure should match it before falling back to this.
func ClassifyError(err error) string {
	if err == nil {
		return ErrTypeNone
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "context deadline exceeded"):
		return ErrTypeTimeout
	case strings.Contains(errStr, "context canceled"):
		return ErrTypeCancelled
	case strings.Contains(errStr, "connection"):
		return ErrTypeConnection
	case strings.Contains(errStr, "pebble") || strings.Contains(errStr, "postgres") || strings.Contains(errStr, "claim record"):
		return ErrTypeStore
	default:
		return ErrTypeUnknown
	}
}
