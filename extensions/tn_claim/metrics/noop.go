package metrics

import (
	"context"
	"time"
)

// NoOpMetrics is a no-op implementation of MetricsRecorder.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics recorder
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordAuthorizeAttempt(ctx context.Context) {}

func (n *NoOpMetrics) RecordAuthorizeSuccess(ctx context.Context, duration time.Duration) {}

func (n *NoOpMetrics) RecordAuthorizeRejected(ctx context.Context, reason string) {}

func (n *NoOpMetrics) RecordAuthorizeError(ctx context.Context, errType string) {}

func (n *NoOpMetrics) RecordTokenMinted(ctx context.Context, tokenID uint64) {}
