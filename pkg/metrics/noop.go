package metrics

import (
	"context"
	"time"
)

// NoopCollector is the default collector when metrics are not wired up.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordSync does nothing.
func (n *NoopCollector) RecordSync(ctx context.Context, project, status string, duration time.Duration) {
}

// RecordUpsert does nothing.
func (n *NoopCollector) RecordUpsert(ctx context.Context, project, action string) {}

// RecordConflict does nothing.
func (n *NoopCollector) RecordConflict(ctx context.Context, project, signal string) {}

// RecordError does nothing.
func (n *NoopCollector) RecordError(ctx context.Context, operation, errorType string) {}

// SetEntityCount does nothing.
func (n *NoopCollector) SetEntityCount(ctx context.Context, project, status string, count int64) {}
