package metrics

import (
	"context"
	"time"
)

// Collector is the interface for metrics collection. Implementations
// include the Prometheus-backed collector and the no-op collector used
// when metrics are not wired up.
type Collector interface {
	// RecordSync records one completed sync cycle with its final status
	// ("success", "partial" or "error").
	RecordSync(ctx context.Context, project, status string, duration time.Duration)

	// RecordUpsert records one entity upsert by resulting action.
	RecordUpsert(ctx context.Context, project, action string)

	// RecordConflict records one detected conflict by signal.
	RecordConflict(ctx context.Context, project, signal string)

	// RecordError records an error occurrence by operation and classified
	// error type.
	RecordError(ctx context.Context, operation, errorType string)

	// SetEntityCount sets the current entity count for a project/status.
	SetEntityCount(ctx context.Context, project, status string, count int64)
}
