// Package trace exports sanitized per-sync audit records. Records carry
// identifiers and counts only, never entity content, so exports are safe to
// ship to shared log collectors.
package trace

import (
	"context"
	"time"
)

// Exporter writes sync audit records to a configured destination.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes one audit record.
	Export(ctx context.Context, record *SyncRecord) error

	// Close flushes buffered records and releases resources.
	Close() error
}

// SyncRecord is a sanitized audit trace of one archive sync.
type SyncRecord struct {
	// Timestamp is the sync start time.
	Timestamp time.Time `json:"timestamp"`

	// SyncID correlates with the persisted sync_log row.
	SyncID string `json:"syncId"`

	Project   string `json:"project"`
	SessionID string `json:"sessionId"`

	// DurationMs is the total sync duration in milliseconds.
	DurationMs int64 `json:"durationMs"`

	// Status is "success", "partial" (some mentions failed or detection
	// was skipped) or "error".
	Status string `json:"status"`

	// Counts holds per-action totals: inserted, validated, revised,
	// conflicts, resolved, failed, decayed.
	Counts map[string]int64 `json:"counts,omitempty"`

	// ErrorType classifies the failure when Status is not "success".
	ErrorType string `json:"errorType,omitempty"`

	// DetectionSkipped is true when conflict detection degraded.
	DetectionSkipped bool `json:"detectionSkipped,omitempty"`

	// EdgeID names the lineage edge recorded by this sync, if any.
	EdgeID string `json:"edgeId,omitempty"`
}
