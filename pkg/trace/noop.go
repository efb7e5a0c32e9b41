package trace

import "context"

// NoopExporter discards all audit records.
type NoopExporter struct{}

func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

func (NoopExporter) Export(ctx context.Context, record *SyncRecord) error { return nil }

func (NoopExporter) Close() error { return nil }
