package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter appends audit records to a JSON Lines file.
type FileExporter struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

// NewFileExporter creates a file-based audit exporter. Parent directories
// are created as needed; the file is opened for append immediately.
func NewFileExporter(filePath string) (*FileExporter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	return &FileExporter{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Export writes one audit record as a JSON line.
func (fe *FileExporter) Export(ctx context.Context, record *SyncRecord) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the audit file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync audit file: %w", err)
	}
	return fe.file.Close()
}
