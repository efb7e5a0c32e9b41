// Package embeddings provides the black-box text-to-vector collaborator
// used by conflict detection. The registry treats a failed embedding call
// as a degraded sync (entity stored, detection skipped), never as a fatal
// error, so clients report failures plainly and do not retry internally.
package embeddings

import "context"

// Client defines the interface for generating text embeddings.
type Client interface {
	// Embed generates embeddings for multiple texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne generates an embedding for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
