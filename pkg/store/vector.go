package store

import (
	"context"
	"encoding/binary"
	"math"
)

// VectorMatch is one approximate-nearest-neighbor result.
type VectorMatch struct {
	ID          string  // Entity ID
	ContentHash string  // Content hash of the matched entity
	Score       float64 // Cosine similarity (higher is more similar)
}

// VectorIndex performs approximate-nearest-neighbor search over the
// embeddings of active entities, scoped to one project. Implementations
// must be safe for concurrent use.
type VectorIndex interface {
	// SearchActive returns up to topK active entities in the project most
	// similar to the query vector, sorted by similarity descending.
	SearchActive(ctx context.Context, project string, query []float32, topK int) ([]VectorMatch, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 and 1; for normalized embeddings the result is
// typically between 0 and 1. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding packs a float32 vector into a little-endian blob for
// storage on the entity row. Returns nil for empty vectors.
func serializeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	blob := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeEmbedding unpacks a little-endian blob into a float32 vector.
func deserializeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return embedding
}
