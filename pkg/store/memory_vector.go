package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryVectorIndex is an in-memory implementation of VectorIndex for tests
// and ephemeral deployments. Thread-safe via RWMutex. Vectors do not
// persist across restarts.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryVectorEntry
}

type memoryVectorEntry struct {
	project     string
	contentHash string
	embedding   []float32
	active      bool
}

// NewMemoryVectorIndex creates an empty in-memory vector index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		entries: make(map[string]memoryVectorEntry),
	}
}

// Add adds or updates a vector for the given entity.
func (m *MemoryVectorIndex) Add(ctx context.Context, id, project, contentHash string, embedding []float32, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external mutations
	embeddingCopy := make([]float32, len(embedding))
	copy(embeddingCopy, embedding)

	m.entries[id] = memoryVectorEntry{
		project:     project,
		contentHash: contentHash,
		embedding:   embeddingCopy,
		active:      active,
	}
	return nil
}

// Deactivate removes an entity from the active search set without
// discarding its vector.
func (m *MemoryVectorIndex) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		e.active = false
		m.entries[id] = e
	}
	return nil
}

// SearchActive returns up to topK active entities in the project sorted by
// similarity descending.
func (m *MemoryVectorIndex) SearchActive(ctx context.Context, project string, query []float32, topK int) ([]VectorMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 {
		topK = 10
	}

	var matches []VectorMatch
	for id, e := range m.entries {
		if !e.active || e.project != project {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:          id,
			ContentHash: e.contentHash,
			Score:       CosineSimilarity(query, e.embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}
