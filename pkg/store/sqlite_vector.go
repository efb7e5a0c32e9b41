package store

import (
	"context"
	"fmt"
	"sort"
)

// SearchActive scans the embeddings of active entities in the project and
// returns the topK most similar to the query, sorted by similarity
// descending. The status and project filter runs in SQL; scoring runs in Go
// because the SQLite driver has no vector functions. Entities without an
// embedding (a prior sync's embedding call failed) are skipped.
func (s *SQLiteStore) SearchActive(ctx context.Context, project string, query []float32, topK int) ([]VectorMatch, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, embedding FROM entities
		WHERE project = ? AND status = 'active' AND embedding IS NOT NULL`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var id, hash string
		var blob []byte
		if err := rows.Scan(&id, &hash, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		embedding := deserializeEmbedding(blob)
		if len(embedding) == 0 {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:          id,
			ContentHash: hash,
			Score:       CosineSimilarity(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}
