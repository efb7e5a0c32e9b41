package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertEdge creates the edge on first discovery and merges the carried and
// dropped entity sets on every later observation. The DO UPDATE touches only
// updated_at: endpoints, tag and project stay as the first writer recorded
// them, so inconsistent rediscovery merges instead of overwriting.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *LineageEdge) error {
	if e.ID == "" {
		return fmt.Errorf("lineage edge id cannot be empty")
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lineage_edges (id, source_id, target_id, tag, project, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		e.ID, e.SourceID, e.TargetID, e.Tag, nullable(e.Project), e.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}

	for _, id := range e.Carried {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO edge_entities (edge_id, entity_id, disposition)
			VALUES (?, ?, 'carried')`, e.ID, id); err != nil {
			return fmt.Errorf("failed to merge carried set: %w", err)
		}
	}
	for _, id := range e.Dropped {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO edge_entities (edge_id, entity_id, disposition)
			VALUES (?, ?, 'dropped')`, e.ID, id); err != nil {
			return fmt.Errorf("failed to merge dropped set: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge: %w", err)
	}
	return nil
}

// GetEdge returns a hydrated edge.
func (s *SQLiteStore) GetEdge(ctx context.Context, id string) (*LineageEdge, error) {
	e, err := s.scanEdge(s.db.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, tag, project, created_at, updated_at
		FROM lineage_edges WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.hydrateEdge(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// EdgesTouching returns every edge where the session is source or target,
// ordered by creation time.
func (s *SQLiteStore) EdgesTouching(ctx context.Context, sessionID string) ([]*LineageEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, tag, project, created_at, updated_at
		FROM lineage_edges
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*LineageEdge
	for rows.Next() {
		e, err := s.scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	for _, e := range edges {
		if err := s.hydrateEdge(ctx, e); err != nil {
			return nil, err
		}
	}
	return edges, nil
}

func (s *SQLiteStore) scanEdge(row rowScanner) (*LineageEdge, error) {
	var e LineageEdge
	var project sql.NullString
	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Tag, &project, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEdgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan edge: %w", err)
	}
	if project.Valid {
		e.Project = project.String
	}
	return &e, nil
}

func (s *SQLiteStore) hydrateEdge(ctx context.Context, e *LineageEdge) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, disposition FROM edge_entities
		WHERE edge_id = ? ORDER BY entity_id`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query edge entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, disposition string
		if err := rows.Scan(&id, &disposition); err != nil {
			return fmt.Errorf("failed to scan edge entity: %w", err)
		}
		switch disposition {
		case "carried":
			e.Carried = append(e.Carried, id)
		case "dropped":
			e.Dropped = append(e.Dropped, id)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating edge entities: %w", err)
	}
	return nil
}

// AppendSyncEntry persists one audit record for a completed sync cycle.
func (s *SQLiteStore) AppendSyncEntry(ctx context.Context, entry *SyncEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, project, session_id, inserted, validated, revised,
			conflicts, resolved, detection_skipped, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Project, entry.SessionID, entry.Inserted, entry.Validated,
		entry.Revised, entry.Conflicts, entry.Resolved, entry.DetectionSkipped,
		entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append sync entry: %w", err)
	}
	return nil
}

// SyncEntries returns the most recent audit records for a project, newest
// first. Sync ids embed a millisecond timestamp, so id order breaks the tie
// between entries created in the same instant.
func (s *SQLiteStore) SyncEntries(ctx context.Context, project string, limit int) ([]*SyncEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, session_id, inserted, validated, revised,
			conflicts, resolved, detection_skipped, duration_ms, created_at
		FROM sync_log WHERE project = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []*SyncEntry
	for rows.Next() {
		var e SyncEntry
		if err := rows.Scan(&e.ID, &e.Project, &e.SessionID, &e.Inserted, &e.Validated,
			&e.Revised, &e.Conflicts, &e.Resolved, &e.DetectionSkipped,
			&e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}
