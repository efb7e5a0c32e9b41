package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dan-solli/loom/pkg/identity"
)

// SQLiteStore implements EntityStore, LineageStore and AuditStore on a
// single SQLite database. All mutations are single statements or short
// transactions built on INSERT ... ON CONFLICT and INSERT OR IGNORE, so
// many independent writer processes can sync concurrently without external
// locking.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite-backed store. The path can be a file
// path or ":memory:" for an in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// DB returns the underlying database connection for advanced operations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		namespace TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		status TEXT NOT NULL DEFAULT 'active',
		seq INTEGER NOT NULL DEFAULT 0,
		supersedes TEXT,
		superseded_by TEXT,
		hops_since_validated INTEGER NOT NULL DEFAULT 0,
		last_validated_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		embedding BLOB,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entities_project_status ON entities(project, status);
	CREATE INDEX IF NOT EXISTS idx_entities_project_hash ON entities(project, content_hash);

	CREATE TABLE IF NOT EXISTS entity_instances (
		entity_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		label TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (entity_id, instance_id)
	);

	CREATE INDEX IF NOT EXISTS idx_instances_label ON entity_instances(label);

	CREATE TABLE IF NOT EXISTS entity_conflicts (
		entity_id TEXT NOT NULL,
		other_id TEXT NOT NULL,
		signal TEXT NOT NULL,
		severity REAL NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (entity_id, other_id, signal)
	);

	CREATE TABLE IF NOT EXISTS entity_deps (
		entity_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (entity_id, depends_on)
	);

	CREATE TABLE IF NOT EXISTS lineage_edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		project TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON lineage_edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON lineage_edges(target_id);

	CREATE TABLE IF NOT EXISTS edge_entities (
		edge_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		disposition TEXT NOT NULL,
		PRIMARY KEY (edge_id, entity_id, disposition)
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		session_id TEXT NOT NULL,
		inserted INTEGER NOT NULL DEFAULT 0,
		validated INTEGER NOT NULL DEFAULT 0,
		revised INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0,
		detection_skipped INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// EnsureProject creates the project on first use. Later calls return the
// existing record: the insert is a no-op on conflict, so concurrent first
// syncs of the same project converge to one row.
func (s *SQLiteStore) EnsureProject(ctx context.Context, name string) (*Project, error) {
	ns := identity.NamespaceID(name)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, namespace, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, ns, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure project: %w", err)
	}
	return s.GetProject(ctx, name)
}

// GetProject returns a project by name.
func (s *SQLiteStore) GetProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT name, namespace, created_at FROM projects WHERE name = ?`, name).
		Scan(&p.Name, &p.Namespace, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// NextSeq atomically increments and returns the named counter. The
// increment-and-return happens in one statement; never read-then-write.
func (s *SQLiteStore) NextSeq(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// InsertEntity inserts the entity with set-on-insert semantics. Returns
// true if the row was created, false if the canonical id already existed.
func (s *SQLiteStore) InsertEntity(ctx context.Context, e *Entity) (bool, error) {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	if e.LastValidatedAt.IsZero() {
		e.LastValidatedAt = now
	}
	if e.Status == "" {
		e.Status = StatusActive
	}

	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project, kind, content, content_hash, confidence,
			status, seq, supersedes, superseded_by, hops_since_validated,
			last_validated_at, created_at, updated_at, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID,
		e.Project,
		e.Kind,
		e.Content,
		e.ContentHash,
		e.Confidence,
		e.Status,
		e.Seq,
		nullable(e.Supersedes),
		nullable(e.SupersededBy),
		e.HopsSinceValidated,
		e.LastValidatedAt,
		e.CreatedAt,
		e.UpdatedAt,
		serializeEmbedding(e.Embedding),
		metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert entity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

const entityColumns = `id, project, kind, content, content_hash, confidence, status, seq,
	supersedes, superseded_by, hops_since_validated, last_validated_at,
	created_at, updated_at, embedding, metadata`

// GetEntity returns a fully hydrated entity record.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// FindActiveByLabel returns the newest active entity in the project with an
// instance carrying the given local reference label.
func (s *SQLiteStore) FindActiveByLabel(ctx context.Context, project, label string) (*Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, `
		SELECT e.id, e.project, e.kind, e.content, e.content_hash, e.confidence,
			e.status, e.seq, e.supersedes, e.superseded_by, e.hops_since_validated,
			e.last_validated_at, e.created_at, e.updated_at, e.embedding, e.metadata
		FROM entities e
		JOIN entity_instances i ON i.entity_id = e.id
		WHERE e.project = ? AND e.status = 'active' AND i.label = ?
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT 1`, project, label))
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddInstance merges a mention into the entity's instance set. The primary
// key on (entity_id, instance_id) gives add-to-set semantics: resubmitting
// the same mention never duplicates it.
func (s *SQLiteStore) AddInstance(ctx context.Context, entityID string, inst Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	if inst.Status == "" {
		inst.Status = InstanceActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_instances (entity_id, instance_id, session_id, label, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entityID, inst.ID, inst.SessionID, inst.Label, inst.Status, inst.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add instance: %w", err)
	}
	return nil
}

// TouchValidation resets decay bookkeeping after a reaffirming mention.
func (s *SQLiteStore) TouchValidation(ctx context.Context, entityID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET hops_since_validated = 0, last_validated_at = ?, updated_at = ?
		WHERE id = ?`, at, at, entityID)
	if err != nil {
		return fmt.Errorf("failed to touch validation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// MarkSuperseded retires oldID in favor of newID. Both sides of the
// revision link commit in one transaction, so no one-directional link ever
// persists. The retire only matches an active row: when two writers race
// to revise the same predecessor, the second sees ErrNotActive and the
// first successor's link pair survives. Instances of the old entity move
// to superseded status.
func (s *SQLiteStore) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE entities SET status = 'superseded', superseded_by = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`, newID, now, oldID)
	if err != nil {
		return fmt.Errorf("failed to mark superseded: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM entities WHERE id = ?`, oldID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrEntityNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check entity status: %w", err)
		}
		return fmt.Errorf("%w: %s is %s", ErrNotActive, oldID, status)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE entities SET supersedes = ?, updated_at = ? WHERE id = ?`,
		oldID, now, newID)
	if err != nil {
		return fmt.Errorf("failed to link superseding entity: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE entity_instances SET status = 'superseded' WHERE entity_id = ?`, oldID)
	if err != nil {
		return fmt.Errorf("failed to retire instances: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersession: %w", err)
	}
	return nil
}

// SetStatus moves an entity to a new lifecycle status.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// ActiveEntities returns active entities in the project sorted by
// confidence descending.
func (s *SQLiteStore) ActiveEntities(ctx context.Context, project string) ([]*Entity, error) {
	return s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE project = ? AND status = 'active'
		ORDER BY confidence DESC, created_at ASC`, project)
}

// StaleEntities returns active entities whose hop counter reached maxHops
// or whose last validation is older than maxAge.
func (s *SQLiteStore) StaleEntities(ctx context.Context, project string, maxHops int, maxAge time.Duration) ([]*Entity, error) {
	cutoff := time.Now().Add(-maxAge)
	return s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE project = ? AND status = 'active'
			AND (hops_since_validated >= ? OR last_validated_at < ?)
		ORDER BY hops_since_validated DESC, last_validated_at ASC`,
		project, maxHops, cutoff)
}

// IncrementHops advances the hop counter for every active project entity
// not in seenIDs, as one batched update.
func (s *SQLiteStore) IncrementHops(ctx context.Context, project string, seenIDs []string) (int64, error) {
	query := `UPDATE entities SET hops_since_validated = hops_since_validated + 1
		WHERE project = ? AND status = 'active'`
	args := []any{project}

	if len(seenIDs) > 0 {
		placeholders := make([]string, len(seenIDs))
		for i, id := range seenIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to increment hops: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// AddDependency records that a depends on b. The primary key makes the
// write idempotent; the dependent view is the same row read in reverse.
func (s *SQLiteStore) AddDependency(ctx context.Context, a, b string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_deps (entity_id, depends_on, created_at)
		VALUES (?, ?, ?)`, a, b, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

// Dependents returns the ids of entities that depend on id.
func (s *SQLiteStore) Dependents(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id FROM entity_deps WHERE depends_on = ? ORDER BY created_at, entity_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		ids = append(ids, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", err)
	}
	return ids, nil
}

// AddConflict records a contradiction symmetrically: one row per direction,
// both in one transaction, each with add-to-set semantics. Registering the
// same pair and signal twice never duplicates.
func (s *SQLiteStore) AddConflict(ctx context.Context, a, b, signal string, severity float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_conflicts (entity_id, other_id, signal, severity, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			pair[0], pair[1], signal, severity, now)
		if err != nil {
			return fmt.Errorf("failed to add conflict link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict: %w", err)
	}
	return nil
}

// ConflictsFor returns all conflict links registered for the entity.
func (s *SQLiteStore) ConflictsFor(ctx context.Context, id string) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, other_id, signal, severity, created_at
		FROM entity_conflicts WHERE entity_id = ?
		ORDER BY created_at, other_id, signal`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.EntityID, &c.OtherID, &c.Signal, &c.Severity, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// rowScanner abstracts sql.Row and sql.Rows for the shared entity scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var supersedes, supersededBy sql.NullString
	var embeddingBytes, metadataJSON []byte

	err := row.Scan(
		&e.ID,
		&e.Project,
		&e.Kind,
		&e.Content,
		&e.ContentHash,
		&e.Confidence,
		&e.Status,
		&e.Seq,
		&supersedes,
		&supersededBy,
		&e.HopsSinceValidated,
		&e.LastValidatedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
		&embeddingBytes,
		&metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if supersedes.Valid {
		e.Supersedes = supersedes.String
	}
	if supersededBy.Valid {
		e.SupersededBy = supersededBy.String
	}
	e.Embedding = deserializeEmbedding(embeddingBytes)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func (s *SQLiteStore) queryEntities(ctx context.Context, query string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	for _, e := range entities {
		if err := s.hydrate(ctx, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// hydrate loads the entity's instance, conflict and dependency sets.
func (s *SQLiteStore) hydrate(ctx context.Context, e *Entity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, session_id, label, status, created_at
		FROM entity_instances WHERE entity_id = ?
		ORDER BY created_at, instance_id`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.ID, &inst.SessionID, &inst.Label, &inst.Status, &inst.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan instance: %w", err)
		}
		e.Instances = append(e.Instances, inst)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating instances: %w", err)
	}

	e.ConflictsWith, err = s.ConflictsFor(ctx, e.ID)
	if err != nil {
		return err
	}

	depRows, err := s.db.QueryContext(ctx,
		`SELECT depends_on FROM entity_deps WHERE entity_id = ? ORDER BY created_at, depends_on`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()
	for depRows.Next() {
		var dep string
		if err := depRows.Scan(&dep); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		e.Dependencies = append(e.Dependencies, dep)
	}
	if err := depRows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}

	e.Dependents, err = s.Dependents(ctx, e.ID)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
