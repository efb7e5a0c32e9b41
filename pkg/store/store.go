package store

import (
	"context"
	"errors"
	"time"
)

// EntityStore is the persistence surface for the entity registry. Every
// mutation is idempotent or conflict-safe at the storage level so that
// concurrent sync processes converge without external locking.
type EntityStore interface {
	// EnsureProject registers the project on first use and returns the
	// existing record on every later call.
	EnsureProject(ctx context.Context, name string) (*Project, error)

	// GetProject returns a project by name, or ErrProjectNotFound.
	GetProject(ctx context.Context, name string) (*Project, error)

	// InsertEntity writes the entity with set-on-insert semantics: the
	// first writer of a canonical id wins, later writers are no-ops.
	// Returns true if the row was created.
	InsertEntity(ctx context.Context, e *Entity) (bool, error)

	// GetEntity returns the hydrated entity, or ErrEntityNotFound.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// FindActiveByLabel returns the newest active entity in the project
	// mentioned under the given session-local label, or ErrEntityNotFound.
	FindActiveByLabel(ctx context.Context, project, label string) (*Entity, error)

	// AddInstance merges a mention into the entity's instance set with
	// add-to-set semantics keyed by the instance id.
	AddInstance(ctx context.Context, entityID string, inst Instance) error

	// TouchValidation resets the entity's decay counters after a
	// reaffirming mention.
	TouchValidation(ctx context.Context, entityID string, at time.Time) error

	// MarkSuperseded retires oldID in favor of newID; both revision links
	// commit atomically. Only an active entity can be retired: a second
	// supersession of the same predecessor returns ErrNotActive, keeping
	// at most one successor per entity.
	MarkSuperseded(ctx context.Context, oldID, newID string) error

	// SetStatus moves an entity to a new lifecycle status.
	SetStatus(ctx context.Context, id string, status Status) error

	// ActiveEntities returns the project's active entities, confidence
	// descending.
	ActiveEntities(ctx context.Context, project string) ([]*Entity, error)

	// StaleEntities returns active entities whose hop counter reached
	// maxHops or whose last validation is older than maxAge.
	StaleEntities(ctx context.Context, project string, maxHops int, maxAge time.Duration) ([]*Entity, error)

	// IncrementHops advances the decay counter for every active project
	// entity not in seenIDs, in one batched update. Returns the number of
	// rows advanced.
	IncrementHops(ctx context.Context, project string, seenIDs []string) (int64, error)

	// AddDependency records that entity a depends on entity b. Idempotent.
	AddDependency(ctx context.Context, a, b string) error

	// Dependents returns the ids of entities depending on id.
	Dependents(ctx context.Context, id string) ([]string, error)

	// AddConflict registers a contradiction symmetrically on both
	// entities with add-to-set semantics.
	AddConflict(ctx context.Context, a, b, signal string, severity float64) error

	// ConflictsFor returns the conflict links registered for the entity.
	ConflictsFor(ctx context.Context, id string) ([]Conflict, error)

	// NextSeq atomically increments and returns the named counter.
	NextSeq(ctx context.Context, name string) (int64, error)
}

// LineageStore persists the session lineage graph.
type LineageStore interface {
	// UpsertEdge creates the edge on first discovery and merges carried
	// and dropped sets on later observations.
	UpsertEdge(ctx context.Context, e *LineageEdge) error

	// GetEdge returns a hydrated edge by id, or ErrEdgeNotFound.
	GetEdge(ctx context.Context, id string) (*LineageEdge, error)

	// EdgesTouching returns every edge where the session is source or
	// target, oldest first.
	EdgesTouching(ctx context.Context, sessionID string) ([]*LineageEdge, error)
}

// AuditStore persists the sync audit log.
type AuditStore interface {
	AppendSyncEntry(ctx context.Context, entry *SyncEntry) error
	SyncEntries(ctx context.Context, project string, limit int) ([]*SyncEntry, error)
}

// ErrProjectNotFound indicates the named project was never registered.
var ErrProjectNotFound = errors.New("project not found")

// ErrEntityNotFound indicates no entity exists for the given criteria.
var ErrEntityNotFound = errors.New("entity not found")

// ErrEdgeNotFound indicates no lineage edge exists for the given criteria.
var ErrEdgeNotFound = errors.New("lineage edge not found")

// ErrNotActive indicates a lifecycle transition targeted an entity that
// already left active status, typically a revision racing another writer's
// revision of the same predecessor. The losing writer sees this error; the
// stored link pair stays intact.
var ErrNotActive = errors.New("entity not active")
