// Package store provides persistence for the session-memory registry:
// projects, entities with their mention instances, conflict links, the
// lineage graph and the sync audit log.
package store

import "time"

// Kind classifies what a tracked entity is.
type Kind string

const (
	// KindDecision is a stated conclusion: an architectural choice, a
	// convention, a resolved question.
	KindDecision Kind = "decision"

	// KindThread is an open line of work: an unresolved question, a task
	// in flight.
	KindThread Kind = "thread"
)

// Status is an entity's lifecycle state. Entities are never deleted; they
// move through statuses and stay queryable.
type Status string

const (
	StatusActive      Status = "active"
	StatusSuperseded  Status = "superseded"
	StatusInvalidated Status = "invalidated"
)

// Instance statuses mirror the entity lifecycle at mention granularity.
// Carried-forward marks a mention that arrived through a lineage hop from a
// parent session rather than a fresh statement.
const (
	InstanceActive         = "active"
	InstanceCarriedForward = "carried-forward"
	InstanceSuperseded     = "superseded"
)

// Conflict signal names. Stable strings: they appear in stored rows,
// metrics labels and audit records.
const (
	SignalSimilarity     = "similarity"
	SignalTierDivergence = "entity-tier-divergence"
)

// Project is a registered project namespace. The namespace salts canonical
// entity ids so identical content in different projects yields distinct
// entities.
type Project struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
}

// Instance is one concrete mention of an entity in one session. The same
// logical entity accumulates instances across sessions; the instance id is
// derived from session and label, so resubmitting a mention merges.
type Instance struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Label     string    `json:"label"` // session-local reference label, e.g. "D-4"
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is one content-addressed record in the registry. The id is a pure
// function of project namespace and normalized content, so the same logical
// statement always maps to the same row.
type Entity struct {
	ID          string  `json:"id"`
	Project     string  `json:"project"`
	Kind        Kind    `json:"kind"`
	Content     string  `json:"content"`
	ContentHash string  `json:"content_hash"`
	Confidence  float64 `json:"confidence"`
	Status      Status  `json:"status"`

	// Seq is the per-project insertion sequence number.
	Seq int64 `json:"seq"`

	// Revision chain links. Supersedes points at the record this one
	// replaced; SupersededBy points forward once this record is retired.
	Supersedes   string `json:"supersedes,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`

	// Decay bookkeeping: sync cycles since the last reaffirming mention,
	// and the wall-clock time of that mention.
	HopsSinceValidated int       `json:"hops_since_validated"`
	LastValidatedAt    time.Time `json:"last_validated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding is the content vector used for similarity detection. Nil
	// when embedding was unavailable at insert time.
	Embedding []float32 `json:"-"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Hydrated sets. Instances are the entity's mentions; ConflictsWith
	// its registered contradictions; Dependencies/Dependents the two
	// directions of the dependency links.
	Instances     []Instance `json:"instances,omitempty"`
	ConflictsWith []Conflict `json:"conflicts_with,omitempty"`
	Dependencies  []string   `json:"dependencies,omitempty"`
	Dependents    []string   `json:"dependents,omitempty"`
}

// Conflict is one direction of a symmetric contradiction link between two
// entities. Both directions are always written together.
type Conflict struct {
	EntityID  string    `json:"entity_id"`
	OtherID   string    `json:"other_id"`
	Signal    string    `json:"signal"`
	Severity  float64   `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// LineageEdge is one state-transfer hop between two sessions. Edge identity
// is order-independent, so the hop merges no matter which side discovered
// it first. Carried and Dropped record which entity ids survived the hop.
type LineageEdge struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Tag      string `json:"tag"` // e.g. "compression", "continuation"

	// Project is the project of the sync that first recorded the edge.
	Project string `json:"project,omitempty"`

	Carried []string `json:"carried,omitempty"`
	Dropped []string `json:"dropped,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncEntry is one persisted audit record for a completed sync cycle.
type SyncEntry struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	SessionID string `json:"session_id"`

	Inserted  int64 `json:"inserted"`
	Validated int64 `json:"validated"`
	Revised   int64 `json:"revised"`
	Conflicts int64 `json:"conflicts"`
	Resolved  int64 `json:"resolved"`

	DetectionSkipped bool  `json:"detection_skipped"`
	DurationMs       int64 `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
}
