package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store
}

func testEntity(id, project string) *Entity {
	return &Entity{
		ID:          id,
		Project:     project,
		Kind:        KindDecision,
		Content:     "use sqlite for persistence",
		ContentHash: "hash-" + id,
		Confidence:  0.8,
	}
}

// TestEnsureProject tests project registration idempotence.
func TestEnsureProject(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	p1, err := store.EnsureProject(ctx, "api-gateway")
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}
	if p1.Namespace == "" {
		t.Error("Expected non-empty namespace")
	}

	p2, err := store.EnsureProject(ctx, "api-gateway")
	if err != nil {
		t.Fatalf("Second EnsureProject failed: %v", err)
	}
	if p2.Namespace != p1.Namespace {
		t.Errorf("Namespace changed on re-ensure: got %s, want %s", p2.Namespace, p1.Namespace)
	}

	_, err = store.GetProject(ctx, "nonexistent")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Expected ErrProjectNotFound, got %v", err)
	}
}

// TestInsertEntitySetOnInsert tests that the first writer of a canonical id
// wins and later inserts are no-ops.
func TestInsertEntitySetOnInsert(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	e := testEntity("ent-1", "proj")
	e.Embedding = []float32{0.1, 0.2, 0.3}
	e.Metadata = map[string]any{"source": "archive"}

	created, err := store.InsertEntity(ctx, e)
	if err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if !created {
		t.Error("Expected first insert to create the row")
	}

	dup := testEntity("ent-1", "proj")
	dup.Confidence = 0.1
	created, err = store.InsertEntity(ctx, dup)
	if err != nil {
		t.Fatalf("Duplicate InsertEntity failed: %v", err)
	}
	if created {
		t.Error("Expected duplicate insert to be a no-op")
	}

	got, err := store.GetEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Confidence != 0.8 {
		t.Errorf("First writer did not win: confidence = %v, want 0.8", got.Confidence)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("Embedding round-trip failed: got %d values, want 3", len(got.Embedding))
	}
	if got.Metadata["source"] != "archive" {
		t.Errorf("Metadata round-trip failed: got %v", got.Metadata)
	}

	_, err = store.GetEntity(ctx, "missing")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
}

// TestAddInstanceIdempotent tests add-to-set semantics on the instance set.
func TestAddInstanceIdempotent(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if _, err := store.InsertEntity(ctx, testEntity("ent-1", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	inst := Instance{ID: "ins-1", SessionID: "sess-a", Label: "D-4"}
	for i := 0; i < 3; i++ {
		if err := store.AddInstance(ctx, "ent-1", inst); err != nil {
			t.Fatalf("AddInstance failed: %v", err)
		}
	}

	got, err := store.GetEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if len(got.Instances) != 1 {
		t.Errorf("Expected 1 instance after repeated adds, got %d", len(got.Instances))
	}

	// A second session mentioning the same entity accumulates.
	if err := store.AddInstance(ctx, "ent-1", Instance{ID: "ins-2", SessionID: "sess-b", Label: "D-1"}); err != nil {
		t.Fatalf("AddInstance failed: %v", err)
	}
	got, err = store.GetEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if len(got.Instances) != 2 {
		t.Errorf("Expected 2 instances, got %d", len(got.Instances))
	}
}

// TestNextSeq tests the atomic counter.
func TestNextSeq(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextSeq(ctx, "entities/proj")
		if err != nil {
			t.Fatalf("NextSeq failed: %v", err)
		}
		if got != want {
			t.Errorf("NextSeq = %d, want %d", got, want)
		}
	}

	// Counters are independent by name.
	got, err := store.NextSeq(ctx, "entities/other")
	if err != nil {
		t.Fatalf("NextSeq failed: %v", err)
	}
	if got != 1 {
		t.Errorf("New counter = %d, want 1", got)
	}
}

// TestMarkSuperseded tests that both revision links commit together and
// instances retire with the entity.
func TestMarkSuperseded(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if _, err := store.InsertEntity(ctx, testEntity("ent-old", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if err := store.AddInstance(ctx, "ent-old", Instance{ID: "ins-1", SessionID: "s1", Label: "D-4"}); err != nil {
		t.Fatalf("AddInstance failed: %v", err)
	}
	if _, err := store.InsertEntity(ctx, testEntity("ent-new", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	if err := store.MarkSuperseded(ctx, "ent-old", "ent-new"); err != nil {
		t.Fatalf("MarkSuperseded failed: %v", err)
	}

	old, err := store.GetEntity(ctx, "ent-old")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if old.Status != StatusSuperseded {
		t.Errorf("Old status = %s, want superseded", old.Status)
	}
	if old.SupersededBy != "ent-new" {
		t.Errorf("SupersededBy = %s, want ent-new", old.SupersededBy)
	}
	if len(old.Instances) != 1 || old.Instances[0].Status != InstanceSuperseded {
		t.Error("Expected old instances to retire with the entity")
	}

	neu, err := store.GetEntity(ctx, "ent-new")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if neu.Supersedes != "ent-old" {
		t.Errorf("Supersedes = %s, want ent-old", neu.Supersedes)
	}

	if err := store.MarkSuperseded(ctx, "missing", "ent-new"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound, got %v", err)
	}
}

// TestMarkSupersededOnlyOnce tests that a retired entity cannot be retired
// again: a racing second revision loses without disturbing the first
// successor's link pair.
func TestMarkSupersededOnlyOnce(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{"ent-a", "ent-b1", "ent-b2"} {
		if _, err := store.InsertEntity(ctx, testEntity(id, "proj")); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
	}

	if err := store.MarkSuperseded(ctx, "ent-a", "ent-b1"); err != nil {
		t.Fatalf("MarkSuperseded failed: %v", err)
	}
	if err := store.MarkSuperseded(ctx, "ent-a", "ent-b2"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Expected ErrNotActive, got %v", err)
	}

	a, err := store.GetEntity(ctx, "ent-a")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if a.SupersededBy != "ent-b1" {
		t.Errorf("SupersededBy = %s, want ent-b1", a.SupersededBy)
	}

	b2, err := store.GetEntity(ctx, "ent-b2")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if b2.Supersedes != "" || b2.Status != StatusActive {
		t.Errorf("Losing successor = (%s, %s), want no link and active status", b2.Supersedes, b2.Status)
	}
}

// TestAddConflictSymmetric tests that conflicts register on both entities
// and never duplicate.
func TestAddConflictSymmetric(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{"ent-a", "ent-b"} {
		if _, err := store.InsertEntity(ctx, testEntity(id, "proj")); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		if err := store.AddConflict(ctx, "ent-a", "ent-b", SignalSimilarity, 0.91); err != nil {
			t.Fatalf("AddConflict failed: %v", err)
		}
	}

	for _, id := range []string{"ent-a", "ent-b"} {
		conflicts, err := store.ConflictsFor(ctx, id)
		if err != nil {
			t.Fatalf("ConflictsFor failed: %v", err)
		}
		if len(conflicts) != 1 {
			t.Errorf("Conflicts for %s = %d, want 1", id, len(conflicts))
		}
	}

	// A second signal on the same pair is a distinct link.
	if err := store.AddConflict(ctx, "ent-a", "ent-b", SignalTierDivergence, 0.3); err != nil {
		t.Fatalf("AddConflict failed: %v", err)
	}
	conflicts, err := store.ConflictsFor(ctx, "ent-a")
	if err != nil {
		t.Fatalf("ConflictsFor failed: %v", err)
	}
	if len(conflicts) != 2 {
		t.Errorf("Conflicts after second signal = %d, want 2", len(conflicts))
	}
}

// TestIncrementHopsAndStale tests decay bookkeeping and the stale query.
func TestIncrementHopsAndStale(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{"ent-seen", "ent-absent"} {
		if _, err := store.InsertEntity(ctx, testEntity(id, "proj")); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		n, err := store.IncrementHops(ctx, "proj", []string{"ent-seen"})
		if err != nil {
			t.Fatalf("IncrementHops failed: %v", err)
		}
		if n != 1 {
			t.Errorf("IncrementHops advanced %d rows, want 1", n)
		}
	}

	absent, err := store.GetEntity(ctx, "ent-absent")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if absent.HopsSinceValidated != 3 {
		t.Errorf("Hops = %d, want 3", absent.HopsSinceValidated)
	}

	stale, err := store.StaleEntities(ctx, "proj", 3, 24*time.Hour)
	if err != nil {
		t.Fatalf("StaleEntities failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "ent-absent" {
		t.Errorf("Stale = %v, want [ent-absent]", staleIDs(stale))
	}

	// TouchValidation resets the counter.
	if err := store.TouchValidation(ctx, "ent-absent", time.Now()); err != nil {
		t.Fatalf("TouchValidation failed: %v", err)
	}
	stale, err = store.StaleEntities(ctx, "proj", 3, 24*time.Hour)
	if err != nil {
		t.Fatalf("StaleEntities failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Stale after touch = %v, want empty", staleIDs(stale))
	}
}

func staleIDs(entities []*Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

// TestDependencies tests the reciprocal dependency links.
func TestDependencies(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{"ent-a", "ent-b"} {
		if _, err := store.InsertEntity(ctx, testEntity(id, "proj")); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		if err := store.AddDependency(ctx, "ent-a", "ent-b"); err != nil {
			t.Fatalf("AddDependency failed: %v", err)
		}
	}

	a, err := store.GetEntity(ctx, "ent-a")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if len(a.Dependencies) != 1 || a.Dependencies[0] != "ent-b" {
		t.Errorf("Dependencies = %v, want [ent-b]", a.Dependencies)
	}

	deps, err := store.Dependents(ctx, "ent-b")
	if err != nil {
		t.Fatalf("Dependents failed: %v", err)
	}
	if len(deps) != 1 || deps[0] != "ent-a" {
		t.Errorf("Dependents = %v, want [ent-a]", deps)
	}
}

// TestFindActiveByLabel tests the revision-trigger lookup.
func TestFindActiveByLabel(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if _, err := store.InsertEntity(ctx, testEntity("ent-1", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if err := store.AddInstance(ctx, "ent-1", Instance{ID: "ins-1", SessionID: "s1", Label: "D-4"}); err != nil {
		t.Fatalf("AddInstance failed: %v", err)
	}

	got, err := store.FindActiveByLabel(ctx, "proj", "D-4")
	if err != nil {
		t.Fatalf("FindActiveByLabel failed: %v", err)
	}
	if got.ID != "ent-1" {
		t.Errorf("FindActiveByLabel = %s, want ent-1", got.ID)
	}

	// Superseded entities no longer answer label lookups.
	if _, err := store.InsertEntity(ctx, testEntity("ent-2", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if err := store.MarkSuperseded(ctx, "ent-1", "ent-2"); err != nil {
		t.Fatalf("MarkSuperseded failed: %v", err)
	}
	_, err = store.FindActiveByLabel(ctx, "proj", "D-4")
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound after supersession, got %v", err)
	}
}

// TestPersistence tests that data persists across store close/reopen.
func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	ctx := context.Background()

	store1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store1.InsertEntity(ctx, testEntity("ent-1", "proj")); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer store2.Close()

	got, err := store2.GetEntity(ctx, "ent-1")
	if err != nil {
		t.Fatalf("GetEntity after reopen failed: %v", err)
	}
	if got.Content != "use sqlite for persistence" {
		t.Errorf("Content = %q after reopen", got.Content)
	}
}
