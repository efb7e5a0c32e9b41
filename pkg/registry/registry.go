// Package registry implements the entity lifecycle engine: content-
// addressed upsert (insert, validate, revise), decay bookkeeping, stale
// queries and reciprocal dependency links. Decisions and threads are two
// kinds of the same trackable shape and share every code path here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dan-solli/loom/pkg/conflict"
	"github.com/dan-solli/loom/pkg/identity"
	"github.com/dan-solli/loom/pkg/store"
)

// ErrInvalidInput is returned for malformed mentions: empty content,
// session id, label or project. Nothing is written; identity derivation is
// never attempted on malformed input.
var ErrInvalidInput = errors.New("invalid input")

// Action says what an upsert did.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionValidated Action = "validated"
	ActionRevised   Action = "revised"
)

// Detector is the conflict detection collaborator. Detection runs on the
// insert and revise paths; its failure degrades the upsert (entity stored,
// detection skipped), never aborts it.
type Detector interface {
	Detect(ctx context.Context, cand conflict.Candidate) (*conflict.Report, error)
	Register(ctx context.Context, entityID string, f conflict.Finding) error
}

// UpsertRequest is one entity mention from a parsed archive.
type UpsertRequest struct {
	Project    string
	SessionID  string
	Label      string
	Content    string
	Kind       store.Kind
	Confidence float64
	Metadata   map[string]any

	// Carried marks the mention as arriving through a lineage hop from a
	// parent session. Only validated and revised mentions record the
	// carried-forward instance status: their content predates this session.
	// A fresh insertion is new here and stays active even in a continued
	// session.
	Carried bool
}

// UpsertResult reports what one upsert did.
type UpsertResult struct {
	Action   Action
	EntityID string

	// EntityStatus is the entity's status at upsert time. Inserts and
	// revisions always produce an active entity; a validation whose content
	// matches a superseded or invalidated record reports that terminal
	// status here, and the record stays retired.
	EntityStatus store.Status

	// Supersedes is the retired entity's id when Action is revised.
	Supersedes string

	// NeedsRevalidation lists dependents of the retired entity. Their
	// dependency pointers still name the superseded id; repointing them is
	// a deliberate manual step, so the registry surfaces the list instead
	// of rewriting the links.
	NeedsRevalidation []string

	// Findings are the conflicts detected and registered for this entity.
	Findings []conflict.Finding

	// DetectionSkipped is true when the similarity signal could not run;
	// DetectionErr carries the collaborator failure so the caller can
	// retry detection later. The entity write committed regardless.
	DetectionSkipped bool
	DetectionErr     error
}

// Registry is the entity lifecycle engine. All state lives in the injected
// store; Registry itself is stateless and safe for concurrent use.
type Registry struct {
	store    store.EntityStore
	detector Detector
}

// New creates a registry on the given store. The detector may be nil, in
// which case inserts skip conflict detection entirely.
func New(st store.EntityStore, det Detector) *Registry {
	return &Registry{store: st, detector: det}
}

// Upsert is the one write path for entity mentions. Content is normalized
// and hashed; the canonical id is a pure function of project namespace and
// content, so the same logical entity always maps to the same record:
//
//   - unseen canonical id, no active entity under the label: insert;
//   - known canonical id: validate (merge the mention, reset decay);
//   - unseen canonical id but an active entity holds the same label with
//     different content: revise (new record supersedes the old one).
func (r *Registry) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Kind == "" {
		req.Kind = store.KindDecision
	}

	project, err := r.store.EnsureProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}

	normalized := identity.Normalize(req.Content)
	contentHash := identity.ContentHash(normalized)
	canonicalID := identity.CanonicalID(project.Namespace, normalized)

	inst := store.Instance{
		ID:        identity.InstanceID(req.SessionID, req.Label),
		SessionID: req.SessionID,
		Label:     req.Label,
		Status:    store.InstanceActive,
	}

	// Content match wins over label match: restating existing content is a
	// validation even if the label is new.
	entity, err := r.store.GetEntity(ctx, canonicalID)
	switch {
	case err == nil:
		if req.Carried {
			inst.Status = store.InstanceCarriedForward
		}
		return r.validateMention(ctx, entity, inst)
	case errors.Is(err, store.ErrEntityNotFound):
		// fall through to insert or revise
	default:
		return nil, err
	}

	prior, err := r.store.FindActiveByLabel(ctx, req.Project, req.Label)
	if err != nil && !errors.Is(err, store.ErrEntityNotFound) {
		return nil, err
	}
	if prior != nil && prior.ContentHash != contentHash {
		if req.Carried {
			inst.Status = store.InstanceCarriedForward
		}
		return r.revise(ctx, req, prior, canonicalID, contentHash, inst)
	}

	return r.insert(ctx, req, canonicalID, contentHash, inst)
}

func (r *Registry) validateMention(ctx context.Context, entity *store.Entity, inst store.Instance) (*UpsertResult, error) {
	if err := r.store.AddInstance(ctx, entity.ID, inst); err != nil {
		return nil, err
	}

	result := &UpsertResult{
		Action:       ActionValidated,
		EntityID:     entity.ID,
		EntityStatus: entity.Status,
	}

	// A mention matching a superseded or invalidated record is recorded on
	// the instance trail but does not resurrect the entity or reset its
	// decay clock; the caller sees the terminal status on the result.
	if entity.Status != store.StatusActive {
		return result, nil
	}

	if err := r.store.TouchValidation(ctx, entity.ID, time.Now()); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Registry) insert(ctx context.Context, req UpsertRequest, canonicalID, contentHash string, inst store.Instance) (*UpsertResult, error) {
	result := &UpsertResult{Action: ActionInserted, EntityID: canonicalID, EntityStatus: store.StatusActive}

	report := r.detect(ctx, conflict.Candidate{
		Text:        req.Content,
		ContentHash: contentHash,
		Confidence:  req.Confidence,
		Project:     req.Project,
	})

	if err := r.persist(ctx, req, canonicalID, contentHash, inst, report); err != nil {
		return nil, err
	}
	if err := r.registerFindings(ctx, canonicalID, report, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Registry) revise(ctx context.Context, req UpsertRequest, prior *store.Entity, canonicalID, contentHash string, inst store.Instance) (*UpsertResult, error) {
	result := &UpsertResult{
		Action:       ActionRevised,
		EntityID:     canonicalID,
		EntityStatus: store.StatusActive,
		Supersedes:   prior.ID,
	}

	// Exclude the predecessor: a revision must not conflict with the text
	// it replaces.
	report := r.detect(ctx, conflict.Candidate{
		Text:        req.Content,
		ContentHash: contentHash,
		Confidence:  req.Confidence,
		Project:     req.Project,
		ExcludeID:   prior.ID,
	})

	if err := r.persist(ctx, req, canonicalID, contentHash, inst, report); err != nil {
		return nil, err
	}
	if err := r.store.MarkSuperseded(ctx, prior.ID, canonicalID); err != nil {
		return nil, err
	}

	// Dependents still point at the retired id; flag them for manual
	// cascade revalidation instead of silently repointing.
	dependents, err := r.store.Dependents(ctx, prior.ID)
	if err != nil {
		return nil, err
	}
	result.NeedsRevalidation = dependents

	if err := r.registerFindings(ctx, canonicalID, report, result); err != nil {
		return nil, err
	}
	return result, nil
}

// detect runs conflict detection, mapping the no-detector case to an empty
// report. Detection errors beyond the embedding collaborator surface as a
// skipped report too: the write path never fails because detection did.
func (r *Registry) detect(ctx context.Context, cand conflict.Candidate) *conflict.Report {
	if r.detector == nil {
		return &conflict.Report{}
	}
	report, err := r.detector.Detect(ctx, cand)
	if err != nil {
		return &conflict.Report{Skipped: true, SkipCause: err}
	}
	return report
}

func (r *Registry) persist(ctx context.Context, req UpsertRequest, canonicalID, contentHash string, inst store.Instance, report *conflict.Report) error {
	seq, err := r.store.NextSeq(ctx, "entities/"+req.Project)
	if err != nil {
		return err
	}

	entity := &store.Entity{
		ID:          canonicalID,
		Project:     req.Project,
		Kind:        req.Kind,
		Content:     req.Content,
		ContentHash: contentHash,
		Confidence:  req.Confidence,
		Status:      store.StatusActive,
		Seq:         seq,
		Embedding:   report.Embedding,
		Metadata:    req.Metadata,
	}

	// Set-on-insert: if a concurrent sync created the same canonical
	// entity first, its record stays authoritative and this mention just
	// merges into it.
	if _, err := r.store.InsertEntity(ctx, entity); err != nil {
		return err
	}
	return r.store.AddInstance(ctx, canonicalID, inst)
}

func (r *Registry) registerFindings(ctx context.Context, entityID string, report *conflict.Report, result *UpsertResult) error {
	result.DetectionSkipped = report.Skipped
	result.DetectionErr = report.SkipCause

	for _, f := range report.Findings {
		if err := r.detector.Register(ctx, entityID, f); err != nil {
			return err
		}
		result.Findings = append(result.Findings, f)
	}
	return nil
}

// GetActive returns the project's active entities sorted by confidence
// descending.
func (r *Registry) GetActive(ctx context.Context, project string) ([]*store.Entity, error) {
	return r.store.ActiveEntities(ctx, project)
}

// GetStale returns active entities that have decayed past maxHops sync
// cycles without a mention, or past maxAge since their last validation.
func (r *Registry) GetStale(ctx context.Context, project string, maxHops int, maxAge time.Duration) ([]*store.Entity, error) {
	return r.store.StaleEntities(ctx, project, maxHops, maxAge)
}

// Get returns one entity by canonical id.
func (r *Registry) Get(ctx context.Context, id string) (*store.Entity, error) {
	return r.store.GetEntity(ctx, id)
}

// Conflicts returns the symmetric conflict links registered for an entity.
func (r *Registry) Conflicts(ctx context.Context, id string) ([]store.Conflict, error) {
	return r.store.ConflictsFor(ctx, id)
}

// IncrementHopsForAbsent advances the decay counter for every active
// entity in the project not mentioned this sync cycle. One batched store
// update; returns the number of entities advanced.
func (r *Registry) IncrementHopsForAbsent(ctx context.Context, project string, seenIDs []string) (int64, error) {
	return r.store.IncrementHops(ctx, project, seenIDs)
}

// LinkDependency records that a depends on b. Idempotent; the reciprocal
// dependent view derives from the same link.
func (r *Registry) LinkDependency(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("%w: entity cannot depend on itself", ErrInvalidInput)
	}
	return r.store.AddDependency(ctx, a, b)
}

// Invalidate moves an entity to the terminal invalidated status. Used by
// the auto-resolution policy; the record is never deleted.
func (r *Registry) Invalidate(ctx context.Context, id string) error {
	return r.store.SetStatus(ctx, id, store.StatusInvalidated)
}

func validate(req UpsertRequest) error {
	switch {
	case strings.TrimSpace(req.Project) == "":
		return fmt.Errorf("%w: project cannot be empty", ErrInvalidInput)
	case strings.TrimSpace(req.SessionID) == "":
		return fmt.Errorf("%w: session id cannot be empty", ErrInvalidInput)
	case strings.TrimSpace(req.Label) == "":
		return fmt.Errorf("%w: label cannot be empty", ErrInvalidInput)
	case strings.TrimSpace(req.Content) == "":
		return fmt.Errorf("%w: content cannot be empty", ErrInvalidInput)
	case req.Confidence < 0 || req.Confidence > 1:
		return fmt.Errorf("%w: confidence must be in [0,1]", ErrInvalidInput)
	}
	return nil
}
