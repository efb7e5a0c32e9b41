// Package conflict implements two-signal conflict detection between active
// entities: embedding similarity (same topic, different conclusion) and
// entity/tier divergence (shared reference, diverging confidence). The two
// signals are independent; a failed embedding call degrades detection to
// the divergence signal alone and is reported, never swallowed.
package conflict

import (
	"context"
	"fmt"
	"math"

	"github.com/dan-solli/loom/pkg/embeddings"
	"github.com/dan-solli/loom/pkg/refs"
	"github.com/dan-solli/loom/pkg/store"
)

// Defaults for the detection thresholds.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultTierDelta           = 0.2
	DefaultTopK                = 10
)

// Candidate is the text under detection, before or at insert time.
type Candidate struct {
	Text        string
	ContentHash string
	Confidence  float64
	Project     string

	// ExcludeID is skipped in results: the entity being revised, so a
	// revision does not conflict with its own predecessor.
	ExcludeID string
}

// Finding is one detected contradiction with an existing entity.
type Finding struct {
	ExistingID string  `json:"existing_id"`
	Signal     string  `json:"signal"`
	Severity   float64 `json:"severity"`
}

// Report is the outcome of one detection run.
type Report struct {
	Findings []Finding

	// Embedding is the candidate's vector, returned so the caller can
	// persist it on the entity row. Nil when the embedding call failed.
	Embedding []float32

	// Skipped is true when the similarity signal could not run. The
	// divergence signal may still have produced findings. SkipCause holds
	// the collaborator error for the caller to surface or retry on.
	Skipped   bool
	SkipCause error
}

// Store is the detector's view of persistence.
type Store interface {
	ActiveEntities(ctx context.Context, project string) ([]*store.Entity, error)
	AddConflict(ctx context.Context, a, b, signal string, severity float64) error
	GetEntity(ctx context.Context, id string) (*store.Entity, error)
}

// Detector finds and records contradictions between active entities.
type Detector struct {
	store Store
	index store.VectorIndex
	embed embeddings.Client

	SimilarityThreshold float64
	TierDelta           float64
	TopK                int
}

// New creates a detector with default thresholds.
func New(st Store, index store.VectorIndex, embed embeddings.Client) *Detector {
	return &Detector{
		store:               st,
		index:               index,
		embed:               embed,
		SimilarityThreshold: DefaultSimilarityThreshold,
		TierDelta:           DefaultTierDelta,
		TopK:                DefaultTopK,
	}
}

// Detect evaluates both signals against all other active entities in the
// candidate's project and returns the union of findings. The similarity
// signal embeds the candidate and runs nearest-neighbor search; any match
// above the threshold with a different content hash is a conflict. The
// divergence signal flags active entities that share a reference with the
// candidate but differ in confidence by more than the tier delta.
func (d *Detector) Detect(ctx context.Context, cand Candidate) (*Report, error) {
	if cand.Text == "" {
		return nil, fmt.Errorf("candidate text cannot be empty")
	}

	report := &Report{}

	embedding, err := d.embed.EmbedOne(ctx, cand.Text)
	if err != nil {
		report.Skipped = true
		report.SkipCause = fmt.Errorf("embedding failed: %w", err)
	} else {
		report.Embedding = embedding
		matches, err := d.index.SearchActive(ctx, cand.Project, embedding, d.TopK)
		if err != nil {
			report.Skipped = true
			report.SkipCause = fmt.Errorf("similarity search failed: %w", err)
		} else {
			for _, m := range matches {
				if m.ID == cand.ExcludeID {
					continue
				}
				if m.ContentHash == cand.ContentHash {
					continue
				}
				if m.Score < d.SimilarityThreshold {
					continue
				}
				report.Findings = append(report.Findings, Finding{
					ExistingID: m.ID,
					Signal:     store.SignalSimilarity,
					Severity:   m.Score,
				})
			}
		}
	}

	divergence, err := d.detectDivergence(ctx, cand)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, divergence...)

	return report, nil
}

// detectDivergence runs the tier-divergence signal: pattern-extracted
// references shared between the two texts plus a confidence gap above the
// delta. Severity is the gap.
func (d *Detector) detectDivergence(ctx context.Context, cand Candidate) ([]Finding, error) {
	actives, err := d.store.ActiveEntities(ctx, cand.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to load active entities: %w", err)
	}

	candRefs := refs.Extract(cand.Text)
	if len(candRefs) == 0 {
		return nil, nil
	}

	var findings []Finding
	for _, e := range actives {
		if e.ID == cand.ExcludeID || e.ContentHash == cand.ContentHash {
			continue
		}
		gap := math.Abs(cand.Confidence - e.Confidence)
		if gap <= d.TierDelta {
			continue
		}
		if !refs.Shared(candRefs, refs.Extract(e.Content)) {
			continue
		}
		findings = append(findings, Finding{
			ExistingID: e.ID,
			Signal:     store.SignalTierDivergence,
			Severity:   gap,
		})
	}
	return findings, nil
}

// Register writes the conflict link symmetrically on both entities with
// add-to-set semantics: registering the same pair and signal twice never
// duplicates. Conflict links are never removed; only a later supersession
// resolves them.
func (d *Detector) Register(ctx context.Context, entityID string, f Finding) error {
	if err := d.store.AddConflict(ctx, entityID, f.ExistingID, f.Signal, f.Severity); err != nil {
		return fmt.Errorf("failed to register conflict: %w", err)
	}
	return nil
}
