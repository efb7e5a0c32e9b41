package loom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dan-solli/loom/pkg/conflict"
	"github.com/dan-solli/loom/pkg/identity"
	"github.com/dan-solli/loom/pkg/registry"
	"github.com/dan-solli/loom/pkg/store"
	"github.com/dan-solli/loom/pkg/trace"
)

// Mention is one entity reference parsed out of a session archive.
type Mention struct {
	// Label is the session-local reference, e.g. "D-4" or "T-2".
	Label string

	// Content is the full statement of the decision or thread.
	Content string

	Kind       store.Kind
	Confidence float64
	Metadata   map[string]any
}

// LineageHint names the parent session an archive was compressed or
// continued from. When present, the sync records the lineage hop.
type LineageHint struct {
	ParentSessionID string

	// Tag classifies the hop: "compression" or "continuation"
	// (default: "continuation").
	Tag string
}

// Archive is one session's worth of mentions to sync into the registry.
type Archive struct {
	Project   string
	SessionID string
	Mentions  []Mention
	Lineage   *LineageHint
}

// MentionFailure reports one mention whose upsert failed. Other mentions in
// the same sync are unaffected.
type MentionFailure struct {
	Label string
	Err   error
}

// SyncResult summarizes one completed sync cycle.
type SyncResult struct {
	SyncID    string
	Project   string
	SessionID string

	// Per-action upsert counts.
	Inserted  int64
	Validated int64
	Revised   int64

	// Results holds the individual upsert outcomes in mention order,
	// excluding failed mentions.
	Results []*registry.UpsertResult

	// Conflicts is the number of findings registered this cycle;
	// Resolutions carries the policy outcome for each.
	Conflicts   int64
	Resolutions []*conflict.Resolution

	Failures []MentionFailure

	// DetectionSkipped is true when any mention's conflict detection
	// degraded (embedding or search failure).
	DetectionSkipped bool

	// Decayed is the number of active entities whose hop counter advanced
	// because this sync did not mention them.
	Decayed int64

	// EdgeID names the lineage edge recorded from the archive's hint.
	EdgeID string

	// Status is "success" or "partial". Fatal failures return an error
	// instead of a result.
	Status   string
	Duration time.Duration
}

// Sync ingests one session archive: every mention is upserted, registered
// conflicts are assessed against the resolution policy, decay counters
// advance for unmentioned entities, and the lineage hop is recorded. A
// failed mention or degraded detection makes the sync partial, never
// fatal; only store-level failures abort.
func (l *Loom) Sync(ctx context.Context, archive Archive) (*SyncResult, error) {
	if strings.TrimSpace(archive.Project) == "" {
		return nil, fmt.Errorf("%w: project cannot be empty", registry.ErrInvalidInput)
	}
	if strings.TrimSpace(archive.SessionID) == "" {
		return nil, fmt.Errorf("%w: session id cannot be empty", registry.ErrInvalidInput)
	}

	start := time.Now()
	result := &SyncResult{
		SyncID:    identity.RecordID("sync", start),
		Project:   archive.Project,
		SessionID: archive.SessionID,
	}

	if _, err := l.store.EnsureProject(ctx, archive.Project); err != nil {
		l.metrics.RecordError(ctx, "sync", ClassifyError(err))
		return nil, err
	}

	l.log().Info("sync started",
		"sync_id", result.SyncID,
		"project", archive.Project,
		"session_id", archive.SessionID,
		"mentions", len(archive.Mentions),
	)

	seen := make([]string, 0, len(archive.Mentions))
	carried := make([]string, 0, len(archive.Mentions))
	for _, m := range archive.Mentions {
		res, err := l.registry.Upsert(ctx, registry.UpsertRequest{
			Project:    archive.Project,
			SessionID:  archive.SessionID,
			Label:      m.Label,
			Content:    m.Content,
			Kind:       m.Kind,
			Confidence: m.Confidence,
			Metadata:   m.Metadata,
			Carried:    archive.Lineage != nil,
		})
		if err != nil {
			result.Failures = append(result.Failures, MentionFailure{Label: m.Label, Err: err})
			l.metrics.RecordError(ctx, "upsert", ClassifyError(err))
			l.log().Warn("mention failed", "sync_id", result.SyncID, "label", m.Label, "error", err)
			continue
		}

		result.Results = append(result.Results, res)
		seen = append(seen, res.EntityID)
		l.metrics.RecordUpsert(ctx, archive.Project, string(res.Action))

		switch res.Action {
		case registry.ActionInserted:
			result.Inserted++
		case registry.ActionValidated:
			result.Validated++
			carried = append(carried, res.EntityID)
		case registry.ActionRevised:
			result.Revised++
			carried = append(carried, res.EntityID)
		}

		if res.EntityStatus != store.StatusActive {
			l.log().Warn("mention matched retired entity",
				"sync_id", result.SyncID, "label", m.Label,
				"entity", res.EntityID, "status", res.EntityStatus)
		}

		if res.DetectionSkipped {
			result.DetectionSkipped = true
			l.log().Warn("conflict detection skipped",
				"sync_id", result.SyncID, "label", m.Label, "cause", res.DetectionErr)
		}

		if err := l.resolveFindings(ctx, result, res); err != nil {
			l.metrics.RecordError(ctx, "sync", ClassifyError(err))
			return nil, err
		}
	}

	decayed, err := l.registry.IncrementHopsForAbsent(ctx, archive.Project, seen)
	if err != nil {
		l.metrics.RecordError(ctx, "sync", ClassifyError(err))
		return nil, err
	}
	result.Decayed = decayed

	if archive.Lineage != nil && archive.Lineage.ParentSessionID != "" {
		if err := l.recordLineage(ctx, archive, carried, seen, result); err != nil {
			l.metrics.RecordError(ctx, "sync", ClassifyError(err))
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	result.Status = "success"
	if len(result.Failures) > 0 || result.DetectionSkipped {
		result.Status = "partial"
	}

	if err := l.finishSync(ctx, result); err != nil {
		return nil, err
	}

	l.log().Info("sync completed",
		"sync_id", result.SyncID,
		"status", result.Status,
		"inserted", result.Inserted,
		"validated", result.Validated,
		"revised", result.Revised,
		"conflicts", result.Conflicts,
		"decayed", result.Decayed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// resolveFindings applies the resolution policy to each conflict the upsert
// registered. Auto-resolved pairs invalidate the losing entity; everything
// else stays surfaced in the result.
func (l *Loom) resolveFindings(ctx context.Context, result *SyncResult, res *registry.UpsertResult) error {
	for _, f := range res.Findings {
		result.Conflicts++
		l.metrics.RecordConflict(ctx, result.Project, f.Signal)

		resolution, err := conflict.Assess(ctx, l.store, res.EntityID, f, l.config.AutoResolveGap)
		if err != nil {
			return err
		}
		result.Resolutions = append(result.Resolutions, resolution)

		if resolution.Auto {
			if err := l.registry.Invalidate(ctx, resolution.LoserID); err != nil {
				return err
			}
			l.log().Info("conflict auto-resolved",
				"sync_id", result.SyncID,
				"winner", resolution.WinnerID,
				"loser", resolution.LoserID,
				"gap", resolution.Gap,
			)
		} else if resolution.CrossProject {
			l.log().Warn("cross-project conflict requires acknowledgement",
				"sync_id", result.SyncID,
				"entity", resolution.EntityID,
				"other", resolution.OtherID,
			)
		}
	}
	return nil
}

// recordLineage writes the hop from the archive's parent session. Carried
// is the set of entities that existed before this session and were
// mentioned again (validated or revised); entities first inserted here
// never crossed the hop. Dropped is the active remainder this sync did not
// mention at all.
func (l *Loom) recordLineage(ctx context.Context, archive Archive, carried, seen []string, result *SyncResult) error {
	tag := archive.Lineage.Tag
	if tag == "" {
		tag = "continuation"
	}

	seenSet := make(map[string]bool, len(seen))
	for _, id := range seen {
		seenSet[id] = true
	}
	actives, err := l.registry.GetActive(ctx, archive.Project)
	if err != nil {
		return err
	}
	var dropped []string
	for _, e := range actives {
		if !seenSet[e.ID] {
			dropped = append(dropped, e.ID)
		}
	}

	edge, err := l.graph.AddEdge(ctx, archive.Lineage.ParentSessionID, archive.SessionID,
		tag, archive.Project, carried, dropped)
	if err != nil {
		return err
	}
	result.EdgeID = edge.ID
	return nil
}

// finishSync persists the audit row, updates gauges and exports the trace
// record. Audit failures are fatal; a sync that cannot be audited did not
// complete.
func (l *Loom) finishSync(ctx context.Context, result *SyncResult) error {
	entry := &store.SyncEntry{
		ID:               result.SyncID,
		Project:          result.Project,
		SessionID:        result.SessionID,
		Inserted:         result.Inserted,
		Validated:        result.Validated,
		Revised:          result.Revised,
		Conflicts:        result.Conflicts,
		Resolved:         countResolved(result.Resolutions),
		DetectionSkipped: result.DetectionSkipped,
		DurationMs:       result.Duration.Milliseconds(),
	}
	if err := l.store.AppendSyncEntry(ctx, entry); err != nil {
		l.metrics.RecordError(ctx, "audit", ClassifyError(err))
		return err
	}

	l.metrics.RecordSync(ctx, result.Project, result.Status, result.Duration)
	if actives, err := l.registry.GetActive(ctx, result.Project); err == nil {
		l.metrics.SetEntityCount(ctx, result.Project, string(store.StatusActive), int64(len(actives)))
	}

	record := &trace.SyncRecord{
		Timestamp:  time.Now().Add(-result.Duration),
		SyncID:     result.SyncID,
		Project:    result.Project,
		SessionID:  result.SessionID,
		DurationMs: result.Duration.Milliseconds(),
		Status:     result.Status,
		Counts: map[string]int64{
			"inserted":  result.Inserted,
			"validated": result.Validated,
			"revised":   result.Revised,
			"conflicts": result.Conflicts,
			"resolved":  entry.Resolved,
			"failed":    int64(len(result.Failures)),
			"decayed":   result.Decayed,
		},
		DetectionSkipped: result.DetectionSkipped,
		EdgeID:           result.EdgeID,
	}
	if len(result.Failures) > 0 {
		record.ErrorType = ClassifyError(result.Failures[0].Err)
	}
	if err := l.tracer.Export(ctx, record); err != nil {
		// Audit export is best effort; the persisted sync_log row is the
		// durable record.
		l.log().Warn("trace export failed", "sync_id", result.SyncID, "error", err)
	}
	return nil
}

// History returns the project's most recent sync audit records, newest
// first.
func (l *Loom) History(ctx context.Context, project string, limit int) ([]*store.SyncEntry, error) {
	return l.store.SyncEntries(ctx, project, limit)
}

func countResolved(resolutions []*conflict.Resolution) int64 {
	var n int64
	for _, r := range resolutions {
		if r.Auto {
			n++
		}
	}
	return n
}
