package conflict

import (
	"context"
	"fmt"
	"math"
)

// DefaultAutoResolveGap is the confidence gap above which a same-project
// conflict resolves automatically in favor of the higher-confidence entity.
const DefaultAutoResolveGap = 0.4

// Resolution is the policy outcome for one registered conflict pair. The
// policy belongs to the caller (the sync orchestrator applies it after
// registration); this type and Assess just centralize the rules.
type Resolution struct {
	EntityID string  `json:"entity_id"`
	OtherID  string  `json:"other_id"`
	Signal   string  `json:"signal"`
	Gap      float64 `json:"gap"`

	// Auto is true when the pair auto-resolves: same project, gap above
	// the threshold. WinnerID/LoserID are set only then.
	Auto     bool   `json:"auto"`
	WinnerID string `json:"winner_id,omitempty"`
	LoserID  string `json:"loser_id,omitempty"`

	// CrossProject pairs are never auto-resolved; carry-forward across the
	// lineage hop stays blocked until the pair is acknowledged.
	CrossProject        bool `json:"cross_project"`
	CarryForwardBlocked bool `json:"carry_forward_blocked"`
}

// Assess applies the resolution policy to a registered conflict between the
// entity and the finding's existing counterpart:
//
//   - same project, gap > AutoResolveGap: auto-resolve for the
//     higher-confidence entity;
//   - same project, gap <= AutoResolveGap: both stay active, surfaced for
//     manual resolution;
//   - cross-project: never auto-resolved, carry-forward blocked.
func Assess(ctx context.Context, st Store, entityID string, f Finding, autoResolveGap float64) (*Resolution, error) {
	if autoResolveGap <= 0 {
		autoResolveGap = DefaultAutoResolveGap
	}

	a, err := st.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	b, err := st.GetEntity(ctx, f.ExistingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", f.ExistingID, err)
	}

	res := &Resolution{
		EntityID: entityID,
		OtherID:  f.ExistingID,
		Signal:   f.Signal,
		Gap:      math.Abs(a.Confidence - b.Confidence),
	}

	if a.Project != b.Project {
		res.CrossProject = true
		res.CarryForwardBlocked = true
		return res, nil
	}

	if res.Gap > autoResolveGap {
		res.Auto = true
		if a.Confidence >= b.Confidence {
			res.WinnerID, res.LoserID = a.ID, b.ID
		} else {
			res.WinnerID, res.LoserID = b.ID, a.ID
		}
	}
	return res, nil
}
