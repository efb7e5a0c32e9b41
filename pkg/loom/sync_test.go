package loom

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/loom/pkg/registry"
	"github.com/dan-solli/loom/pkg/store"
)

// stubEmbedder returns canned vectors for known texts and a deterministic
// hash-derived vector otherwise.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	sum := sha256.Sum256([]byte(text))
	return []float32{float32(sum[0]), float32(sum[1]), float32(sum[2]), float32(sum[3])}, nil
}

func setupLoom(t *testing.T, embed *stubEmbedder) *Loom {
	if embed == nil {
		embed = &stubEmbedder{}
	}
	l, err := New(Config{DBPath: ":memory:", Embeddings: embed})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSyncInsertsMentions(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Use JWT for authentication":  {1, 0, 0},
		"Cache sessions in redis":     {0, 1, 0},
		"Investigate p99 latency bug": {0, 0, 1},
	}})
	ctx := context.Background()

	result, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions: []Mention{
			{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9},
			{Label: "D-2", Content: "Cache sessions in redis", Confidence: 0.7},
			{Label: "T-1", Content: "Investigate p99 latency bug", Kind: store.KindThread, Confidence: 0.6},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, int64(3), result.Inserted)
	assert.Zero(t, result.Validated)
	assert.Zero(t, result.Conflicts)
	assert.Empty(t, result.Failures)
	assert.NotEmpty(t, result.SyncID)

	actives, err := l.Registry().GetActive(ctx, "api-gateway")
	require.NoError(t, err)
	assert.Len(t, actives, 3)
}

func TestSyncValidatesAndDecays(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Use JWT for authentication": {1, 0, 0},
		"Cache sessions in redis":    {0, 1, 0},
	}})
	ctx := context.Background()

	_, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions: []Mention{
			{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9},
			{Label: "D-2", Content: "Cache sessions in redis", Confidence: 0.7},
		},
	})
	require.NoError(t, err)

	// A later session restates only the first decision, under a new label.
	result, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-2",
		Mentions: []Mention{
			{Label: "D-7", Content: "use jwt for authentication", Confidence: 0.9},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Validated)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, int64(1), result.Decayed)

	stale, err := l.Registry().GetStale(ctx, "api-gateway", 1, l.config.StaleAge)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "Cache sessions in redis", stale[0].Content)
}

func TestSyncRevisesChangedDecision(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Use JWT for authentication":    {1, 0, 0},
		"Use PASETO for authentication": {0, 1, 0},
	}})
	ctx := context.Background()

	first, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions:  []Mention{{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9}},
	})
	require.NoError(t, err)

	second, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-2",
		Mentions:  []Mention{{Label: "D-1", Content: "Use PASETO for authentication", Confidence: 0.9}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), second.Revised)
	require.Len(t, second.Results, 1)
	assert.Equal(t, first.Results[0].EntityID, second.Results[0].Supersedes)

	old, err := l.Registry().Get(ctx, first.Results[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuperseded, old.Status)
}

func TestSyncAutoResolvesConflict(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Tokens never expire":                 {1, 0, 0},
		"Auth tokens expire after 15 minutes": {1, 0.05, 0},
	}})
	ctx := context.Background()

	first, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions:  []Mention{{Label: "D-1", Content: "Tokens never expire", Confidence: 0.2}},
	})
	require.NoError(t, err)

	second, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-2",
		Mentions:  []Mention{{Label: "D-9", Content: "Auth tokens expire after 15 minutes", Confidence: 0.9}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), second.Conflicts)
	require.Len(t, second.Resolutions, 1)
	res := second.Resolutions[0]
	assert.True(t, res.Auto)
	assert.Equal(t, second.Results[0].EntityID, res.WinnerID)
	assert.Equal(t, first.Results[0].EntityID, res.LoserID)

	loser, err := l.Registry().Get(ctx, res.LoserID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInvalidated, loser.Status)
}

func TestSyncSurfacesNarrowConflict(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Tokens never expire":                 {1, 0, 0},
		"Auth tokens expire after 15 minutes": {1, 0.05, 0},
	}})
	ctx := context.Background()

	_, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions:  []Mention{{Label: "D-1", Content: "Tokens never expire", Confidence: 0.7}},
	})
	require.NoError(t, err)

	second, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-2",
		Mentions:  []Mention{{Label: "D-9", Content: "Auth tokens expire after 15 minutes", Confidence: 0.8}},
	})
	require.NoError(t, err)

	// Gap 0.1 is below the auto-resolve threshold: both stay active.
	require.Len(t, second.Resolutions, 1)
	assert.False(t, second.Resolutions[0].Auto)

	actives, err := l.Registry().GetActive(ctx, "api-gateway")
	require.NoError(t, err)
	assert.Len(t, actives, 2)

	conflicts, err := l.Registry().Conflicts(ctx, second.Results[0].EntityID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestSyncRecordsLineage(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{vectors: map[string][]float32{
		"Use JWT for authentication": {1, 0, 0},
		"Cache sessions in redis":    {0, 1, 0},
		"Rotate signing keys weekly": {0, 0, 1},
	}})
	ctx := context.Background()

	_, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions: []Mention{
			{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9},
			{Label: "D-2", Content: "Cache sessions in redis", Confidence: 0.7},
		},
	})
	require.NoError(t, err)

	// The compressed continuation restates the first decision and adds a
	// brand-new one; only the restated decision crossed the hop.
	result, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-2",
		Mentions: []Mention{
			{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9},
			{Label: "D-3", Content: "Rotate signing keys weekly", Confidence: 0.8},
		},
		Lineage: &LineageHint{ParentSessionID: "sess-1", Tag: "compression"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.EdgeID)

	carried := result.Results[0].EntityID
	inserted := result.Results[1].EntityID

	edge, err := l.Graph().Edge(ctx, "sess-1", "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "compression", edge.Tag)
	assert.Equal(t, []string{carried}, edge.Carried)
	assert.Len(t, edge.Dropped, 1)
	assert.NotContains(t, edge.Dropped, inserted)

	trace, err := l.Graph().TraceSession(ctx, "sess-2", 0)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", trace.Root)

	// The restated mention arrived through the hop, so its instance records
	// carried-forward status; the new decision's instance stays active.
	e, err := l.Registry().Get(ctx, carried)
	require.NoError(t, err)
	require.Len(t, e.Instances, 2)
	assert.Equal(t, store.InstanceCarriedForward, e.Instances[1].Status)

	fresh, err := l.Registry().Get(ctx, inserted)
	require.NoError(t, err)
	require.Len(t, fresh.Instances, 1)
	assert.Equal(t, store.InstanceActive, fresh.Instances[0].Status)
}

func TestSyncPartialOnEmbeddingFailure(t *testing.T) {
	l := setupLoom(t, &stubEmbedder{err: errors.New("connection refused")})
	ctx := context.Background()

	result, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions:  []Mention{{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9}},
	})
	require.NoError(t, err)

	// The entity is stored; only detection degraded.
	assert.Equal(t, "partial", result.Status)
	assert.True(t, result.DetectionSkipped)
	assert.Equal(t, int64(1), result.Inserted)

	e, err := l.Registry().Get(ctx, result.Results[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, e.Status)
	assert.Nil(t, e.Embedding)
}

func TestSyncPartialOnMentionFailure(t *testing.T) {
	l := setupLoom(t, nil)
	ctx := context.Background()

	result, err := l.Sync(ctx, Archive{
		Project:   "api-gateway",
		SessionID: "sess-1",
		Mentions: []Mention{
			{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9},
			{Label: "", Content: "missing label", Confidence: 0.5},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "partial", result.Status)
	assert.Equal(t, int64(1), result.Inserted)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, registry.ErrInvalidInput)
}

func TestSyncValidation(t *testing.T) {
	l := setupLoom(t, nil)
	ctx := context.Background()

	_, err := l.Sync(ctx, Archive{SessionID: "sess-1"})
	assert.ErrorIs(t, err, registry.ErrInvalidInput)

	_, err = l.Sync(ctx, Archive{Project: "api-gateway"})
	assert.ErrorIs(t, err, registry.ErrInvalidInput)
}

func TestSyncHistory(t *testing.T) {
	l := setupLoom(t, nil)
	ctx := context.Background()

	for _, sess := range []string{"sess-1", "sess-2"} {
		_, err := l.Sync(ctx, Archive{
			Project:   "api-gateway",
			SessionID: sess,
			Mentions:  []Mention{{Label: "D-1", Content: "Use JWT for authentication", Confidence: 0.9}},
		})
		require.NoError(t, err)
	}

	entries, err := l.History(ctx, "api-gateway", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sess-2", entries[0].SessionID)
	assert.Equal(t, int64(1), entries[1].Inserted)
	assert.Equal(t, int64(1), entries[0].Validated)
}
