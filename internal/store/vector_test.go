package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/types"
)

func TestVectorSerializationRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0, 0}
	got := deserializeVector(serializeVector(vec))
	assert.Equal(t, vec, got)
}

func TestSemanticSearchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	engine := embedding.NewMockEngine(8)

	u1 := testUnit(wsID, "add", "a.rs", 0)
	u1.Signature = "fn add(a,b) { a+b }"
	u2 := testUnit(wsID, "user", "b.rs", 0)
	u2.Signature = "struct User { name: String }"
	require.NoError(t, s.UpsertCodeUnit(ctx, u1))
	require.NoError(t, s.UpsertCodeUnit(ctx, u2))

	v1, err := engine.Embed(ctx, u1.Signature)
	require.NoError(t, err)
	v2, err := engine.Embed(ctx, u2.Signature)
	require.NoError(t, err)
	require.NoError(t, s.StoreEmbedding(ctx, "code_unit", u1.ID.String(), v1))
	require.NoError(t, s.StoreEmbedding(ctx, "code_unit", u2.ID.String(), v2))

	query, err := engine.Embed(ctx, "add two numbers")
	require.NoError(t, err)

	results, err := s.SemanticSearchUnits(ctx, wsID, query, 1, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "add", results[0].Unit.QualifiedName)
}

func TestSemanticSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SemanticSearch(context.Background(), "code_unit", nil, 10, 0)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestEmbeddingReplacedOnRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEmbedding(ctx, "pattern", "p1", []float32{1, 0}))
	require.NoError(t, s.StoreEmbedding(ctx, "pattern", "p1", []float32{0, 1}))

	vec, err := s.GetEmbedding(ctx, "pattern", "p1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestEpisodeForgetAndLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	unit := testUnit(wsID, "touched", "t.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, unit))

	e := &types.Episode{
		AgentID:     "agent-1",
		TaskType:    "refactor",
		ActionTaken: "renamed variable",
		Outcome:     "ok",
		Success:     true,
		Importance:  0.9,
	}
	require.NoError(t, s.StoreEpisode(ctx, e))
	require.NoError(t, s.LinkEpisodeToUnit(ctx, e.ID, unit.ID))

	lineage, err := s.CodeLineage(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.Equal(t, e.ID, lineage[0].ID)

	// High importance survives forgetting.
	deleted, err := s.ForgetEpisodes(ctx, 0.5, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Low importance with stale access goes.
	low := &types.Episode{AgentID: "agent-1", TaskType: "noop", Importance: 0.1}
	require.NoError(t, s.StoreEpisode(ctx, low))
	deleted, err = s.ForgetEpisodes(ctx, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestPatternUseTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Pattern{
		Name:        "retry-with-backoff",
		PatternType: types.PatternWorkflow,
		Context:     "transient failures",
		Solution:    "exponential backoff with jitter",
		Confidence:  0.8,
	}
	require.NoError(t, s.StorePattern(ctx, p))

	require.NoError(t, s.RecordPatternUse(ctx, p.ID, true))
	require.NoError(t, s.RecordPatternUse(ctx, p.ID, true))
	require.NoError(t, s.RecordPatternUse(ctx, p.ID, false))

	got, err := s.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.UsageCount)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate, 1e-9)
}
