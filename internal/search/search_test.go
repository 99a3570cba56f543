package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Store, types.WorkspaceID) {
	t.Helper()
	s, err := store.Open(store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	embedder := embedding.NewService(embedding.NewMockEngine(8), embedding.DefaultServiceConfig())

	ws := &types.Workspace{Name: "w", Namespace: "t", Type: types.WorkspaceCode, SourceType: types.SourceLocal}
	require.NoError(t, s.UpsertWorkspace(context.Background(), ws))

	return NewService(s, embedder), s, ws.ID
}

func seedUnit(t *testing.T, s *store.Store, wsID types.WorkspaceID, name, signature, body string, startByte int) *types.CodeUnit {
	t.Helper()
	ctx := context.Background()

	u := &types.CodeUnit{
		WorkspaceID:   wsID,
		FilePath:      "src/lib.rs",
		UnitType:      types.UnitFunction,
		Name:          name,
		QualifiedName: name,
		Language:      "rust",
		Span:          types.Span{StartByte: startByte, EndByte: startByte + len(body)},
		Signature:     signature,
		Body:          body,
		ContentHash:   "h-" + name,
	}
	require.NoError(t, s.UpsertCodeUnit(ctx, u))

	vec, err := embedding.NewMockEngine(8).Embed(ctx, signature+"\n"+body)
	require.NoError(t, err)
	require.NoError(t, s.StoreEmbedding(ctx, "code_unit", u.ID.String(), vec))
	return u
}

func TestSemanticSearchRanksByRelevance(t *testing.T) {
	svc, s, wsID := newTestService(t)

	seedUnit(t, s, wsID, "add", "fn add(a,b)", "{ a+b }", 0)
	seedUnit(t, s, wsID, "user", "struct User", "{ name: String }", 100)

	results, err := svc.Semantic(context.Background(), wsID, "add two numbers", SemanticOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "add", results[0].Unit.QualifiedName)
}

func TestSemanticSearchLanguageFilter(t *testing.T) {
	svc, s, wsID := newTestService(t)
	seedUnit(t, s, wsID, "add", "fn add(a,b)", "{ a+b }", 0)

	results, err := svc.Semantic(context.Background(), wsID, "add numbers", SemanticOptions{Limit: 5, Language: "python"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTextSearchUnits(t *testing.T) {
	svc, s, wsID := newTestService(t)
	seedUnit(t, s, wsID, "parse_config", "fn parse_config()", "{ read_yaml_file() }", 0)
	seedUnit(t, s, wsID, "unrelated", "fn unrelated()", "{}", 100)

	results, err := svc.Text(context.Background(), wsID, "parse_config", TargetCodeUnits, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "parse_config", results[0].Name)
	assert.Contains(t, results[0].Snippet, "parse_config")
}

func TestTextSearchEmptyQueryRejected(t *testing.T) {
	svc, _, wsID := newTestService(t)
	_, err := svc.Text(context.Background(), wsID, "   ", TargetCodeUnits, 10)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestTextSearchPatterns(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.StorePattern(ctx, &types.Pattern{
		Name:        "retry-backoff",
		PatternType: types.PatternWorkflow,
		Context:     "transient failures on the wire",
		Solution:    "retry with exponential backoff",
	}))

	results, err := svc.Text(ctx, "", "backoff", TargetPatterns, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "retry-backoff", results[0].Name)
}

func TestReferences(t *testing.T) {
	svc, s, wsID := newTestService(t)
	ctx := context.Background()

	target := seedUnit(t, s, wsID, "add", "fn add(a,b)", "{ a+b }", 0)
	caller := seedUnit(t, s, wsID, "main", "fn main()", "{ let x = add(1,2); }", 100)

	require.NoError(t, s.CreateDependency(ctx, wsID, &types.Dependency{
		SourceUnitID: caller.ID,
		TargetUnitID: target.ID,
		Kind:         types.DepCalls,
	}))

	refs, err := svc.References(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "main", refs[0].SourceName)
	assert.Contains(t, refs[0].Context, "add")
}

func TestPatternSearchDegradesToStringMatch(t *testing.T) {
	svc, s, wsID := newTestService(t)
	seedUnit(t, s, wsID, "worker", "fn worker()", "{ loop { tick(); } }", 0)

	// No language given: the AST shape cannot be derived, so the search
	// degrades to substring matching and flags it.
	resp, err := svc.Pattern(context.Background(), wsID, "tick()", "", 10)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "worker", resp.Results[0].Unit.QualifiedName)
}

func TestPatternSearchStructural(t *testing.T) {
	svc, s, wsID := newTestService(t)
	seedUnit(t, s, wsID, "alpha", "fn alpha()", "{ beta(); }", 0)

	resp, err := svc.Pattern(context.Background(), wsID, "fn anything() { }", "rust", 10)
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
}

func TestSnippetExtraction(t *testing.T) {
	long := strings.Repeat("a", 200) + "NEEDLE" + strings.Repeat("b", 200)
	snippet := SnippetAround(long, "needle")

	assert.Contains(t, snippet, "NEEDLE")
	assert.True(t, strings.HasPrefix(snippet, "..."))
	assert.True(t, strings.HasSuffix(snippet, "..."))
	assert.Less(t, len(snippet), len(long))

	// Matches near the start are not prefixed with an ellipsis.
	early := "NEEDLE" + strings.Repeat("x", 300)
	snippet = SnippetAround(early, "needle")
	assert.False(t, strings.HasPrefix(snippet, "..."))
	assert.True(t, strings.HasSuffix(snippet, "..."))
}
