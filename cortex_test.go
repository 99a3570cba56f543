package cortex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/config"
	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/ingest"
	"github.com/ry-ht/cortex/internal/search"
	"github.com/ry-ht/cortex/internal/types"
)

func newTestEngine(t *testing.T, fs FileSystem) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "in_memory"

	engine, err := New(Options{
		Config:     cfg,
		Embedder:   embedding.NewMockEngine(8),
		FileSystem: fs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func createWorkspace(t *testing.T, e *Engine, name string) WorkspaceID {
	t.Helper()
	ws := &Workspace{
		Name:       name,
		Type:       types.WorkspaceCode,
		SourceType: types.SourceLocal,
		Namespace:  "e2e",
	}
	require.NoError(t, e.CreateWorkspace(context.Background(), ws))
	return ws.ID
}

// Scenario: a single Rust file yields exactly one function unit with its
// signature details and metrics.
func TestSimpleRustIngestion(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/lib.rs", []byte("pub fn add(a: i32, b: i32) -> i32 { a + b }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	report, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	units, _, err := engine.ListCodeUnits(ctx, w1, UnitFilter{}, 10, "")
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, types.UnitFunction, u.UnitType)
	assert.Equal(t, "add", u.Name)
	assert.Equal(t, "add", u.QualifiedName)
	assert.Equal(t, types.VisibilityPublic, u.Visibility)
	require.Len(t, u.Parameters, 2)
	assert.Equal(t, types.Parameter{Name: "a", Type: "i32"}, u.Parameters[0])
	assert.Equal(t, types.Parameter{Name: "b", Type: "i32"}, u.Parameters[1])
	assert.Equal(t, "i32", u.ReturnType)
	assert.Equal(t, 1, u.Complexity.Cyclomatic)
	assert.Equal(t, 1, u.Complexity.Lines)

	count, err := engine.CountUnits(ctx, w1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// Scenario: a second file calling into the first produces a Calls edge and
// a reachable dependency.
func TestDependencyEdgeAcrossFiles(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/lib.rs", []byte("pub fn add(a: i32, b: i32) -> i32 { a + b }\n"))
	fs.WriteFile("proj/src/main.rs", []byte("use crate::add; fn main() { let _ = add(1, 2); }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	report, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	units, _, err := engine.ListCodeUnits(ctx, w1, UnitFilter{}, 10, "")
	require.NoError(t, err)

	var mainID, addID CodeUnitID
	for _, u := range units {
		switch u.Name {
		case "main":
			mainID = u.ID
		case "add":
			addID = u.ID
		}
	}
	require.NotEmpty(t, mainID)
	require.NotEmpty(t, addID)

	deps, err := engine.Dependencies(ctx, mainID, 3)
	require.NoError(t, err)

	var reachesAdd bool
	for _, d := range deps {
		if d.ID == addID {
			reachesAdd = true
		}
	}
	assert.True(t, reachesAdd, "dependencies(main, 3) must contain add")

	callers, err := engine.Callers(ctx, addID)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, mainID, callers[0].ID)
}

// Scenario: semantic search with the deterministic mock provider ranks the
// arithmetic function above the unrelated struct.
func TestSemanticSearchRecall(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/math.rs", []byte("pub fn add(a: i32, b: i32) -> i32 { a + b }\n"))
	fs.WriteFile("proj/src/user.rs", []byte("pub struct User { pub name: String }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	_, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)

	results, err := engine.SemanticSearch(ctx, w1, "add two numbers", search.SemanticOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "add", results[0].Unit.QualifiedName)
}

func TestWorkspaceLifecycleCascade(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/lib.rs", []byte("pub fn f() -> i32 { 1 }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	_, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)

	count, err := engine.CountUnits(ctx, w1)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, engine.DeleteWorkspace(ctx, w1))

	count, err = engine.CountUnits(ctx, w1)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = engine.GetWorkspace(ctx, w1)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestUpdateCodeUnitConflict(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/lib.rs", []byte("pub fn f() -> i32 { 1 }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	_, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)

	units, _, err := engine.ListCodeUnits(ctx, w1, UnitFilter{}, 1, "")
	require.NoError(t, err)
	require.Len(t, units, 1)

	body := "{ 2 }"
	updated, err := engine.UpdateCodeUnit(ctx, units[0].ID, &body, nil, units[0].Version)
	require.NoError(t, err)
	assert.Equal(t, units[0].Version+1, updated.Version)

	_, err = engine.UpdateCodeUnit(ctx, units[0].ID, &body, nil, units[0].Version)
	assert.True(t, types.IsKind(err, types.ErrConflict))
}

func TestMemoryRoundTrip(t *testing.T) {
	engine := newTestEngine(t, ingest.NewMemFS())
	ctx := context.Background()

	_, err := engine.RememberEpisode(ctx, &Episode{
		AgentID:     "agent-1",
		TaskType:    "refactor",
		ActionTaken: "extracted helper for channel fanout",
		Outcome:     "tests pass",
		Success:     true,
		Importance:  0.8,
	})
	require.NoError(t, err)

	episodes, err := engine.RecallEpisodes(ctx, RecallQuery{Text: "channel fanout helper", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, episodes)
	assert.Equal(t, "refactor", episodes[0].Episode.TaskType)

	_, err = engine.RememberPattern(ctx, &Pattern{
		Name:        "fanout-workers",
		PatternType: types.PatternCode,
		Context:     "bounded channel with worker pool",
		Solution:    "drain a shared channel from N goroutines",
		Confidence:  0.9,
	})
	require.NoError(t, err)

	patterns, err := engine.RecallPatterns(ctx, "worker pool over bounded channel", 5, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)
	assert.Equal(t, "fanout-workers", patterns[0].Pattern.Name)
}

func TestEventsSubscription(t *testing.T) {
	fs := ingest.NewMemFS()
	fs.WriteFile("proj/src/lib.rs", []byte("pub fn f() -> i32 { 1 }\n"))

	engine := newTestEngine(t, fs)
	ctx := context.Background()
	w1 := createWorkspace(t, engine, "W1")

	ch := engine.Subscribe("listener")
	_, err := engine.Ingest(ctx, "proj", w1, IngestOptions{})
	require.NoError(t, err)

	var sawParse, sawChange bool
	for i := 0; i < 2; i++ {
		ev := <-ch
		switch ev.Type {
		case types.EventParseComplete:
			sawParse = true
		case types.EventCodeChanged:
			sawChange = true
		}
	}
	assert.True(t, sawParse)
	assert.True(t, sawChange)

	history := engine.History(HistoryFilter{})
	assert.NotEmpty(t, history)
}
