package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWorkspace(t *testing.T, s *Store, name string) types.WorkspaceID {
	t.Helper()
	ws := &types.Workspace{
		Name:       name,
		Type:       types.WorkspaceCode,
		SourceType: types.SourceLocal,
		Namespace:  "test",
	}
	require.NoError(t, s.UpsertWorkspace(context.Background(), ws))
	return ws.ID
}

func testUnit(wsID types.WorkspaceID, qualifiedName, filePath string, startByte int) *types.CodeUnit {
	return &types.CodeUnit{
		WorkspaceID:   wsID,
		FilePath:      filePath,
		UnitType:      types.UnitFunction,
		Name:          qualifiedName,
		QualifiedName: qualifiedName,
		DisplayName:   qualifiedName,
		Language:      "rust",
		Span:          types.Span{StartLine: 1, EndLine: 1, StartByte: startByte, EndByte: startByte + 10},
		Signature:     "fn " + qualifiedName + "()",
		ContentHash:   "hash-" + qualifiedName,
	}
}

func TestWorkspaceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws := &types.Workspace{
		Name:       "alpha",
		Type:       types.WorkspaceCode,
		SourceType: types.SourceLocal,
		Namespace:  "ns",
		SourcePath: "/tmp/alpha",
	}
	require.NoError(t, s.UpsertWorkspace(ctx, ws))
	require.NotEmpty(t, ws.ID)
	assert.Equal(t, int64(1), ws.Version)

	got, err := s.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, types.WorkspaceCode, got.Type)
	assert.Equal(t, "/tmp/alpha", got.SourcePath)

	// Same (namespace, name) updates in place.
	again := &types.Workspace{Name: "alpha", Namespace: "ns", Type: types.WorkspaceMixed, SourceType: types.SourceLocal}
	require.NoError(t, s.UpsertWorkspace(ctx, again))
	assert.Equal(t, ws.ID, again.ID)
	assert.Equal(t, int64(2), again.Version)
}

func TestWorkspaceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkspace(context.Background(), "nope")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestUpsertCodeUnitIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	u := testUnit(wsID, "add", "src/lib.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, u))
	assert.Equal(t, int64(1), u.Version)
	firstID := u.ID

	// Re-ingest with identical content: same id, no version bump.
	u2 := testUnit(wsID, "add", "src/lib.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, u2))
	assert.Equal(t, firstID, u2.ID)
	assert.Equal(t, int64(1), u2.Version)

	// Changed content bumps the version.
	u3 := testUnit(wsID, "add", "src/lib.rs", 0)
	u3.ContentHash = "hash-changed"
	u3.Body = "a + b + 1"
	require.NoError(t, s.UpsertCodeUnit(ctx, u3))
	assert.Equal(t, int64(2), u3.Version)

	count, err := s.CountUnits(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateCodeUnitOptimisticConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	u := testUnit(wsID, "f", "a.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, u))

	body := "new body"
	updated, err := s.UpdateCodeUnit(ctx, u.ID, &body, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "new body", updated.Body)

	// Stale expected version conflicts.
	_, err = s.UpdateCodeUnit(ctx, u.ID, &body, nil, 1)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrConflict))

	var coreErr *types.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, int64(1), coreErr.ExpectedVersion)
	assert.Equal(t, int64(2), coreErr.ActualVersion)
}

func TestConcurrentUpdateExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	u := testUnit(wsID, "g", "b.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, u))

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			body := "variant"
			_, err := s.UpdateCodeUnit(ctx, u.ID, &body, nil, 1)
			results <- err
		}(i)
	}

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			successes++
		} else if types.IsKind(err, types.ErrConflict) {
			conflicts++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestDependencyInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	a := testUnit(wsID, "a", "x.rs", 0)
	b := testUnit(wsID, "b", "x.rs", 100)
	require.NoError(t, s.UpsertCodeUnit(ctx, a))
	require.NoError(t, s.UpsertCodeUnit(ctx, b))

	// Self-loops are forbidden.
	err := s.CreateDependency(ctx, wsID, &types.Dependency{
		SourceUnitID: a.ID, TargetUnitID: a.ID, Kind: types.DepCalls,
	})
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))

	dep := &types.Dependency{SourceUnitID: a.ID, TargetUnitID: b.ID, Kind: types.DepCalls, IsDirect: true}
	require.NoError(t, s.CreateDependency(ctx, wsID, dep))

	// (source, target, kind) is unique: duplicate insert is a no-op.
	dup := &types.Dependency{SourceUnitID: a.ID, TargetUnitID: b.ID, Kind: types.DepCalls}
	require.NoError(t, s.CreateDependency(ctx, wsID, dup))

	deps, err := s.ListDependencies(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestDeleteWorkspaceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	vn := &types.VirtualNode{
		WorkspaceID: wsID, Path: "src/lib.rs", Kind: types.VNodeFile,
		ContentHash: "deadbeef", Size: 4,
	}
	require.NoError(t, s.UpsertVNode(ctx, vn, []byte("data")))

	a := testUnit(wsID, "a", "src/lib.rs", 0)
	b := testUnit(wsID, "b", "src/lib.rs", 50)
	require.NoError(t, s.UpsertCodeUnit(ctx, a))
	require.NoError(t, s.UpsertCodeUnit(ctx, b))
	require.NoError(t, s.CreateDependency(ctx, wsID, &types.Dependency{
		SourceUnitID: a.ID, TargetUnitID: b.ID, Kind: types.DepCalls,
	}))
	require.NoError(t, s.StoreEmbedding(ctx, "code_unit", a.ID.String(), []float32{1, 0}))

	require.NoError(t, s.DeleteWorkspace(ctx, wsID))

	// No vnode, unit, edge or embedding survives.
	_, err := s.GetVNode(ctx, wsID, "src/lib.rs")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
	_, err = s.GetCodeUnit(ctx, a.ID)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
	deps, err := s.ListDependencies(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
	_, err = s.GetEmbedding(ctx, "code_unit", a.ID.String())
	assert.Error(t, err)

	count, err := s.CountUnits(ctx, wsID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestContentBlobsShared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	content := []byte("shared bytes")
	hash := "aa11"
	for _, path := range []string{"a.rs", "b.rs"} {
		vn := &types.VirtualNode{WorkspaceID: wsID, Path: path, Kind: types.VNodeFile, ContentHash: hash, Size: int64(len(content))}
		require.NoError(t, s.UpsertVNode(ctx, vn, content))
	}

	got, err := s.GetBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestVNodeSameContentNoVersionBump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	vn := &types.VirtualNode{WorkspaceID: wsID, Path: "f.rs", Kind: types.VNodeFile, ContentHash: "h1", Size: 1}
	require.NoError(t, s.UpsertVNode(ctx, vn, []byte("x")))
	assert.Equal(t, int64(1), vn.Version)

	vn2 := &types.VirtualNode{WorkspaceID: wsID, Path: "f.rs", Kind: types.VNodeFile, ContentHash: "h1", Size: 1}
	require.NoError(t, s.UpsertVNode(ctx, vn2, []byte("x")))
	assert.Equal(t, int64(1), vn2.Version)

	vn3 := &types.VirtualNode{WorkspaceID: wsID, Path: "f.rs", Kind: types.VNodeFile, ContentHash: "h2", Size: 1}
	require.NoError(t, s.UpsertVNode(ctx, vn3, []byte("y")))
	assert.Equal(t, int64(2), vn3.Version)
}

func TestCursorRoundTrip(t *testing.T) {
	ts, err := time.Parse(time.RFC3339, "2024-01-02T03:04:05Z")
	require.NoError(t, err)

	c := Cursor{LastID: "u-7", LastTimestamp: ts, Offset: 42}
	encoded, err := EncodeCursor(c)
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, c.LastID, decoded.LastID)
	assert.Equal(t, c.Offset, decoded.Offset)
	assert.True(t, c.LastTimestamp.Equal(decoded.LastTimestamp))
}

func TestDecodeCursorMalformed(t *testing.T) {
	_, err := DecodeCursor("!!! not base64 !!!")
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))

	_, err = DecodeCursor("bm90IGpzb24=") // base64("not json")
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestListCodeUnitsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wsID := newTestWorkspace(t, s, "w")

	for i := 0; i < 5; i++ {
		u := testUnit(wsID, string(rune('a'+i)), "f.rs", i*100)
		require.NoError(t, s.UpsertCodeUnit(ctx, u))
	}

	page1, cursor, err := s.ListCodeUnits(ctx, wsID, UnitFilter{}, 2, "")
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, cursor2, err := s.ListCodeUnits(ctx, wsID, UnitFilter{}, 2, cursor)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
	require.NotEmpty(t, cursor2)

	page3, _, err := s.ListCodeUnits(ctx, wsID, UnitFilter{}, 2, cursor2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}
