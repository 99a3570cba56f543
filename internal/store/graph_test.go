package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/types"
)

// buildGraph creates one unit per name and a calls edge for each listed
// (source, target) pair.
func buildGraph(t *testing.T, s *Store, wsID types.WorkspaceID, names []string, edges [][2]string) map[string]types.CodeUnitID {
	t.Helper()
	ctx := context.Background()

	ids := make(map[string]types.CodeUnitID, len(names))
	for i, name := range names {
		u := testUnit(wsID, name, "g.rs", i*100)
		require.NoError(t, s.UpsertCodeUnit(ctx, u))
		ids[name] = u.ID
	}
	for _, e := range edges {
		require.NoError(t, s.CreateDependency(ctx, wsID, &types.Dependency{
			SourceUnitID: ids[e[0]],
			TargetUnitID: ids[e[1]],
			Kind:         types.DepCalls,
			IsDirect:     true,
		}))
	}
	return ids
}

func TestDependenciesDepthBound(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	// a -> b -> c -> d
	ids := buildGraph(t, s, wsID,
		[]string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}})

	got, err := s.Dependencies(ctx, ids["a"], 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, gu := range got {
		assert.LessOrEqual(t, gu.Depth, 2)
	}

	all, err := s.Dependencies(ctx, ids["a"], 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDependenciesDepthValidation(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ids := buildGraph(t, s, wsID, []string{"a"}, nil)

	_, err := s.Dependencies(context.Background(), ids["a"], 0)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))

	_, err = s.Dependencies(context.Background(), ids["a"], 11)
	assert.True(t, types.IsKind(err, types.ErrInvalidInput))
}

func TestDependentsAndImpact(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	// main -> helper -> util; other -> util
	ids := buildGraph(t, s, wsID,
		[]string{"main", "helper", "util", "other"},
		[][2]string{{"main", "helper"}, {"helper", "util"}, {"other", "util"}})

	dependents, err := s.Dependents(ctx, ids["util"])
	require.NoError(t, err)
	names := map[string]bool{}
	for _, gu := range dependents {
		names[gu.QualifiedName] = true
	}
	assert.True(t, names["helper"])
	assert.True(t, names["main"])
	assert.True(t, names["other"])

	impact, err := s.Impact(ctx, []types.CodeUnitID{ids["util"]})
	require.NoError(t, err)
	assert.Len(t, impact, 3)
}

func TestCallersAndCallGraph(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	ids := buildGraph(t, s, wsID,
		[]string{"main", "add"},
		[][2]string{{"main", "add"}})

	callers, err := s.Callers(ctx, ids["add"])
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "main", callers[0].QualifiedName)

	callees, err := s.CallGraph(ctx, ids["main"], 3)
	require.NoError(t, err)
	require.Len(t, callees, 1)
	assert.Equal(t, "add", callees[0].QualifiedName)
}

func TestCyclesTriangle(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	ids := buildGraph(t, s, wsID,
		[]string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})

	cycles, err := s.Cycles(ctx, wsID, 5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	require.Len(t, cycles[0], 3)

	// Canonical rotation starts from the lowest unit id.
	lowest := ids["a"]
	for _, name := range []string{"b", "c"} {
		if ids[name] < lowest {
			lowest = ids[name]
		}
	}
	assert.Equal(t, lowest, cycles[0][0].ID)

	// Every reported cycle is genuine: consecutive edges exist.
	members := map[types.CodeUnitID]bool{ids["a"]: true, ids["b"]: true, ids["c"]: true}
	for _, gu := range cycles[0] {
		assert.True(t, members[gu.ID])
	}
}

func TestCyclesNone(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")

	buildGraph(t, s, wsID,
		[]string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"b", "c"}})

	cycles, err := s.Cycles(context.Background(), wsID, 5)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestCyclesLengthCap(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	// Cycle of length 4; cap of 3 must not report it.
	buildGraph(t, s, wsID,
		[]string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}})

	short, err := s.Cycles(ctx, wsID, 3)
	require.NoError(t, err)
	assert.Empty(t, short)

	long, err := s.Cycles(ctx, wsID, 5)
	require.NoError(t, err)
	assert.Len(t, long, 1)
	assert.Len(t, long[0], 4)
}

func TestHubsLeavesRoots(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	// hub has the highest total degree.
	buildGraph(t, s, wsID,
		[]string{"hub", "a", "b", "c"},
		[][2]string{{"a", "hub"}, {"b", "hub"}, {"hub", "c"}})

	hubs, err := s.Hubs(ctx, wsID, 1)
	require.NoError(t, err)
	require.Len(t, hubs, 1)
	assert.Equal(t, "hub", hubs[0].QualifiedName)

	leaves, err := s.Leaves(ctx, wsID, 10)
	require.NoError(t, err)
	leafNames := map[string]bool{}
	for _, l := range leaves {
		leafNames[l.QualifiedName] = true
	}
	assert.True(t, leafNames["c"])
	assert.False(t, leafNames["hub"])

	roots, err := s.Roots(ctx, wsID, 10)
	require.NoError(t, err)
	rootNames := map[string]bool{}
	for _, r := range roots {
		rootNames[r.QualifiedName] = true
	}
	assert.True(t, rootNames["a"])
	assert.True(t, rootNames["b"])
	assert.False(t, rootNames["hub"])
}

func TestResolveDanglingDependencies(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	caller := testUnit(wsID, "caller", "m.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, caller))

	// Edge to a target that does not exist yet.
	require.NoError(t, s.CreateDependency(ctx, wsID, &types.Dependency{
		SourceUnitID: caller.ID,
		TargetName:   "late",
		Kind:         types.DepCalls,
	}))

	deps, err := s.ListDependencies(ctx, caller.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.False(t, deps[0].Resolved())

	// Target materializes later; the sweep resolves the edge.
	late := testUnit(wsID, "late", "n.rs", 0)
	require.NoError(t, s.UpsertCodeUnit(ctx, late))

	n, err := s.ResolveDanglingDependencies(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deps, err = s.ListDependencies(ctx, caller.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.True(t, deps[0].Resolved())
	assert.Equal(t, late.ID, deps[0].TargetUnitID)
}

func TestGetSymbolFull(t *testing.T) {
	s := newTestStore(t)
	wsID := newTestWorkspace(t, s, "w")
	ctx := context.Background()

	ids := buildGraph(t, s, wsID,
		[]string{"target", "caller", "callee"},
		[][2]string{{"caller", "target"}, {"target", "callee"}})

	snap, err := s.GetSymbolFull(ctx, ids["target"])
	require.NoError(t, err)
	assert.Equal(t, "target", snap.Unit.QualifiedName)
	assert.Len(t, snap.Outgoing, 1)
	assert.Len(t, snap.Incoming, 1)
}
