package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpaqueValueJSONRoundTrip(t *testing.T) {
	original := Object(map[string]OpaqueValue{
		"name":    String("cortex"),
		"count":   Int(42),
		"ratio":   Float(0.75),
		"enabled": Bool(true),
		"nothing": Null(),
		"tags":    Array(String("a"), String("b")),
		"nested": Object(map[string]OpaqueValue{
			"deep": Int(-7),
		}),
	})

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded OpaqueValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded), "round trip must preserve structure: %s vs %s", original, decoded)
}

func TestOpaqueValueIntFloatDistinct(t *testing.T) {
	var v OpaqueValue
	require.NoError(t, json.Unmarshal([]byte(`42`), &v))
	assert.Equal(t, OpaqueInt, v.Kind())

	require.NoError(t, json.Unmarshal([]byte(`42.5`), &v))
	assert.Equal(t, OpaqueFloat, v.Kind())

	// Scientific notation is a float even without a decimal point.
	require.NoError(t, json.Unmarshal([]byte(`1e3`), &v))
	assert.Equal(t, OpaqueFloat, v.Kind())
}

func TestOpaqueValueAccessors(t *testing.T) {
	obj := Object(map[string]OpaqueValue{"k": Int(5)})

	got, ok := obj.Get("k")
	require.True(t, ok)
	i, ok := got.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(5), i)

	f, ok := got.AsFloat()
	require.True(t, ok, "integers convert to float")
	assert.Equal(t, 5.0, f)

	_, ok = got.AsString()
	assert.False(t, ok)

	_, ok = obj.Get("missing")
	assert.False(t, ok)

	assert.True(t, Null().IsNull())
	assert.True(t, OpaqueValue{}.IsNull(), "zero value is null")
}

func TestEntityJSONRoundTrip(t *testing.T) {
	unit := CodeUnit{
		ID:            "u-1",
		WorkspaceID:   "w-1",
		FilePath:      "src/lib.rs",
		UnitType:      UnitFunction,
		Name:          "add",
		QualifiedName: "add",
		Language:      "rust",
		Span:          Span{StartLine: 1, EndLine: 1, StartByte: 0, EndByte: 42},
		Signature:     "pub fn add(a: i32, b: i32) -> i32",
		Visibility:    VisibilityPublic,
		Parameters:    []Parameter{{Name: "a", Type: "i32"}, {Name: "b", Type: "i32"}},
		ReturnType:    "i32",
		Complexity:    Complexity{Cyclomatic: 1, Lines: 1, Parameters: 2},
		Version:       1,
	}

	data, err := json.Marshal(unit)
	require.NoError(t, err)

	var decoded CodeUnit
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(unit, decoded, cmp.AllowUnexported(OpaqueValue{})); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestComplexityScore(t *testing.T) {
	c := Complexity{Cyclomatic: 10, Cognitive: 5, Nesting: 2}
	assert.InDelta(t, 0.5*10+0.3*5+0.2*2, c.Score(), 1e-9)
	assert.Zero(t, Complexity{}.Score())
}

func TestPriorityWeights(t *testing.T) {
	assert.Greater(t, PriorityCritical.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
}

func TestNamespaceEncodingReversible(t *testing.T) {
	// Percent encoding keeps dashes and slashes distinguishable, unlike the
	// lossy slash-to-dash rewrite.
	for _, original := range []string{
		"simple",
		"path/with/slashes",
		"path-with-dashes",
		"mixed/path-with/both-kinds",
		"spaces and unicode ünïts",
	} {
		encoded := EncodeNamespace(original)
		decoded, err := DecodeNamespace(encoded)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}

	// Distinct inputs never collide after encoding.
	assert.NotEqual(t, EncodeNamespace("a/b"), EncodeNamespace("a-b"))
}

func TestErrorTaxonomy(t *testing.T) {
	err := NotFound("code_unit", "u-9")
	assert.True(t, IsKind(err, ErrNotFound))
	assert.False(t, IsKind(err, ErrConflict))
	assert.Contains(t, err.Error(), "u-9")

	conflict := Conflict("code_unit", "u-9", 3, 5)
	assert.True(t, IsKind(conflict, ErrConflict))
	assert.Contains(t, conflict.Error(), "expected 3")

	inner := errors.New("connection reset")
	wrapped := Transport(inner)
	assert.True(t, IsKind(wrapped, ErrTransport))
	assert.ErrorIs(t, wrapped, inner)

	// Kind extraction on foreign errors defaults to internal.
	assert.Equal(t, ErrInternal, KindOf(errors.New("plain")))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NotFound("episode", "e-1")
	target := &Error{Kind: ErrNotFound}
	assert.True(t, errors.Is(err, target))

	scoped := &Error{Kind: ErrNotFound, Entity: "pattern"}
	assert.False(t, errors.Is(err, scoped))
}
