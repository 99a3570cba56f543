package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineBounds(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-3, 1, 2}

	sim := Cosine(a, b)
	assert.GreaterOrEqual(t, sim, -1.0)
	assert.LessOrEqual(t, sim, 1.0)

	// Identical nonzero vectors are 1 within tolerance.
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)

	// Opposite vectors are -1.
	neg := []float32{-1, -2, -3}
	assert.InDelta(t, -1.0, Cosine(a, neg), 1e-6)
}

func TestCosineDegenerateInputs(t *testing.T) {
	// Length mismatch yields 0.
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	// Zero-magnitude vectors yield 0.
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},  // orthogonal
		{1, 0},  // identical
		{1, 1},  // diagonal
		{-1, 0}, // opposite
	}

	results := FindTopK(query, corpus, 2)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestMockEngineDeterministic(t *testing.T) {
	engine := NewMockEngine(8)
	ctx := context.Background()

	v1, err := engine.Embed(ctx, "add two numbers")
	require.NoError(t, err)
	v2, err := engine.Embed(ctx, "add two numbers")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 8)

	// Non-empty text yields a unit-norm vector.
	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockEngineTokenOverlapOrdering(t *testing.T) {
	engine := NewMockEngine(8)
	ctx := context.Background()

	query, err := engine.Embed(ctx, "add two numbers")
	require.NoError(t, err)
	similar, err := engine.Embed(ctx, "fn add(a,b) { a+b }")
	require.NoError(t, err)
	unrelated, err := engine.Embed(ctx, "struct User { name: String }")
	require.NoError(t, err)

	assert.Greater(t, Cosine(query, similar), Cosine(query, unrelated))
}

func TestNewEngineFactory(t *testing.T) {
	engine, err := NewEngine(Config{Provider: "mock", MockDimensions: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, engine.Dimensions())
	assert.Equal(t, "mock", engine.Name())

	_, err = NewEngine(Config{Provider: "does-not-exist"})
	assert.Error(t, err)
}
