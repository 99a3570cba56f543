package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// MOCK EMBEDDING ENGINE
// =============================================================================

// MockEngine is a deterministic hash-based engine for tests. Texts sharing
// tokens produce correlated vectors, so similarity ordering is meaningful
// without any model behind it.
type MockEngine struct {
	dimensions int
}

// NewMockEngine creates a mock engine with the given dimensionality.
func NewMockEngine(dimensions int) *MockEngine {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &MockEngine{dimensions: dimensions}
}

// Embed hashes each lowercase token into a bucket and L2-normalizes the
// resulting histogram.
func (e *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%e.dimensions] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality.
func (e *MockEngine) Dimensions() int { return e.dimensions }

// Name returns the engine name.
func (e *MockEngine) Name() string { return "mock" }

// MaxInputLength returns the maximum input length in characters.
func (e *MockEngine) MaxInputLength() int { return 1 << 20 }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
