package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIgnoreFile(t *testing.T) {
	assert.True(t, ShouldIgnoreFile("test.exe"))
	assert.True(t, ShouldIgnoreFile("image.PNG"))
	assert.False(t, ShouldIgnoreFile("code.rs"))
	assert.False(t, ShouldIgnoreFile("README.md"))
}

func TestShouldIgnoreDir(t *testing.T) {
	assert.True(t, ShouldIgnoreDir("node_modules"))
	assert.True(t, ShouldIgnoreDir("project/target"))
	assert.False(t, ShouldIgnoreDir("src"))
}

func TestValidateContent(t *testing.T) {
	assert.Empty(t, ValidateContent([]byte("valid text content")))
	assert.NotEmpty(t, ValidateContent([]byte("")))
	assert.NotEmpty(t, ValidateContent([]byte("   \n\t  ")))

	// Replacement characters signal encoding issues.
	assert.NotEmpty(t, ValidateContent([]byte("bad � bytes")))

	// >10% control characters reads as binary.
	binary := strings.Repeat("\x00\x01", 50) + "text"
	assert.NotEmpty(t, ValidateContent([]byte(binary)))
}

func TestDuplicateDetector(t *testing.T) {
	d := NewDuplicateDetector()
	assert.False(t, d.IsDuplicate("hash1"))
	assert.True(t, d.IsDuplicate("hash1"))
	assert.False(t, d.IsDuplicate("hash2"))
	assert.Equal(t, 2, d.UniqueCount())

	d.Clear()
	assert.False(t, d.IsDuplicate("hash1"))
}

func TestQualityScore(t *testing.T) {
	good := "This is a well-written piece of text with good variety and structure. It contains multiple sentences with different words and proper formatting."
	metrics := CalculateQualityScore(good)
	assert.Greater(t, metrics.Score, 0.5)
	assert.Empty(t, metrics.Issues)

	bad := "a a a a a"
	metrics = CalculateQualityScore(bad)
	assert.Less(t, metrics.Score, 0.5)
	assert.NotEmpty(t, metrics.Issues)
}

func TestQualityScoreRepetitionMonotonic(t *testing.T) {
	// Doubling repetition never increases the score.
	base := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	repeated := base + " " + base
	doubled := repeated + " " + repeated

	s1 := CalculateQualityScore(base).Score
	s2 := CalculateQualityScore(repeated).Score
	s3 := CalculateQualityScore(doubled).Score

	assert.GreaterOrEqual(t, s1, s2)
	assert.GreaterOrEqual(t, s2, s3)
}

func TestContentFilter(t *testing.T) {
	f := NewContentFilter(0.3)

	good := []byte("This is good quality content with sufficient length and variety to pass the filter thresholds.")
	result := f.ShouldAccept(good, "hash1")
	assert.True(t, result.Accepted)
	require.NotNil(t, result.QualityScore)

	// Second sight of the same hash is a duplicate.
	result = f.ShouldAccept(good, "hash1")
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reasons, "duplicate content")

	// Empty content is rejected on validity.
	result = f.ShouldAccept([]byte(""), "hash2")
	assert.False(t, result.Accepted)

	f.Reset()
	result = f.ShouldAccept(good, "hash1")
	assert.True(t, result.Accepted)
}

func TestHashContent(t *testing.T) {
	h := HashContent([]byte("hello"))
	assert.Len(t, h, 64)
	assert.Equal(t, strings.ToLower(h), h)
	assert.Equal(t, h, HashContent([]byte("hello")))
	assert.NotEqual(t, h, HashContent([]byte("world")))
}

func TestIsDocumentationFile(t *testing.T) {
	assert.True(t, IsDocumentationFile("README.md"))
	assert.True(t, IsDocumentationFile("notes.TXT"))
	assert.False(t, IsDocumentationFile("main.rs"))
}
