package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesExcludeWins(t *testing.T) {
	// A path matching both include and exclude is filtered out.
	assert.False(t, Matches("src/gen.rs", []string{"src/*.rs"}, []string{"src/gen.rs"}))
	assert.True(t, Matches("src/lib.rs", []string{"src/*.rs"}, []string{"src/gen.rs"}))

	// Empty include accepts everything not excluded.
	assert.True(t, Matches("a/b/c.py", nil, nil))
	assert.False(t, Matches("vendor/x.go", nil, []string{"vendor"}))

	// Directory-component patterns exclude nested paths.
	assert.False(t, Matches("x/node_modules/y.js", nil, []string{"node_modules"}))

	// Prefix patterns.
	assert.False(t, Matches("gen/deep/file.rs", nil, []string{"gen/**"}))
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

func collectScan(t *testing.T, cfg ScanConfig) map[string]ScanResult {
	t.Helper()
	results, err := Scan(context.Background(), cfg)
	require.NoError(t, err)

	got := map[string]ScanResult{}
	for r := range results {
		got[filepath.ToSlash(r.Path)] = r
	}
	return got
}

func TestScanStrategies(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.rs":      "fn a() {}",
		"src/b.rs":      "fn b() {}",
		"src/deep/c.py": "def c():\n    pass\n",
		"README.md":     "# not source",
	})

	for _, strategy := range []Strategy{
		StrategyWorkerPool, StrategyProducerConsumer, StrategyForkJoin, StrategyBatched,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := DefaultScanConfig(root)
			cfg.Strategy = strategy
			cfg.MaxConcurrency = 2
			cfg.BatchSize = 2

			got := collectScan(t, cfg)
			assert.Len(t, got, 3, "strategy %s should parse all source files", strategy)
			for path, r := range got {
				assert.NoError(t, r.Err, path)
				assert.NotNil(t, r.Parsed, path)
			}
		})
	}
}

func TestScanHonorsExcludes(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/keep.rs":         "fn keep() {}",
		"src/skip.rs":         "fn skip() {}",
		"node_modules/dep.js": "function d() {}",
	})

	cfg := DefaultScanConfig(root)
	cfg.Include = []string{"src/*.rs"}
	cfg.Exclude = []string{"src/skip.rs", "node_modules"}

	got := collectScan(t, cfg)
	assert.Len(t, got, 1)
	for path := range got {
		assert.Contains(t, path, "keep.rs")
	}
}

func TestScanSkipsOversizeFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"big.rs":   "fn big() {}",
		"small.rs": "fn small() {}",
	})

	cfg := DefaultScanConfig(root)
	cfg.MaxFileBytes = 12 // "fn small() {}" is 13 bytes, "fn big() {}" is 11

	got := collectScan(t, cfg)
	require.Len(t, got, 2)

	var failures int
	for _, r := range got {
		if r.Err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "oversize file reports an error, scan continues")
}

func TestScanCancellation(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 64; i++ {
		files[filepath.Join("src", string(rune('a'+i%26))+string(rune('0'+i/26))+".rs")] = "fn f() {}"
	}
	root := writeTree(t, files)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultScanConfig(root)
	cfg.MaxConcurrency = 2

	results, err := Scan(ctx, cfg)
	require.NoError(t, err)

	<-results
	cancel()

	// The stream terminates; no goroutine waits forever.
	for range results {
	}
}

func TestCognitiveComplexityBooleanSequences(t *testing.T) {
	// a && b && c collapses to one increment; && then || counts twice.
	sameOps := []byte("fn f(a: bool, b: bool, c: bool) -> bool { a && b && c }")
	mixedOps := []byte("fn f(a: bool, b: bool, c: bool) -> bool { a && b || c }")

	pfSame, err := ParseFile(context.Background(), "s.rs", sameOps)
	require.NoError(t, err)
	pfMixed, err := ParseFile(context.Background(), "m.rs", mixedOps)
	require.NoError(t, err)

	require.Len(t, pfSame.Functions, 1)
	require.Len(t, pfMixed.Functions, 1)
	assert.Equal(t, 1, pfSame.Functions[0].Complexity.Cognitive)
	assert.Equal(t, 2, pfMixed.Functions[0].Complexity.Cognitive)
}

func TestCognitiveComplexityNesting(t *testing.T) {
	nested := []byte(`fn f(x: i32) -> i32 {
    if x > 0 {
        if x > 10 {
            return 2;
        }
    }
    1
}
`)
	pf, err := ParseFile(context.Background(), "n.rs", nested)
	require.NoError(t, err)
	require.Len(t, pf.Functions, 1)

	c := pf.Functions[0].Complexity
	// Outer if contributes 1, inner if 2 (nesting penalty).
	assert.Equal(t, 3, c.Cognitive)
	assert.Equal(t, 2, c.Nesting)
	assert.Equal(t, 3, c.Cyclomatic)
	assert.Equal(t, 1, c.Returns)
}
