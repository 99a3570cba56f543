package parser

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ry-ht/cortex/internal/logging"
)

// =============================================================================
// CONCURRENT SCANNING
// =============================================================================

// Strategy selects how the concurrent runner schedules parse work.
type Strategy string

const (
	// StrategyWorkerPool is the basic fixed worker-pool.
	StrategyWorkerPool Strategy = "worker_pool"
	// StrategyProducerConsumer runs discovery in parallel with consumers.
	StrategyProducerConsumer Strategy = "producer_consumer"
	// StrategyForkJoin splits the discovered set across workers up front.
	StrategyForkJoin Strategy = "fork_join"
	// StrategyBatched processes fixed-size batches with a barrier between.
	StrategyBatched Strategy = "batched"
)

// FileSource abstracts the filesystem for scanning so tests can run against
// an in-memory tree.
type FileSource interface {
	Walk(root string, fn func(path string, isDir bool) error) error
	ReadFile(path string) ([]byte, error)
}

// OSFileSource reads the real filesystem.
type OSFileSource struct{}

// Walk traverses root depth-first. I/O errors on single entries are logged
// and skipped without reaching fn: the walker continues with the rest.
func (OSFileSource) Walk(root string, fn func(path string, isDir bool) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, the walk continues.
			logging.ParserDebug("Walk error at %s: %v (skipping)", p, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := fn(p, d.IsDir()); err != nil {
			return err
		}
		return nil
	})
}

// ReadFile reads a file's bytes.
func (OSFileSource) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// ScanConfig controls a concurrent scan.
type ScanConfig struct {
	Roots          []string
	Include        []string // glob patterns relative to root; empty = all supported files
	Exclude        []string // excludes win over includes
	Strategy       Strategy
	MaxConcurrency int
	MaxFileBytes   int64
	BatchSize      int // batched strategy only
	Source         FileSource
}

// DefaultScanConfig returns sane defaults for large repositories.
func DefaultScanConfig(roots ...string) ScanConfig {
	workers := runtime.NumCPU()
	if workers > 20 {
		workers = 20
	}
	if workers < 4 {
		workers = 4
	}
	return ScanConfig{
		Roots:          roots,
		Strategy:       StrategyProducerConsumer,
		MaxConcurrency: workers,
		MaxFileBytes:   2 * 1024 * 1024,
		BatchSize:      64,
		Source:         OSFileSource{},
	}
}

// ScanResult is one parsed (or failed) file from a scan stream.
type ScanResult struct {
	Path   string
	Parsed *ParsedFile
	Err    error
}

// Scan produces a stream of parse results for all matching files under the
// configured roots. Order of results is not guaranteed. Per-file errors are
// reported in-stream; the scan continues with other files.
func Scan(ctx context.Context, cfg ScanConfig) (<-chan ScanResult, error) {
	if cfg.Source == nil {
		cfg.Source = OSFileSource{}
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 64
	}

	logging.Parser("Scan starting: strategy=%s workers=%d roots=%d", cfg.Strategy, cfg.MaxConcurrency, len(cfg.Roots))

	switch cfg.Strategy {
	case StrategyForkJoin:
		return scanForkJoin(ctx, cfg)
	case StrategyBatched:
		return scanBatched(ctx, cfg)
	case StrategyProducerConsumer:
		return scanProducerConsumer(ctx, cfg, true)
	default:
		return scanProducerConsumer(ctx, cfg, false)
	}
}

// Matches applies the include/exclude rule: a path matching both include and
// exclude sets is filtered out.
func Matches(relPath string, include, exclude []string) bool {
	if matchesAny(relPath, exclude) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return matchesAny(relPath, include)
}

// matchesAny tests a slash path against glob patterns, base names and path
// components (so "node_modules" excludes any nested node_modules dir).
func matchesAny(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	base := path.Base(relPath)
	components := strings.Split(relPath, "/")

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		for _, comp := range components {
			if comp == pattern {
				return true
			}
		}
		// "dir/**" style prefix patterns
		if prefix, found := strings.CutSuffix(pattern, "/**"); found {
			if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// discover walks the roots collecting candidate file paths.
func discover(ctx context.Context, cfg ScanConfig, root string, emit func(string) error) error {
	return cfg.Source.Walk(root, func(p string, isDir bool) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		rel = filepath.ToSlash(rel)

		if isDir {
			if matchesAny(rel, cfg.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := LanguageForPath(p); !ok {
			return nil
		}
		if !Matches(rel, cfg.Include, cfg.Exclude) {
			return nil
		}
		return emit(p)
	})
}

func parseOne(ctx context.Context, cfg ScanConfig, p string) ScanResult {
	data, err := cfg.Source.ReadFile(p)
	if err != nil {
		return ScanResult{Path: p, Err: err}
	}
	if cfg.MaxFileBytes > 0 && int64(len(data)) > cfg.MaxFileBytes {
		return ScanResult{Path: p, Err: errFileTooLarge(p, len(data))}
	}
	pf, err := ParseFile(ctx, p, data)
	return ScanResult{Path: p, Parsed: pf, Err: err}
}

// scanProducerConsumer runs a bounded channel of discovered paths with
// MaxConcurrency consumers. With parallelDiscovery, each root is walked in
// its own goroutine.
func scanProducerConsumer(ctx context.Context, cfg ScanConfig, parallelDiscovery bool) (<-chan ScanResult, error) {
	paths := make(chan string, cfg.MaxConcurrency*4)
	results := make(chan ScanResult, cfg.MaxConcurrency)

	go func() {
		defer close(paths)
		emit := func(p string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths <- p:
				return nil
			}
		}

		if parallelDiscovery {
			var wg sync.WaitGroup
			for _, root := range cfg.Roots {
				wg.Add(1)
				go func(root string) {
					defer wg.Done()
					if err := discover(ctx, cfg, root, emit); err != nil && ctx.Err() == nil {
						logging.ParserDebug("Discovery failed for root %s: %v", root, err)
					}
				}(root)
			}
			wg.Wait()
			return
		}

		for _, root := range cfg.Roots {
			if err := discover(ctx, cfg, root, emit); err != nil && ctx.Err() == nil {
				logging.ParserDebug("Discovery failed for root %s: %v", root, err)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range paths {
				select {
				case <-ctx.Done():
					return
				case results <- parseOne(ctx, cfg, p):
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	return results, nil
}

// scanForkJoin discovers everything first, then splits the set evenly across
// an errgroup of workers.
func scanForkJoin(ctx context.Context, cfg ScanConfig) (<-chan ScanResult, error) {
	var all []string
	for _, root := range cfg.Roots {
		if err := discover(ctx, cfg, root, func(p string) error {
			all = append(all, p)
			return nil
		}); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	results := make(chan ScanResult, cfg.MaxConcurrency)
	go func() {
		defer close(results)

		g, gctx := errgroup.WithContext(ctx)
		chunk := (len(all) + cfg.MaxConcurrency - 1) / cfg.MaxConcurrency
		if chunk < 1 {
			chunk = 1
		}
		for start := 0; start < len(all); start += chunk {
			end := start + chunk
			if end > len(all) {
				end = len(all)
			}
			part := all[start:end]
			g.Go(func() error {
				for _, p := range part {
					select {
					case <-gctx.Done():
						return gctx.Err()
					case results <- parseOne(gctx, cfg, p):
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results, nil
}

// scanBatched discovers everything first, then processes fixed-size batches
// with a weighted semaphore capping in-flight parses inside each batch.
func scanBatched(ctx context.Context, cfg ScanConfig) (<-chan ScanResult, error) {
	var all []string
	for _, root := range cfg.Roots {
		if err := discover(ctx, cfg, root, func(p string) error {
			all = append(all, p)
			return nil
		}); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	results := make(chan ScanResult, cfg.MaxConcurrency)
	go func() {
		defer close(results)

		sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
		for start := 0; start < len(all); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(all) {
				end = len(all)
			}

			var wg sync.WaitGroup
			for _, p := range all[start:end] {
				if err := sem.Acquire(ctx, 1); err != nil {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(p string) {
					defer wg.Done()
					defer sem.Release(1)
					select {
					case <-ctx.Done():
					case results <- parseOne(ctx, cfg, p):
					}
				}(p)
			}
			// Barrier: the batch completes before the next starts.
			wg.Wait()
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return results, nil
}

type fileTooLargeError struct {
	path string
	size int
}

func (e *fileTooLargeError) Error() string {
	return "file too large for AST parsing: " + e.path
}

func errFileTooLarge(path string, size int) error {
	return &fileTooLargeError{path: path, size: size}
}
