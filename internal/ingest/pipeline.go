package ingest

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/notify"
	"github.com/ry-ht/cortex/internal/parser"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// =============================================================================
// PIPELINE OPTIONS & OUTCOMES
// =============================================================================

// Options tunes one ingestion run.
type Options struct {
	Include         []string
	Exclude         []string
	Workers         int
	ChannelCapacity int
	// StrictErrors aborts the run on the first per-file failure. The
	// default (graceful) captures failures in the report and continues.
	StrictErrors    bool
	MinQualityScore float64
	PerFileBudget   time.Duration
	RunBudget       time.Duration
}

// DefaultOptions returns run defaults.
func DefaultOptions() Options {
	return Options{
		Workers:         4,
		ChannelCapacity: 256,
		MinQualityScore: 0.3,
		PerFileBudget:   30 * time.Second,
		RunBudget:       30 * time.Minute,
	}
}

// Status classifies a per-file outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// FileOutcome is one entry in the per-run outcome stream.
type FileOutcome struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Units  int    `json:"units"`
}

// Failure records a failed file for the aggregate report.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report aggregates a completed run.
type Report struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Failures  []Failure     `json:"failures,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// =============================================================================
// INGESTOR
// =============================================================================

// Ingestor runs the producer-consumer pipeline over a filesystem capability.
type Ingestor struct {
	store    *store.Store
	embedder *embedding.Service
	bus      *notify.Bus
	fs       FileSystem
	clock    types.Clock
	defaults Options
}

// New creates an ingestor. bus and embedder may be nil; stages degrade
// accordingly (no events, entities tagged embedding_pending).
func New(s *store.Store, embedder *embedding.Service, bus *notify.Bus, fs FileSystem, clock types.Clock, defaults Options) *Ingestor {
	if fs == nil {
		fs = OSFileSystem{}
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if defaults.Workers <= 0 {
		defaults.Workers = 4
	}
	if defaults.ChannelCapacity <= 0 {
		defaults.ChannelCapacity = 256
	}
	return &Ingestor{store: s, embedder: embedder, bus: bus, fs: fs, clock: clock, defaults: defaults}
}

// Ingest runs the pipeline under root into a workspace and aggregates the
// outcome stream into a report. Per-file errors do not abort the run unless
// StrictErrors is set in opts or in the ingestor's defaults.
func (ing *Ingestor) Ingest(ctx context.Context, root string, wsID types.WorkspaceID, opts Options) (*Report, error) {
	start := ing.clock.Now()

	outcomes, err := ing.IngestStream(ctx, root, wsID, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for outcome := range outcomes {
		switch outcome.Status {
		case StatusSucceeded:
			report.Succeeded++
		case StatusSkipped:
			report.Skipped++
		case StatusFailed:
			report.Failed++
			report.Failures = append(report.Failures, Failure{Path: outcome.Path, Reason: outcome.Reason})
			if opts.StrictErrors || ing.defaults.StrictErrors {
				return report, types.ParseFailure(outcome.Path, outcome.Reason)
			}
		}
	}

	if ctx.Err() != nil {
		return report, types.Cancelled()
	}

	// Late resolution sweep: edges created before their targets
	// materialized get their unit ids filled in.
	if _, err := ing.store.ResolveDanglingDependencies(ctx, wsID); err != nil {
		logging.Get(logging.CategoryIngest).Warn("Dependency resolution sweep failed: %v", err)
	}

	report.Duration = ing.clock.Now().Sub(start)
	logging.Ingest("Run complete: %d succeeded, %d failed, %d skipped in %v",
		report.Succeeded, report.Failed, report.Skipped, report.Duration)
	return report, nil
}

// IngestStream runs the pipeline and returns the stream of per-file
// outcomes. The channel closes when the run completes or is cancelled;
// cancellation lets workers drain their current item, pending items are
// discarded.
func (ing *Ingestor) IngestStream(ctx context.Context, root string, wsID types.WorkspaceID, opts Options) (<-chan FileOutcome, error) {
	opts = ing.mergeDefaults(opts)

	budgetCancel := context.CancelFunc(func() {})
	if opts.RunBudget > 0 {
		ctx, budgetCancel = context.WithTimeout(ctx, opts.RunBudget)
	}

	logging.Ingest("Starting ingestion: root=%s workspace=%s workers=%d", root, wsID, opts.Workers)

	filter := NewContentFilter(opts.MinQualityScore)
	paths := make(chan string, opts.ChannelCapacity)
	outcomes := make(chan FileOutcome, opts.ChannelCapacity)

	// Producer: discovery honors the built-in ignore list plus the caller's
	// include/exclude sets; the bounded channel applies backpressure.
	go func() {
		defer close(paths)
		err := ing.fs.Walk(root, func(p string, isDir bool) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel := relPath(root, p)
			if isDir {
				if ShouldIgnoreDir(p) || !parser.Matches(rel, nil, opts.Exclude) {
					return filepath.SkipDir
				}
				return nil
			}
			if ShouldIgnoreFile(p) {
				return nil
			}
			if !parser.Matches(rel, opts.Include, opts.Exclude) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths <- p:
				return nil
			}
		})
		if err != nil && ctx.Err() == nil {
			logging.Get(logging.CategoryIngest).Warn("Discovery ended early: %v", err)
		}
	}()

	// Consumers: each worker drains its current item on cancel, then exits.
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range paths {
				outcome := ing.processFile(ctx, root, p, wsID, filter, opts)
				select {
				case outcomes <- outcome:
				case <-ctx.Done():
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
		budgetCancel()
	}()

	return outcomes, nil
}

// IngestFile runs the pipeline stages for a single file.
func (ing *Ingestor) IngestFile(ctx context.Context, filePath string, wsID types.WorkspaceID) (FileOutcome, error) {
	opts := ing.mergeDefaults(Options{})
	filter := NewContentFilter(opts.MinQualityScore)
	outcome := ing.processFile(ctx, filepath.Dir(filePath), filePath, wsID, filter, opts)
	return outcome, nil
}

func (ing *Ingestor) mergeDefaults(opts Options) Options {
	if opts.Workers <= 0 {
		opts.Workers = ing.defaults.Workers
	}
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = ing.defaults.ChannelCapacity
	}
	if opts.MinQualityScore <= 0 {
		opts.MinQualityScore = ing.defaults.MinQualityScore
	}
	if opts.PerFileBudget <= 0 {
		opts.PerFileBudget = ing.defaults.PerFileBudget
	}
	if opts.RunBudget <= 0 {
		opts.RunBudget = ing.defaults.RunBudget
	}
	return opts
}

func relPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = p
	}
	return filepath.ToSlash(rel)
}

// =============================================================================
// PER-FILE STAGES
// =============================================================================

// processFile runs filter -> parse -> extract -> persist -> embed -> emit
// for one file. Persistence order is vnode, code_unit, dependency,
// embedding; consumers may observe units before their edges resolve.
func (ing *Ingestor) processFile(ctx context.Context, root, filePath string, wsID types.WorkspaceID, filter *ContentFilter, opts Options) FileOutcome {
	timer := logging.StartTimer(logging.CategoryIngest, "processFile")
	defer timer.Stop()

	if opts.PerFileBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.PerFileBudget)
		defer cancel()
	}

	rel := relPath(root, filePath)

	content, err := ing.fs.ReadFile(filePath)
	if err != nil {
		return FileOutcome{Path: rel, Status: StatusFailed, Reason: "read failed: " + err.Error()}
	}

	contentHash := HashContent(content)
	if result := filter.ShouldAccept(content, contentHash); !result.Accepted {
		return FileOutcome{Path: rel, Status: StatusSkipped, Reason: strings.Join(result.Reasons, "; ")}
	}

	vn := &types.VirtualNode{
		WorkspaceID: wsID,
		Path:        rel,
		Kind:        types.VNodeFile,
		ContentHash: contentHash,
		Size:        int64(len(content)),
	}
	if err := ing.store.UpsertVNode(ctx, vn, content); err != nil {
		return FileOutcome{Path: rel, Status: StatusFailed, Reason: "vnode persist failed: " + err.Error()}
	}

	if IsDocumentationFile(filePath) {
		return ing.processDocFile(ctx, rel, vn, content, wsID)
	}

	lang, ok := parser.LanguageForPath(filePath)
	if !ok {
		return FileOutcome{Path: rel, Status: StatusSkipped, Reason: "unsupported language"}
	}

	pf, err := parser.ParseFileAs(ctx, rel, content, lang)
	if err != nil {
		if ctx.Err() != nil {
			return FileOutcome{Path: rel, Status: StatusFailed, Reason: "per-file budget expired"}
		}
		return FileOutcome{Path: rel, Status: StatusFailed, Reason: err.Error()}
	}

	units := unitsFromParse(pf, wsID, rel, string(lang), content)
	unitsByName := make(map[string]types.CodeUnitID, len(units))
	for i := range units {
		if err := ing.store.UpsertCodeUnit(ctx, &units[i]); err != nil {
			return FileOutcome{Path: rel, Status: StatusFailed, Reason: "unit persist failed: " + err.Error()}
		}
		unitsByName[units[i].QualifiedName] = units[i].ID
		unitsByName[units[i].Name] = units[i].ID
	}

	for _, raw := range parser.ExtractDependencies(pf) {
		sourceID, ok := unitsByName[raw.SourceName]
		if !ok {
			continue
		}
		dep := &types.Dependency{
			SourceUnitID: sourceID,
			Kind:         raw.Kind,
			IsDirect:     true,
		}
		if targetID, ok := unitsByName[raw.TargetName]; ok {
			if targetID == sourceID {
				continue
			}
			dep.TargetUnitID = targetID
		} else {
			dep.TargetName = raw.TargetName
		}
		if err := ing.store.CreateDependency(ctx, wsID, dep); err != nil {
			return FileOutcome{Path: rel, Status: StatusFailed, Reason: "dependency persist failed: " + err.Error()}
		}
	}

	ing.embedUnits(ctx, units)
	ing.emit(types.EventParseComplete, wsID, rel, len(units))
	ing.emit(types.EventCodeChanged, wsID, rel, len(units))

	return FileOutcome{Path: rel, Status: StatusSucceeded, Units: len(units)}
}

// processDocFile embeds a documentation file whole and attaches the vector
// to its vnode.
func (ing *Ingestor) processDocFile(ctx context.Context, rel string, vn *types.VirtualNode, content []byte, wsID types.WorkspaceID) FileOutcome {
	if ing.embedder != nil {
		vec, err := ing.embedder.Embed(ctx, string(content))
		if err != nil {
			logging.Get(logging.CategoryIngest).Warn("Doc embedding failed for %s: %v", rel, err)
		} else if err := ing.store.StoreEmbedding(ctx, "vnode", vn.ID.String(), vec); err != nil {
			return FileOutcome{Path: rel, Status: StatusFailed, Reason: "embedding persist failed: " + err.Error()}
		}
	}
	ing.emit(types.EventParseComplete, wsID, rel, 0)
	ing.emit(types.EventCodeChanged, wsID, rel, 0)
	return FileOutcome{Path: rel, Status: StatusSucceeded}
}

// embedUnits batches unit texts through the embedding service. A batch
// exhausting its retries leaves the affected units tagged
// embedding_pending instead of failing the file; without an embedder every
// unit is tagged.
func (ing *Ingestor) embedUnits(ctx context.Context, units []types.CodeUnit) {
	if len(units) == 0 {
		return
	}

	ids := make([]types.CodeUnitID, len(units))
	for i := range units {
		ids[i] = units[i].ID
	}
	if ing.embedder == nil {
		if err := ing.store.MarkEmbeddingPending(ctx, ids); err != nil {
			logging.Get(logging.CategoryIngest).Warn("Failed to tag embedding_pending: %v", err)
		}
		return
	}

	texts := make([]string, len(units))
	for i := range units {
		texts[i] = unitEmbeddingText(&units[i])
	}

	vecs, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(units) {
		logging.Get(logging.CategoryIngest).Warn("Embedding batch failed for %d units: %v", len(units), err)
		if err := ing.store.MarkEmbeddingPending(ctx, ids); err != nil {
			logging.Get(logging.CategoryIngest).Warn("Failed to tag embedding_pending: %v", err)
		}
		return
	}

	for i := range units {
		if err := ing.store.StoreEmbedding(ctx, "code_unit", units[i].ID.String(), vecs[i]); err != nil {
			logging.Get(logging.CategoryIngest).Warn("Embedding persist failed for %s: %v", units[i].ID, err)
		}
	}
}

// EmbedPending backfills embeddings for units whose earlier batches failed.
func (ing *Ingestor) EmbedPending(ctx context.Context, wsID types.WorkspaceID) (int, error) {
	if ing.embedder == nil {
		return 0, nil
	}

	units, err := ing.store.ListEmbeddingPending(ctx, wsID, 500)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range units {
		vec, err := ing.embedder.Embed(ctx, unitEmbeddingText(&units[i]))
		if err != nil {
			return done, types.EmbeddingFailure("backfill failed", err)
		}
		if err := ing.store.StoreEmbedding(ctx, "code_unit", units[i].ID.String(), vec); err != nil {
			return done, err
		}
		if err := ing.store.ClearEmbeddingPending(ctx, units[i].ID); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (ing *Ingestor) emit(eventType types.EventType, wsID types.WorkspaceID, path string, units int) {
	if ing.bus == nil {
		return
	}
	ing.bus.Notify(types.Event{
		Type:        eventType,
		Severity:    types.SeverityInfo,
		WorkspaceID: wsID,
		Path:        path,
		Payload: map[string]types.OpaqueValue{
			"units": types.Int(int64(units)),
		},
		Timestamp: ing.clock.Now(),
	})
}

// unitEmbeddingText selects the embedded representation of a unit:
// signature + docstring + bounded body prefix.
func unitEmbeddingText(u *types.CodeUnit) string {
	text := u.Signature
	if u.Docstring != "" {
		text += "\n" + u.Docstring
	}
	if u.Body != "" {
		body := u.Body
		if len(body) > 2000 {
			body = body[:2000]
		}
		text += "\n" + body
	}
	return text
}

// =============================================================================
// UNIT MAPPING
// =============================================================================

// unitsFromParse maps a ParsedFile's constructs onto CodeUnit entities.
func unitsFromParse(pf *parser.ParsedFile, wsID types.WorkspaceID, rel, lang string, content []byte) []types.CodeUnit {
	isTestFile := strings.Contains(path.Base(rel), "_test.") ||
		strings.HasPrefix(path.Base(rel), "test_") ||
		strings.Contains(rel, "/tests/")

	var units []types.CodeUnit

	addItem := func(item parser.Item, unitType types.UnitType, build func(u *types.CodeUnit)) {
		u := types.CodeUnit{
			WorkspaceID:      wsID,
			FilePath:         rel,
			UnitType:         unitType,
			Name:             item.Name,
			QualifiedName:    item.QualifiedName,
			DisplayName:      item.DisplayName,
			Language:         lang,
			Span:             item.Span,
			Signature:        item.Signature,
			Docstring:        item.Docstring,
			Attributes:       item.Attributes,
			Visibility:       item.Visibility,
			IsExported:       item.Visibility == types.VisibilityPublic,
			HasTests:         isTestFile,
			HasDocumentation: item.Docstring != "",
			ContentHash:      spanHash(content, item.Span),
		}
		if build != nil {
			build(&u)
		}
		units = append(units, u)
	}

	for _, fn := range pf.Functions {
		unitType := types.UnitFunction
		if fn.IsMethod {
			unitType = types.UnitMethod
		} else if fn.IsAsync {
			unitType = types.UnitAsyncFunction
		}
		f := fn
		addItem(fn.Item, unitType, func(u *types.CodeUnit) {
			u.Parameters = f.Parameters
			u.ReturnType = f.ReturnType
			u.TypeParameters = f.TypeParameters
			u.IsAsync = f.IsAsync
			u.IsUnsafe = f.IsUnsafe
			u.Body = f.Body
			u.Complexity = f.Complexity
		})
	}
	for _, s := range pf.Structs {
		addItem(s.Item, s.Kind, nil)
	}
	for _, t := range pf.Traits {
		addItem(t.Item, t.Kind, nil)
	}
	for _, e := range pf.Enums {
		addItem(e.Item, e.Kind, nil)
	}
	for _, m := range pf.Modules {
		addItem(m.Item, types.UnitModule, nil)
	}
	return units
}

func spanHash(content []byte, span types.Span) string {
	start, end := span.StartByte, span.EndByte
	if start < 0 || end > len(content) || start >= end {
		return HashContent(content)
	}
	return HashContent(content[start:end])
}
