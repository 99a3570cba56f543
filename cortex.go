// Package cortex is the cognitive code-knowledge engine: a persistent,
// queryable substrate that ingests source repositories, parses them into
// structured program entities, stores those entities with embeddings and
// typed cross-references, and serves semantic, structural and temporal
// queries.
//
// The Engine is the library-level API surface. Collaborators inject the
// embedding provider, clock and filesystem capabilities; everything else is
// wired internally.
package cortex

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ry-ht/cortex/internal/config"
	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/ingest"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/memory"
	"github.com/ry-ht/cortex/internal/notify"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/search"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// Re-exported entity and capability types: the public names of the engine's
// data model.
type (
	Workspace   = types.Workspace
	VirtualNode = types.VirtualNode
	CodeUnit    = types.CodeUnit
	Dependency  = types.Dependency
	Episode     = types.Episode
	Pattern     = types.Pattern
	Event       = types.Event
	OpaqueValue = types.OpaqueValue
	Clock       = types.Clock

	WorkspaceID = types.WorkspaceID
	CodeUnitID  = types.CodeUnitID
	EpisodeID   = types.EpisodeID
	PatternID   = types.PatternID

	EmbeddingEngine = embedding.Engine
	FileSystem      = ingest.FileSystem

	IngestReport   = ingest.Report
	FileOutcome    = ingest.FileOutcome
	IngestOptions  = ingest.Options
	GraphUnit      = store.GraphUnit
	ScoredUnit     = store.ScoredUnit
	ScoredEpisode  = store.ScoredEpisode
	ScoredPattern  = store.ScoredPattern
	SymbolSnapshot = store.SymbolSnapshot
	UnitFilter     = store.UnitFilter
	MemoryStats    = memory.Stats
	RecallQuery    = memory.RecallQuery
	Consolidation  = memory.ConsolidationReport
	TextResult     = search.TextResult
	Reference      = search.Reference
	PatternMatch   = search.PatternResponse
	HistoryFilter  = notify.HistoryFilter
	Config         = config.Config
)

// Options configures engine construction. Config may be nil (defaults);
// Embedder may be nil (entities persist tagged embedding_pending and
// semantic search is unavailable).
type Options struct {
	Config     *config.Config
	Embedder   embedding.Engine
	Clock      types.Clock
	FileSystem ingest.FileSystem
	// WorkspaceDir roots the .cortex dot-directory (logs, default DB path).
	WorkspaceDir string
}

// Engine wires the subsystems behind the library API.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	embedder *embedding.Service
	memory   *memory.Manager
	ingestor *ingest.Ingestor
	search   *search.Service
	bus      *notify.Bus
	clock    types.Clock
}

// LoadConfig reads .cortex/config.yaml under dir, with defaults and env
// overrides applied.
func LoadConfig(dir string) (*config.Config, error) {
	return config.Load(filepath.Join(dir, ".cortex", "config.yaml"))
}

// New constructs the engine.
func New(opts Options) (*Engine, error) {
	if opts.WorkspaceDir != "" {
		if err := logging.Initialize(opts.WorkspaceDir); err != nil {
			return nil, err
		}
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.InvalidInput(err.Error())
	}

	clock := opts.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}

	storeOpts := store.Options{
		Backend:          pool.Backend(cfg.Storage.Backend),
		Path:             cfg.Storage.Path,
		Pool:             poolConfig(cfg.Pool),
		Clock:            clock,
		FallbackInMemory: cfg.Storage.FallbackInMemory,
	}
	if opts.WorkspaceDir != "" && !filepath.IsAbs(storeOpts.Path) {
		storeOpts.Path = filepath.Join(opts.WorkspaceDir, storeOpts.Path)
	}
	// Environment hooks override the configured backend selection when set.
	envOpts := store.OptionsFromEnv(storeOpts.Path)
	if v := os.Getenv("STORAGE_BACKEND"); v == string(pool.BackendPersistent) || v == string(pool.BackendInMemory) {
		storeOpts.Backend = pool.Backend(v)
	}
	if envOpts.FallbackInMemory {
		storeOpts.FallbackInMemory = true
	}

	st, err := store.Open(storeOpts)
	if err != nil {
		return nil, err
	}

	var embedSvc *embedding.Service
	if opts.Embedder != nil {
		embedSvc = embedding.NewService(opts.Embedder, embedding.ServiceConfig{
			BatchSize:     cfg.Embedding.BatchSize,
			MaxTextLength: cfg.Embedding.MaxTextLength,
			CacheTTL:      cfg.Embedding.CacheTTL,
		})
	}

	bus := notify.NewBus(notify.Config{
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
		HistorySize:      cfg.Events.HistorySize,
	})

	mem := memory.NewManager(st, embedSvc, memory.Config{
		WorkingMaxItems: cfg.Memory.WorkingMaxItems,
		WorkingMaxBytes: cfg.Memory.WorkingMaxBytes,
		Consolidation: memory.ConsolidationConfig{
			BatchSize:           cfg.Memory.Consolidation.BatchSize,
			CoOccurrenceMin:     cfg.Memory.Consolidation.CoOccurrenceMin,
			SimilarityThreshold: cfg.Memory.Consolidation.SimilarityThreshold,
			MergeThreshold:      cfg.Memory.Consolidation.MergeThreshold,
			DecayRate:           0.01,
		},
	}, clock)

	ingestor := ingest.New(st, embedSvc, bus, opts.FileSystem, clock, ingest.Options{
		Workers:         cfg.Ingest.Workers,
		ChannelCapacity: cfg.Ingest.ChannelCapacity,
		StrictErrors:    !cfg.Ingest.GracefulErrors,
		MinQualityScore: cfg.Ingest.MinQualityScore,
		PerFileBudget:   cfg.Ingest.PerFileBudget,
		RunBudget:       cfg.Ingest.RunBudget,
	})

	logging.Boot("Engine ready: backend=%s embedder=%t", cfg.Storage.Backend, embedSvc != nil)

	return &Engine{
		cfg:      cfg,
		store:    st,
		embedder: embedSvc,
		memory:   mem,
		ingestor: ingestor,
		search:   search.NewService(st, embedSvc),
		bus:      bus,
		clock:    clock,
	}, nil
}

func poolConfig(pc config.PoolConfig) pool.Config {
	return pool.Config{
		Min:                 pc.Min,
		Max:                 pc.Max,
		ConnectionTimeout:   pc.ConnectionTimeout,
		IdleTimeout:         pc.IdleTimeout,
		MaxLifetime:         pc.MaxLifetime,
		WarmOnStart:         pc.WarmOnStart,
		ValidateOnCheckout:  pc.ValidateOnCheckout,
		RecycleAfterUses:    pc.RecycleAfterUses,
		ShutdownGracePeriod: pc.ShutdownGracePeriod,
		MaxRetries:          pc.MaxRetries,
		CooldownPeriod:      pc.CooldownPeriod,
		ErrorRateThreshold:  pc.ErrorRateThreshold,
	}
}

// Close shuts the engine down: bus first so subscribers drain, then the
// store's pool.
func (e *Engine) Close() error {
	e.bus.Close()
	err := e.store.Close()
	logging.CloseAll()
	return err
}

// Store exposes the entity store for advanced callers.
func (e *Engine) Store() *store.Store { return e.store }

// Memory exposes the cognitive memory manager.
func (e *Engine) Memory() *memory.Manager { return e.memory }

// =============================================================================
// WORKSPACE LIFECYCLE
// =============================================================================

// CreateWorkspace registers a workspace; (namespace, name) is unique.
func (e *Engine) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	return e.store.UpsertWorkspace(ctx, ws)
}

// GetWorkspace reads a workspace by id.
func (e *Engine) GetWorkspace(ctx context.Context, id WorkspaceID) (*Workspace, error) {
	return e.store.GetWorkspace(ctx, id)
}

// ListWorkspaces lists all workspaces.
func (e *Engine) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return e.store.ListWorkspaces(ctx)
}

// DeleteWorkspace removes a workspace, cascading to everything it owns.
func (e *Engine) DeleteWorkspace(ctx context.Context, id WorkspaceID) error {
	return e.store.DeleteWorkspace(ctx, id)
}

// =============================================================================
// INGESTION
// =============================================================================

// Ingest runs the pipeline under root into a workspace.
func (e *Engine) Ingest(ctx context.Context, root string, wsID WorkspaceID, opts IngestOptions) (*IngestReport, error) {
	return e.ingestor.Ingest(ctx, root, wsID, opts)
}

// IngestStream runs the pipeline and streams per-file outcomes.
func (e *Engine) IngestStream(ctx context.Context, root string, wsID WorkspaceID, opts IngestOptions) (<-chan FileOutcome, error) {
	return e.ingestor.IngestStream(ctx, root, wsID, opts)
}

// IngestFile ingests a single file.
func (e *Engine) IngestFile(ctx context.Context, path string, wsID WorkspaceID) (FileOutcome, error) {
	return e.ingestor.IngestFile(ctx, path, wsID)
}

// Watch re-ingests files under root as they change, until ctx ends.
func (e *Engine) Watch(ctx context.Context, root string, wsID WorkspaceID) error {
	return ingest.NewWatcher(e.ingestor, root, wsID).Watch(ctx)
}

// EmbedPending backfills embeddings for entities whose batches failed.
func (e *Engine) EmbedPending(ctx context.Context, wsID WorkspaceID) (int, error) {
	return e.ingestor.EmbedPending(ctx, wsID)
}

// =============================================================================
// READS
// =============================================================================

// ListCodeUnits pages through a workspace's units.
func (e *Engine) ListCodeUnits(ctx context.Context, wsID WorkspaceID, filter UnitFilter, limit int, cursor string) ([]CodeUnit, string, error) {
	return e.store.ListCodeUnits(ctx, wsID, filter, limit, cursor)
}

// CountUnits returns the workspace's unit total.
func (e *Engine) CountUnits(ctx context.Context, wsID WorkspaceID) (int, error) {
	return e.store.CountUnits(ctx, wsID)
}

// GetCodeUnit reads one unit by id.
func (e *Engine) GetCodeUnit(ctx context.Context, id CodeUnitID) (*CodeUnit, error) {
	return e.store.GetCodeUnit(ctx, id)
}

// GetSymbolFull returns the unit plus incident edges plus docs plus lineage.
func (e *Engine) GetSymbolFull(ctx context.Context, id CodeUnitID) (*SymbolSnapshot, error) {
	return e.store.GetSymbolFull(ctx, id)
}

// FindReferences lists the sites pointing at a unit.
func (e *Engine) FindReferences(ctx context.Context, id CodeUnitID) ([]Reference, error) {
	return e.search.References(ctx, id)
}

// Dependencies runs a bounded BFS over depends_on (depth in [1,10]).
func (e *Engine) Dependencies(ctx context.Context, id CodeUnitID, depth int) ([]GraphUnit, error) {
	return e.store.Dependencies(ctx, id, depth)
}

// Dependents returns the reverse-dependency closure of a unit.
func (e *Engine) Dependents(ctx context.Context, id CodeUnitID) ([]GraphUnit, error) {
	return e.store.Dependents(ctx, id)
}

// CallGraph returns the callees reachable from a unit.
func (e *Engine) CallGraph(ctx context.Context, id CodeUnitID, depth int) ([]GraphUnit, error) {
	return e.store.CallGraph(ctx, id, depth)
}

// Callers returns the direct callers of a unit.
func (e *Engine) Callers(ctx context.Context, id CodeUnitID) ([]GraphUnit, error) {
	return e.store.Callers(ctx, id)
}

// ImpactAnalysis computes the union of dependents closures of the units.
func (e *Engine) ImpactAnalysis(ctx context.Context, ids []CodeUnitID) ([]GraphUnit, error) {
	return e.store.Impact(ctx, ids)
}

// Cycles enumerates dependency cycles up to maxLength.
func (e *Engine) Cycles(ctx context.Context, wsID WorkspaceID, maxLength int) ([][]GraphUnit, error) {
	return e.store.Cycles(ctx, wsID, maxLength)
}

// Hubs returns the most-connected units.
func (e *Engine) Hubs(ctx context.Context, wsID WorkspaceID, limit int) ([]GraphUnit, error) {
	return e.store.Hubs(ctx, wsID, limit)
}

// Leaves returns units with no outgoing dependencies.
func (e *Engine) Leaves(ctx context.Context, wsID WorkspaceID, limit int) ([]GraphUnit, error) {
	return e.store.Leaves(ctx, wsID, limit)
}

// Roots returns units with no incoming dependencies.
func (e *Engine) Roots(ctx context.Context, wsID WorkspaceID, limit int) ([]GraphUnit, error) {
	return e.store.Roots(ctx, wsID, limit)
}

// ComplexSymbols returns units whose complexity score exceeds the threshold.
func (e *Engine) ComplexSymbols(ctx context.Context, wsID WorkspaceID, threshold float64, limit int) ([]CodeUnit, error) {
	return e.store.ComplexSymbols(ctx, wsID, threshold, limit)
}

// UntestedSymbols returns units below the coverage threshold.
func (e *Engine) UntestedSymbols(ctx context.Context, wsID WorkspaceID, threshold float64, limit int) ([]CodeUnit, error) {
	return e.store.UntestedSymbols(ctx, wsID, threshold, limit)
}

// CodeLineage returns the episodes that reference a unit, newest first.
func (e *Engine) CodeLineage(ctx context.Context, id CodeUnitID) ([]Episode, error) {
	return e.store.CodeLineage(ctx, id)
}

// GraphStats returns workspace-wide graph totals.
func (e *Engine) GraphStats(ctx context.Context, wsID WorkspaceID) (store.GraphTotals, error) {
	return e.store.GraphStats(ctx, wsID)
}

// SemanticSearch embeds the query and ranks units by similarity.
func (e *Engine) SemanticSearch(ctx context.Context, wsID WorkspaceID, query string, opts search.SemanticOptions) ([]ScoredUnit, error) {
	return e.search.Semantic(ctx, wsID, query, opts)
}

// TextSearch runs substring/prefix matching with snippets.
func (e *Engine) TextSearch(ctx context.Context, wsID WorkspaceID, query string, target search.TextTarget, limit int) ([]TextResult, error) {
	return e.search.Text(ctx, wsID, query, target, limit)
}

// PatternSearch runs a structural query over stored ASTs.
func (e *Engine) PatternSearch(ctx context.Context, wsID WorkspaceID, astPattern, language string, limit int) (*PatternMatch, error) {
	return e.search.Pattern(ctx, wsID, astPattern, language, limit)
}

// =============================================================================
// WRITES
// =============================================================================

// UpdateCodeUnit applies an optimistic update to a unit's body and/or
// docstring; a stale expected version fails with Conflict.
func (e *Engine) UpdateCodeUnit(ctx context.Context, id CodeUnitID, newBody, newDocstring *string, expectedVersion int64) (*CodeUnit, error) {
	return e.store.UpdateCodeUnit(ctx, id, newBody, newDocstring, expectedVersion)
}

// =============================================================================
// MEMORY
// =============================================================================

// RememberEpisode stores a new episode.
func (e *Engine) RememberEpisode(ctx context.Context, episode *Episode) (EpisodeID, error) {
	return e.memory.RememberEpisode(ctx, episode)
}

// RecallEpisodes retrieves similar episodes; recalled importance is boosted.
func (e *Engine) RecallEpisodes(ctx context.Context, q RecallQuery) ([]ScoredEpisode, error) {
	if e.embedder == nil {
		return nil, types.EmbeddingFailure("no embedding provider configured", nil)
	}
	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, types.EmbeddingFailure("query embedding failed", err)
	}
	return e.memory.RecallEpisodes(ctx, q, vec)
}

// RememberPattern stores a learned pattern.
func (e *Engine) RememberPattern(ctx context.Context, p *Pattern) (PatternID, error) {
	return e.memory.RememberPattern(ctx, p)
}

// RecallPatterns retrieves similar patterns.
func (e *Engine) RecallPatterns(ctx context.Context, query string, limit int, minSimilarity float64) ([]ScoredPattern, error) {
	if e.embedder == nil {
		return nil, types.EmbeddingFailure("no embedding provider configured", nil)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.EmbeddingFailure("query embedding failed", err)
	}
	return e.memory.RecallPatterns(ctx, vec, limit, minSimilarity)
}

// Forget deletes low-importance stale episodes; returns the deleted count.
func (e *Engine) Forget(ctx context.Context, threshold float64) (int, error) {
	return e.memory.Forget(ctx, threshold)
}

// Consolidate runs a full dream pass: promote episodes into patterns, merge
// near-duplicate patterns, decay stale memories.
func (e *Engine) Consolidate(ctx context.Context) (Consolidation, error) {
	return e.memory.Consolidate(ctx)
}

// ConsolidateIncremental runs one bounded consolidation batch.
func (e *Engine) ConsolidateIncremental(ctx context.Context, batchSize int) (Consolidation, error) {
	return e.memory.ConsolidateIncremental(ctx, batchSize)
}

// MemoryStats aggregates per-layer memory statistics.
func (e *Engine) MemoryStats(ctx context.Context, wsID WorkspaceID) (MemoryStats, error) {
	return e.memory.Stats(ctx, wsID)
}

// =============================================================================
// EVENTS
// =============================================================================

// Subscribe registers an event receiver; the publisher never blocks on it.
func (e *Engine) Subscribe(id string) <-chan Event {
	return e.bus.Subscribe(id)
}

// Unsubscribe removes a receiver.
func (e *Engine) Unsubscribe(id string) {
	e.bus.Unsubscribe(id)
}

// History returns retained events, newest first.
func (e *Engine) History(filter HistoryFilter) []Event {
	return e.bus.History(filter)
}
