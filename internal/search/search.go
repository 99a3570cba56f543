package search

import (
	"context"
	"strings"

	"github.com/ry-ht/cortex/internal/embedding"
	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/parser"
	"github.com/ry-ht/cortex/internal/store"
	"github.com/ry-ht/cortex/internal/types"
)

// Service fans queries out to the store (graph/vector) and embedding
// service.
type Service struct {
	store    *store.Store
	embedder *embedding.Service
}

// NewService creates the search façade.
func NewService(s *store.Store, embedder *embedding.Service) *Service {
	return &Service{store: s, embedder: embedder}
}

// =============================================================================
// SEMANTIC SEARCH
// =============================================================================

// SemanticOptions tunes a semantic query.
type SemanticOptions struct {
	MinSimilarity float64
	Limit         int
	Language      string
}

// Semantic embeds the query text and ranks stored units by cosine
// similarity.
func (s *Service) Semantic(ctx context.Context, wsID types.WorkspaceID, query string, opts SemanticOptions) ([]store.ScoredUnit, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Semantic")
	defer timer.Stop()

	if s.embedder == nil {
		return nil, types.EmbeddingFailure("no embedding provider configured", nil)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.EmbeddingFailure("query embedding failed", err)
	}

	scored, err := s.store.SemanticSearchUnits(ctx, wsID, queryVec, opts.Limit*2, opts.MinSimilarity)
	if err != nil {
		return nil, err
	}

	var out []store.ScoredUnit
	for _, su := range scored {
		if opts.Language != "" && su.Unit.Language != opts.Language {
			continue
		}
		out = append(out, su)
		if len(out) >= opts.Limit {
			break
		}
	}

	logging.SearchDebug("Semantic query %q returned %d hits", query, len(out))
	return out, nil
}

// =============================================================================
// TEXT SEARCH
// =============================================================================

// TextTarget selects what a text query searches over.
type TextTarget string

const (
	TargetCodeUnits TextTarget = "code_units"
	TargetPatterns  TextTarget = "patterns"
)

// TextResult is one substring/prefix hit with its context snippet.
type TextResult struct {
	UnitID    types.CodeUnitID `json:"unit_id,omitempty"`
	PatternID types.PatternID  `json:"pattern_id,omitempty"`
	Name      string           `json:"name"`
	FilePath  string           `json:"file_path,omitempty"`
	Snippet   string           `json:"snippet"`
}

// Text runs a substring/prefix match over code units or patterns with
// snippet extraction around each match site.
func (s *Service) Text(ctx context.Context, wsID types.WorkspaceID, query string, target TextTarget, limit int) ([]TextResult, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Text")
	defer timer.Stop()

	if strings.TrimSpace(query) == "" {
		return nil, types.InvalidInput("text query must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	switch target {
	case TargetPatterns:
		return s.textPatterns(ctx, query, limit)
	default:
		return s.textUnits(ctx, wsID, query, limit)
	}
}

func (s *Service) textUnits(ctx context.Context, wsID types.WorkspaceID, query string, limit int) ([]TextResult, error) {
	// Paged scan keeps memory flat on large workspaces.
	var out []TextResult
	cursor := ""
	lowered := strings.ToLower(query)

	for len(out) < limit {
		units, next, err := s.store.ListCodeUnits(ctx, wsID, store.UnitFilter{}, 200, cursor)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			haystack := u.QualifiedName + "\n" + u.Signature + "\n" + u.Body
			if !strings.Contains(strings.ToLower(haystack), lowered) &&
				!strings.HasPrefix(strings.ToLower(u.Name), lowered) {
				continue
			}
			out = append(out, TextResult{
				UnitID:   u.ID,
				Name:     u.QualifiedName,
				FilePath: u.FilePath,
				Snippet:  SnippetAround(haystack, query),
			})
			if len(out) >= limit {
				break
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *Service) textPatterns(ctx context.Context, query string, limit int) ([]TextResult, error) {
	patterns, err := s.store.ListPatterns(ctx, 0)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(query)
	var out []TextResult
	for _, p := range patterns {
		haystack := p.Name + "\n" + p.Context + "\n" + p.Solution
		if !strings.Contains(strings.ToLower(haystack), lowered) {
			continue
		}
		out = append(out, TextResult{
			PatternID: p.ID,
			Name:      p.Name,
			Snippet:   SnippetAround(haystack, query),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// REFERENCES
// =============================================================================

// Reference is one site pointing at a unit, with surrounding context.
type Reference struct {
	SourceUnitID types.CodeUnitID     `json:"source_unit_id"`
	SourceName   string               `json:"source_name"`
	FilePath     string               `json:"file_path"`
	Kind         types.DependencyKind `json:"kind"`
	Context      string               `json:"context"`
}

// References lists the units pointing at a target with snippets of the
// referencing code.
func (s *Service) References(ctx context.Context, unitID types.CodeUnitID) ([]Reference, error) {
	timer := logging.StartTimer(logging.CategorySearch, "References")
	defer timer.Stop()

	target, err := s.store.GetCodeUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	incoming, err := s.store.ListDependents(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	var out []Reference
	for _, dep := range incoming {
		source, err := s.store.GetCodeUnit(ctx, dep.SourceUnitID)
		if err != nil {
			continue
		}
		out = append(out, Reference{
			SourceUnitID: source.ID,
			SourceName:   source.QualifiedName,
			FilePath:     source.FilePath,
			Kind:         dep.Kind,
			Context:      SnippetAround(source.Body, target.Name),
		})
	}
	return out, nil
}

// =============================================================================
// PATTERN (STRUCTURAL) SEARCH
// =============================================================================

// PatternResult is one structural match.
type PatternResult struct {
	Unit    types.CodeUnit `json:"unit"`
	Snippet string         `json:"snippet"`
}

// PatternResponse carries matches plus the degradation flag: when the AST
// shape of the pattern cannot be derived, matching falls back to substring
// search and Degraded is set.
type PatternResponse struct {
	Results  []PatternResult `json:"results"`
	Degraded bool            `json:"degraded"`
}

// Pattern runs a tree-pattern match of astPattern over the stored units of
// a workspace.
func (s *Service) Pattern(ctx context.Context, wsID types.WorkspaceID, astPattern, language string, limit int) (*PatternResponse, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Pattern")
	defer timer.Stop()

	if limit <= 0 {
		limit = 20
	}

	shape := patternShape(ctx, astPattern, language)
	degraded := shape == nil

	resp := &PatternResponse{Degraded: degraded}
	cursor := ""
	filter := store.UnitFilter{Language: language}

	for len(resp.Results) < limit {
		units, next, err := s.store.ListCodeUnits(ctx, wsID, filter, 200, cursor)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			if u.Body == "" {
				continue
			}

			matched := false
			if degraded {
				matched = strings.Contains(u.Body, astPattern)
			} else {
				matched = matchesShape(ctx, &u, shape)
			}
			if !matched {
				continue
			}

			resp.Results = append(resp.Results, PatternResult{
				Unit:    u,
				Snippet: SnippetAround(u.Body, firstShapeToken(astPattern)),
			})
			if len(resp.Results) >= limit {
				break
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return resp, nil
}

// patternShape parses the pattern snippet and flattens its named node kinds
// into a sequence; nil means the shape could not be derived.
func patternShape(ctx context.Context, astPattern, language string) []string {
	if language == "" {
		return nil
	}
	pf, err := parser.ParseFileAs(ctx, "pattern"+extensionFor(language), []byte(astPattern), parser.Language(language))
	if err != nil || pf.HasError || pf.UnitCount() == 0 {
		return nil
	}

	// The shape is the ordered unit-kind sequence of the pattern.
	var shape []string
	for _, fn := range pf.Functions {
		shape = append(shape, "function:"+fn.Name)
	}
	for _, st := range pf.Structs {
		shape = append(shape, string(st.Kind)+":"+st.Name)
	}
	if len(shape) == 0 {
		return nil
	}
	return shape
}

// matchesShape re-parses a candidate unit and checks that every element of
// the pattern's shape is present in it; their order is not checked.
func matchesShape(ctx context.Context, u *types.CodeUnit, shape []string) bool {
	pf, err := parser.ParseFileAs(ctx, u.FilePath, []byte(u.Signature+" "+u.Body), parser.Language(u.Language))
	if err != nil {
		return false
	}

	have := map[string]bool{}
	for _, fn := range pf.Functions {
		have["function:"+fn.Name] = true
		have["function:*"] = true
	}
	for _, st := range pf.Structs {
		have[string(st.Kind)+":"+st.Name] = true
	}

	for _, want := range shape {
		// A function element matches any function of the candidate (via
		// function:*); other kinds match by kind and name.
		kind := want[:strings.Index(want, ":")]
		if !have[want] && !have[kind+":*"] {
			return false
		}
	}
	return true
}

func firstShapeToken(astPattern string) string {
	fields := strings.Fields(astPattern)
	for _, f := range fields {
		trimmed := strings.Trim(f, "(){};,")
		if len(trimmed) > 2 {
			return trimmed
		}
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return astPattern
}

func extensionFor(language string) string {
	switch parser.Language(language) {
	case parser.LangRust:
		return ".rs"
	case parser.LangPython:
		return ".py"
	case parser.LangTypeScript:
		return ".ts"
	case parser.LangTSX:
		return ".tsx"
	case parser.LangJavaScript:
		return ".js"
	case parser.LangJSX:
		return ".jsx"
	case parser.LangGo:
		return ".go"
	case parser.LangJava:
		return ".java"
	case parser.LangKotlin:
		return ".kt"
	case parser.LangCpp:
		return ".cpp"
	}
	return ""
}
