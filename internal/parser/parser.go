package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// =============================================================================
// PARSE MODEL
// =============================================================================

// Item carries the fields shared by every extracted construct.
type Item struct {
	Name          string
	QualifiedName string
	DisplayName   string
	Span          types.Span
	Signature     string
	Docstring     string
	Attributes    []string
	Visibility    types.Visibility
}

// Function is an extracted function or method.
type Function struct {
	Item
	Parameters     []types.Parameter
	ReturnType     string
	TypeParameters []string
	IsAsync        bool
	IsUnsafe       bool
	IsMethod       bool
	Receiver       string
	Body           string
	Complexity     types.Complexity
	// Calls and UsedTypes hold best-effort referenced names for the
	// dependency extractor.
	Calls     []string
	UsedTypes []string
}

// TypeDecl is an extracted struct/class/trait/interface/enum/type alias.
type TypeDecl struct {
	Item
	Kind   types.UnitType
	Fields []types.Parameter
}

// Impl is an extracted implementation block (Rust impl, future use for
// extension-like constructs elsewhere).
type Impl struct {
	Item
	TypeName  string
	TraitName string
}

// Module is an extracted module or namespace declaration.
type Module struct {
	Item
}

// Import is a single import/use declaration.
type Import struct {
	Path  string
	Alias string
	Span  types.Span
}

// ParsedFile is the result of parsing one source file. A syntax error yields
// a partial result with HasError set and whatever subtrees were usable.
type ParsedFile struct {
	Path      string
	Language  Language
	Functions []Function
	Structs   []TypeDecl
	Traits    []TypeDecl
	Enums     []TypeDecl
	Impls     []Impl
	Modules   []Module
	Imports   []Import
	HasError  bool
}

// UnitCount returns the number of extracted semantic units.
func (pf *ParsedFile) UnitCount() int {
	return len(pf.Functions) + len(pf.Structs) + len(pf.Traits) +
		len(pf.Enums) + len(pf.Modules)
}

// =============================================================================
// PARSING
// =============================================================================

// ParseFile parses a UTF-8 source file of a known language into a
// ParsedFile. It never panics: unparseable regions are skipped and flagged.
func ParseFile(ctx context.Context, path string, source []byte) (*ParsedFile, error) {
	lang, ok := LanguageForPath(path)
	if !ok {
		return nil, types.ParseFailure(path, "unsupported language")
	}
	return ParseFileAs(ctx, path, source, lang)
}

// ParseFileAs parses source with an explicit language tag.
func ParseFileAs(ctx context.Context, path string, source []byte, lang Language) (*ParsedFile, error) {
	timer := logging.StartTimer(logging.CategoryParser, "ParseFile")
	defer timer.Stop()

	g := grammar(lang)
	if g == nil {
		return nil, types.ParseFailure(path, fmt.Sprintf("no grammar for language %q", lang))
	}

	p := sharedParsers.checkout(lang)
	defer sharedParsers.checkin(lang, p)

	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, types.ParseFailure(path, err.Error())
	}
	defer tree.Close()

	root := tree.RootNode()
	pf := &ParsedFile{
		Path:     path,
		Language: lang,
		HasError: root.HasError(),
	}

	ex := &extractor{pf: pf, source: source, lang: lang}
	ex.walk(root, nil)

	logging.ParserDebug("Parsed %s (%s): %d units, %d imports, has_error=%t",
		path, lang, pf.UnitCount(), len(pf.Imports), pf.HasError)
	return pf, nil
}

// =============================================================================
// SHARED NODE HELPERS
// =============================================================================

func nodeText(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(source)
}

func spanOf(n *sitter.Node) types.Span {
	start := n.StartPoint()
	end := n.EndPoint()
	return types.Span{
		StartLine: int(start.Row) + 1,
		EndLine:   int(end.Row) + 1,
		StartCol:  int(start.Column),
		EndCol:    int(end.Column),
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
	}
}

// firstLine returns the declaration line of a node, trimmed at the body.
func firstLine(n *sitter.Node, source []byte) string {
	text := nodeText(n, source)
	if idx := strings.IndexAny(text, "{\n"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// exportedByCase reports Go-style visibility from an identifier's first rune.
func exportedByCase(name string) bool {
	return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z'
}
