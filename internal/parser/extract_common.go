package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/types"
)

// item builds the shared fields for a construct rooted at n.
func (ex *extractor) item(n *sitter.Node, name string) Item {
	qualified := ex.qualify(name)
	return Item{
		Name:          name,
		QualifiedName: qualified,
		DisplayName:   qualified,
		Span:          spanOf(n),
		Signature:     firstLine(n, ex.source),
		Docstring:     ex.precedingDocComment(n),
		Visibility:    ex.visibilityOf(n, name),
	}
}

// addFunction extracts a function/method and appends it. Returns a pointer to
// a copy for callers that post-process; they must write it back themselves.
func (ex *extractor) addFunction(n *sitter.Node, nameNode, paramsNode, returnNode, bodyNode *sitter.Node, isMethod bool) *Function {
	name := nodeText(nameNode, ex.source)
	if name == "" {
		return nil
	}

	sig := firstLine(n, ex.source)
	fn := Function{
		Item:       ex.item(n, name),
		Parameters: ex.parametersFrom(paramsNode),
		ReturnType: cleanReturnType(nodeText(returnNode, ex.source)),
		IsAsync:    strings.Contains(sig, "async ") || strings.HasPrefix(sig, "async"),
		IsUnsafe:   strings.Contains(sig, "unsafe "),
		IsMethod:   isMethod,
	}
	if bodyNode != nil {
		fn.Body = nodeText(bodyNode, ex.source)
	}

	fn.Complexity = computeComplexity(n, bodyNode, ex.lang, ex.source, len(fn.Parameters))
	fn.Calls, fn.UsedTypes = collectRefs(bodyNode, ex.lang, ex.source)

	ex.pf.Functions = append(ex.pf.Functions, fn)
	return &ex.pf.Functions[len(ex.pf.Functions)-1]
}

// addTypeDecl extracts a type-like declaration and appends it to the right
// bucket. Returns the stored declaration.
func (ex *extractor) addTypeDecl(n *sitter.Node, nameNode *sitter.Node, kind types.UnitType) *TypeDecl {
	name := nodeText(nameNode, ex.source)
	if name == "" {
		return nil
	}

	decl := TypeDecl{Item: ex.item(n, name), Kind: kind}

	switch kind {
	case types.UnitTrait, types.UnitInterface:
		ex.pf.Traits = append(ex.pf.Traits, decl)
		return &ex.pf.Traits[len(ex.pf.Traits)-1]
	case types.UnitEnum:
		ex.pf.Enums = append(ex.pf.Enums, decl)
		return &ex.pf.Enums[len(ex.pf.Enums)-1]
	default:
		ex.pf.Structs = append(ex.pf.Structs, decl)
		return &ex.pf.Structs[len(ex.pf.Structs)-1]
	}
}

// attachAttributes adds decorator/attribute strings to constructs appended
// after the given watermark (python decorated definitions).
func (ex *extractor) attachAttributes(before int, attrs []string) {
	if len(attrs) == 0 {
		return
	}
	total := len(ex.pf.Functions) + len(ex.pf.Structs)
	if total <= before {
		return
	}
	if len(ex.pf.Functions) > 0 && total == before+1 {
		last := &ex.pf.Functions[len(ex.pf.Functions)-1]
		last.Attributes = append(last.Attributes, attrs...)
		return
	}
	if len(ex.pf.Structs) > 0 {
		last := &ex.pf.Structs[len(ex.pf.Structs)-1]
		last.Attributes = append(last.Attributes, attrs...)
	}
}

// visibilityOf applies the language's visibility rules.
func (ex *extractor) visibilityOf(n *sitter.Node, name string) types.Visibility {
	switch ex.lang {
	case LangRust:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "visibility_modifier" {
				text := nodeText(c, ex.source)
				if strings.Contains(text, "crate") {
					return types.VisibilityPublicCrate
				}
				return types.VisibilityPublic
			}
		}
		return types.VisibilityPrivate

	case LangGo:
		if exportedByCase(name) {
			return types.VisibilityPublic
		}
		return types.VisibilityPrivate

	case LangPython:
		if strings.HasPrefix(name, "__") && !strings.HasSuffix(name, "__") {
			return types.VisibilityPrivate
		}
		if strings.HasPrefix(name, "_") {
			return types.VisibilityProtected
		}
		return types.VisibilityPublic

	case LangTypeScript, LangTSX, LangJavaScript, LangJSX:
		sig := firstLine(n, ex.source)
		switch {
		case strings.Contains(sig, "private "):
			return types.VisibilityPrivate
		case strings.Contains(sig, "protected "):
			return types.VisibilityProtected
		case ex.exported:
			return types.VisibilityPublic
		default:
			return types.VisibilityPrivate
		}

	case LangJava:
		return javaVisibility(n, ex.source)

	case LangKotlin, LangCpp:
		sig := firstLine(n, ex.source)
		switch {
		case strings.Contains(sig, "private"):
			return types.VisibilityPrivate
		case strings.Contains(sig, "protected"):
			return types.VisibilityProtected
		default:
			return types.VisibilityPublic
		}
	}
	return types.VisibilityPublic
}

// precedingDocComment collects a contiguous run of doc comments immediately
// above the node.
func (ex *extractor) precedingDocComment(n *sitter.Node) string {
	var lines []string
	sib := n.PrevNamedSibling()
	for sib != nil {
		kind := sib.Type()
		if kind != "comment" && kind != "line_comment" && kind != "block_comment" {
			break
		}
		text := nodeText(sib, ex.source)
		if !isDocComment(text, ex.lang) {
			break
		}
		lines = append([]string{stripCommentMarkers(text)}, lines...)
		sib = sib.PrevNamedSibling()
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isDocComment(text string, lang Language) bool {
	trimmed := strings.TrimSpace(text)
	switch lang {
	case LangRust:
		return strings.HasPrefix(trimmed, "///") || strings.HasPrefix(trimmed, "//!") ||
			strings.HasPrefix(trimmed, "/**")
	case LangGo:
		return strings.HasPrefix(trimmed, "//")
	case LangPython:
		return strings.HasPrefix(trimmed, "#")
	default:
		return strings.HasPrefix(trimmed, "/**") || strings.HasPrefix(trimmed, "///")
	}
}

func stripCommentMarkers(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "/**")
		line = strings.TrimPrefix(line, "///")
		line = strings.TrimPrefix(line, "//!")
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "#")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimPrefix(line, "*")
		out = append(out, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// parametersFrom reads a parameter list node into name/type pairs, handling
// the per-language parameter node shapes with a generic fallback.
func (ex *extractor) parametersFrom(params *sitter.Node) []types.Parameter {
	if params == nil {
		return nil
	}

	var out []types.Parameter
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "self_parameter", "this", "receiver":
			continue
		case "comment", "line_comment", "block_comment":
			continue
		}

		nameNode := p.ChildByFieldName("name")
		if nameNode == nil {
			nameNode = p.ChildByFieldName("pattern")
		}
		if nameNode == nil {
			nameNode = p.ChildByFieldName("declarator")
		}
		typeNode := p.ChildByFieldName("type")

		switch p.Type() {
		case "identifier", "simple_identifier":
			out = append(out, types.Parameter{Name: nodeText(p, ex.source)})
			continue
		case "typed_parameter", "typed_default_parameter":
			// python: (identifier ":" type)
			if nameNode == nil && p.NamedChildCount() > 0 {
				nameNode = p.NamedChild(0)
			}
		case "parameter_declaration":
			// go: possibly multiple names sharing one type
			if ex.lang == LangGo {
				typ := nodeText(typeNode, ex.source)
				named := false
				for j := 0; j < int(p.NamedChildCount()); j++ {
					c := p.NamedChild(j)
					if c.Type() == "identifier" {
						out = append(out, types.Parameter{Name: nodeText(c, ex.source), Type: typ})
						named = true
					}
				}
				if !named && typ != "" {
					out = append(out, types.Parameter{Type: typ})
				}
				continue
			}
		}

		name := nodeText(nameNode, ex.source)
		typ := nodeText(typeNode, ex.source)
		if name == "" && typ == "" {
			// Last resort: whole text as the parameter name.
			name = strings.TrimSpace(nodeText(p, ex.source))
		}
		if name == "" && typ == "" {
			continue
		}
		out = append(out, types.Parameter{Name: name, Type: cleanReturnType(typ)})
	}
	return out
}

// cleanReturnType strips arrow/colon markers off return-type nodes.
func cleanReturnType(t string) string {
	t = strings.TrimSpace(t)
	t = strings.TrimPrefix(t, "->")
	t = strings.TrimPrefix(t, ":")
	return strings.TrimSpace(t)
}
