package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/types"
)

// extractor walks a parse tree and fills a ParsedFile. A scope stack of
// container names (modules, classes, impls) builds qualified names.
type extractor struct {
	pf       *ParsedFile
	source   []byte
	lang     Language
	scope    []string
	exported bool // inside an export statement (TS/JS)
}

func (ex *extractor) separator() string {
	switch ex.lang {
	case LangRust, LangCpp:
		return "::"
	default:
		return "."
	}
}

func (ex *extractor) qualify(name string) string {
	if len(ex.scope) == 0 {
		return name
	}
	return strings.Join(ex.scope, ex.separator()) + ex.separator() + name
}

func (ex *extractor) pushScope(name string) { ex.scope = append(ex.scope, name) }
func (ex *extractor) popScope()             { ex.scope = ex.scope[:len(ex.scope)-1] }

// walk dispatches on node kind. Unknown kinds recurse into named children so
// partial trees with errors still yield their usable subtrees.
func (ex *extractor) walk(n *sitter.Node, parent *sitter.Node) {
	if n == nil {
		return
	}

	switch ex.lang {
	case LangRust:
		if ex.walkRust(n) {
			return
		}
	case LangPython:
		if ex.walkPython(n) {
			return
		}
	case LangTypeScript, LangTSX, LangJavaScript, LangJSX:
		if ex.walkECMA(n) {
			return
		}
	case LangGo:
		if ex.walkGo(n) {
			return
		}
	case LangJava:
		if ex.walkJava(n) {
			return
		}
	case LangKotlin:
		if ex.walkKotlin(n) {
			return
		}
	case LangCpp:
		if ex.walkCpp(n) {
			return
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		ex.walk(n.NamedChild(i), n)
	}
}

func (ex *extractor) walkChildren(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ex.walk(n.NamedChild(i), n)
	}
}

// =============================================================================
// RUST
// =============================================================================

func (ex *extractor) walkRust(n *sitter.Node) bool {
	switch n.Type() {
	case "function_item":
		ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("return_type"), n.ChildByFieldName("body"), len(ex.scope) > 0)
		return true

	case "struct_item":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitStruct)
		return true

	case "trait_item":
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitTrait)
		if decl != nil {
			ex.pushScope(decl.Name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "enum_item":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitEnum)
		return true

	case "mod_item":
		nameNode := n.ChildByFieldName("name")
		name := nodeText(nameNode, ex.source)
		if name == "" {
			return true
		}
		ex.pf.Modules = append(ex.pf.Modules, Module{Item: ex.item(n, name)})
		ex.pushScope(name)
		if body := n.ChildByFieldName("body"); body != nil {
			ex.walkChildren(body)
		}
		ex.popScope()
		return true

	case "impl_item":
		typeName := nodeText(n.ChildByFieldName("type"), ex.source)
		traitName := nodeText(n.ChildByFieldName("trait"), ex.source)
		display := typeName
		if traitName != "" {
			display = traitName + " for " + typeName
		}
		ex.pf.Impls = append(ex.pf.Impls, Impl{
			Item:      ex.item(n, display),
			TypeName:  typeName,
			TraitName: traitName,
		})
		ex.pushScope(typeName)
		if body := n.ChildByFieldName("body"); body != nil {
			ex.walkChildren(body)
		}
		ex.popScope()
		return true

	case "use_declaration":
		arg := n.ChildByFieldName("argument")
		ex.pf.Imports = append(ex.pf.Imports, Import{
			Path: nodeText(arg, ex.source),
			Span: spanOf(n),
		})
		return true
	}
	return false
}

// =============================================================================
// PYTHON
// =============================================================================

func (ex *extractor) walkPython(n *sitter.Node) bool {
	switch n.Type() {
	case "decorated_definition":
		// Decorators attach to the wrapped definition.
		var attrs []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "decorator" {
				attrs = append(attrs, strings.TrimSpace(nodeText(c, ex.source)))
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			before := len(ex.pf.Functions) + len(ex.pf.Structs)
			ex.walk(def, n)
			ex.attachAttributes(before, attrs)
		}
		return true

	case "function_definition":
		fn := ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("return_type"), n.ChildByFieldName("body"), len(ex.scope) > 0)
		if fn != nil {
			if doc := pythonDocstring(n, ex.source); doc != "" {
				fn.Docstring = doc
			}
		}
		return true

	case "class_definition":
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitClass)
		if decl != nil {
			if doc := pythonDocstring(n, ex.source); doc != "" {
				decl.Docstring = doc
			}
			ex.pushScope(decl.Name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "import_statement", "import_from_statement":
		ex.pf.Imports = append(ex.pf.Imports, Import{
			Path: strings.TrimSpace(nodeText(n, ex.source)),
			Span: spanOf(n),
		})
		return true
	}
	return false
}

// pythonDocstring extracts the first string statement of a body.
func pythonDocstring(def *sitter.Node, source []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := nodeText(str, source)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

// =============================================================================
// TYPESCRIPT / TSX / JAVASCRIPT / JSX
// =============================================================================

func (ex *extractor) walkECMA(n *sitter.Node) bool {
	switch n.Type() {
	case "export_statement":
		prev := ex.exported
		ex.exported = true
		ex.walkChildren(n)
		ex.exported = prev
		return true

	case "function_declaration", "generator_function_declaration":
		ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("return_type"), n.ChildByFieldName("body"), false)
		return true

	case "method_definition":
		ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("return_type"), n.ChildByFieldName("body"), true)
		return true

	case "class_declaration":
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitClass)
		if decl != nil {
			ex.pushScope(decl.Name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "interface_declaration":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitInterface)
		return true

	case "enum_declaration":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitEnum)
		return true

	case "type_alias_declaration":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitTypeAlias)
		return true

	case "internal_module", "module":
		nameNode := n.ChildByFieldName("name")
		name := nodeText(nameNode, ex.source)
		if name != "" {
			ex.pf.Modules = append(ex.pf.Modules, Module{Item: ex.item(n, name)})
			ex.pushScope(name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "lexical_declaration", "variable_declaration":
		// const f = (x) => ... registers as a function.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			decl := n.NamedChild(i)
			if decl.Type() != "variable_declarator" {
				continue
			}
			value := decl.ChildByFieldName("value")
			if value == nil {
				continue
			}
			if value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function" {
				ex.addFunction(decl, decl.ChildByFieldName("name"), value.ChildByFieldName("parameters"),
					value.ChildByFieldName("return_type"), value.ChildByFieldName("body"), false)
			}
		}
		return true

	case "import_statement":
		src := n.ChildByFieldName("source")
		ex.pf.Imports = append(ex.pf.Imports, Import{
			Path: strings.Trim(nodeText(src, ex.source), "\"'`"),
			Span: spanOf(n),
		})
		return true
	}
	return false
}

// =============================================================================
// GO
// =============================================================================

func (ex *extractor) walkGo(n *sitter.Node) bool {
	switch n.Type() {
	case "function_declaration":
		ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("result"), n.ChildByFieldName("body"), false)
		return true

	case "method_declaration":
		fn := ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("result"), n.ChildByFieldName("body"), true)
		if fn != nil {
			fn.Receiver = nodeText(n.ChildByFieldName("receiver"), ex.source)
			// Methods qualify by receiver base type.
			recv := strings.Trim(fn.Receiver, "()")
			if parts := strings.Fields(recv); len(parts) > 0 {
				base := strings.TrimPrefix(parts[len(parts)-1], "*")
				fn.QualifiedName = base + "." + fn.Name
				fn.DisplayName = fn.QualifiedName
				ex.pf.Functions[len(ex.pf.Functions)-1] = *fn
			}
		}
		return true

	case "type_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			spec := n.NamedChild(i)
			if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
				continue
			}
			nameNode := spec.ChildByFieldName("name")
			kind := types.UnitTypeAlias
			if t := spec.ChildByFieldName("type"); t != nil {
				switch t.Type() {
				case "struct_type":
					kind = types.UnitStruct
				case "interface_type":
					kind = types.UnitInterface
				}
			}
			ex.addTypeDecl(spec, nameNode, kind)
		}
		return true

	case "import_declaration":
		var collect func(m *sitter.Node)
		collect = func(m *sitter.Node) {
			for i := 0; i < int(m.NamedChildCount()); i++ {
				c := m.NamedChild(i)
				if c.Type() == "import_spec" {
					path := strings.Trim(nodeText(c.ChildByFieldName("path"), ex.source), "\"")
					alias := nodeText(c.ChildByFieldName("name"), ex.source)
					ex.pf.Imports = append(ex.pf.Imports, Import{Path: path, Alias: alias, Span: spanOf(c)})
				} else {
					collect(c)
				}
			}
		}
		collect(n)
		return true
	}
	return false
}

// =============================================================================
// JAVA
// =============================================================================

func (ex *extractor) walkJava(n *sitter.Node) bool {
	switch n.Type() {
	case "class_declaration":
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitClass)
		if decl != nil {
			ex.pushScope(decl.Name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "interface_declaration":
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitInterface)
		if decl != nil {
			ex.pushScope(decl.Name)
			if body := n.ChildByFieldName("body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "enum_declaration":
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitEnum)
		return true

	case "method_declaration", "constructor_declaration":
		fn := ex.addFunction(n, n.ChildByFieldName("name"), n.ChildByFieldName("parameters"),
			n.ChildByFieldName("type"), n.ChildByFieldName("body"), len(ex.scope) > 0)
		if fn != nil {
			fn.Visibility = javaVisibility(n, ex.source)
			ex.pf.Functions[len(ex.pf.Functions)-1] = *fn
		}
		return true

	case "import_declaration":
		text := strings.TrimSpace(nodeText(n, ex.source))
		text = strings.TrimPrefix(text, "import ")
		text = strings.TrimSuffix(text, ";")
		ex.pf.Imports = append(ex.pf.Imports, Import{Path: strings.TrimSpace(text), Span: spanOf(n)})
		return true
	}
	return false
}

func javaVisibility(n *sitter.Node, source []byte) types.Visibility {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "modifiers" {
			continue
		}
		text := nodeText(c, source)
		switch {
		case strings.Contains(text, "public"):
			return types.VisibilityPublic
		case strings.Contains(text, "protected"):
			return types.VisibilityProtected
		case strings.Contains(text, "private"):
			return types.VisibilityPrivate
		}
	}
	// Package-private maps onto crate-level visibility.
	return types.VisibilityPublicCrate
}

// =============================================================================
// KOTLIN
// =============================================================================

func (ex *extractor) walkKotlin(n *sitter.Node) bool {
	switch n.Type() {
	case "function_declaration":
		name := firstChildOfType(n, "simple_identifier")
		params := firstChildOfType(n, "function_value_parameters")
		ex.addFunction(n, name, params, nil, firstChildOfType(n, "function_body"), len(ex.scope) > 0)
		return true

	case "class_declaration":
		nameNode := firstChildOfType(n, "type_identifier")
		kind := types.UnitClass
		if strings.Contains(firstLine(n, ex.source), "interface ") {
			kind = types.UnitInterface
		}
		decl := ex.addTypeDecl(n, nameNode, kind)
		if decl != nil {
			ex.pushScope(decl.Name)
			if body := firstChildOfType(n, "class_body"); body != nil {
				ex.walkChildren(body)
			}
			ex.popScope()
		}
		return true

	case "object_declaration":
		ex.addTypeDecl(n, firstChildOfType(n, "type_identifier"), types.UnitClass)
		return true

	case "import_header":
		text := strings.TrimSpace(nodeText(n, ex.source))
		text = strings.TrimPrefix(text, "import ")
		ex.pf.Imports = append(ex.pf.Imports, Import{Path: strings.TrimSpace(text), Span: spanOf(n)})
		return true
	}
	return false
}

// =============================================================================
// C++
// =============================================================================

func (ex *extractor) walkCpp(n *sitter.Node) bool {
	switch n.Type() {
	case "function_definition":
		declarator := n.ChildByFieldName("declarator")
		nameNode := cppDeclaratorName(declarator)
		var params *sitter.Node
		if declarator != nil && declarator.Type() == "function_declarator" {
			params = declarator.ChildByFieldName("parameters")
		}
		fn := ex.addFunction(n, nameNode, params, n.ChildByFieldName("type"),
			n.ChildByFieldName("body"), len(ex.scope) > 0)
		if fn != nil && strings.Contains(fn.Name, "::") {
			fn.QualifiedName = fn.Name
			ex.pf.Functions[len(ex.pf.Functions)-1] = *fn
		}
		return true

	case "struct_specifier", "class_specifier":
		// Only definitions (with a body) declare a unit; bare references recurse.
		if n.ChildByFieldName("body") == nil {
			return false
		}
		kind := types.UnitStruct
		if n.Type() == "class_specifier" {
			kind = types.UnitClass
		}
		decl := ex.addTypeDecl(n, n.ChildByFieldName("name"), kind)
		if decl != nil {
			ex.pushScope(decl.Name)
			ex.walkChildren(n.ChildByFieldName("body"))
			ex.popScope()
		}
		return true

	case "enum_specifier":
		if n.ChildByFieldName("body") == nil {
			return false
		}
		ex.addTypeDecl(n, n.ChildByFieldName("name"), types.UnitEnum)
		return true

	case "namespace_definition":
		name := nodeText(n.ChildByFieldName("name"), ex.source)
		if name != "" {
			ex.pf.Modules = append(ex.pf.Modules, Module{Item: ex.item(n, name)})
			ex.pushScope(name)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			ex.walkChildren(body)
		}
		if name != "" {
			ex.popScope()
		}
		return true

	case "preproc_include":
		path := strings.Trim(nodeText(n.ChildByFieldName("path"), ex.source), "\"<>")
		ex.pf.Imports = append(ex.pf.Imports, Import{Path: path, Span: spanOf(n)})
		return true
	}
	return false
}

func cppDeclaratorName(declarator *sitter.Node) *sitter.Node {
	for declarator != nil {
		switch declarator.Type() {
		case "identifier", "field_identifier", "qualified_identifier", "destructor_name", "operator_name":
			return declarator
		case "function_declarator", "pointer_declarator", "reference_declarator":
			declarator = declarator.ChildByFieldName("declarator")
		default:
			return declarator
		}
	}
	return nil
}

func firstChildOfType(n *sitter.Node, kind string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == kind {
			return c
		}
	}
	return nil
}
