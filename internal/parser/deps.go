package parser

import (
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/types"
)

// =============================================================================
// REFERENCE COLLECTION
// =============================================================================

var callKinds = map[string]bool{
	"call_expression":   true,
	"call":              true, // python
	"method_invocation": true, // java
}

var typeRefKinds = map[string]bool{
	"type_identifier": true,
	"user_type":       true, // kotlin
	"named_type":      true,
}

// collectRefs walks a function body and gathers best-effort callee names and
// referenced type names.
func collectRefs(body *sitter.Node, lang Language, source []byte) (calls []string, usedTypes []string) {
	if body == nil {
		return nil, nil
	}

	seenCalls := map[string]bool{}
	seenTypes := map[string]bool{}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		kind := n.Type()

		if callKinds[kind] {
			if name := calleeName(n, source); name != "" && !seenCalls[name] {
				seenCalls[name] = true
				calls = append(calls, name)
			}
		} else if typeRefKinds[kind] {
			if name := baseName(nodeText(n, source)); name != "" && !seenTypes[name] {
				seenTypes[name] = true
				usedTypes = append(usedTypes, name)
			}
		}

		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(body)
	return calls, usedTypes
}

// calleeName resolves the called name of a call node.
func calleeName(n *sitter.Node, source []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		fn = n.ChildByFieldName("name") // java method_invocation
	}
	if fn == nil {
		return ""
	}
	return baseName(nodeText(fn, source))
}

// baseName strips path qualifiers and generics off a referenced name.
func baseName(name string) string {
	if idx := strings.IndexAny(name, "(<"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSpace(name)
	for _, sep := range []string{"::", "."} {
		if idx := strings.LastIndex(name, sep); idx >= 0 {
			name = name[idx+len(sep):]
		}
	}
	return name
}

// =============================================================================
// DEPENDENCY EXTRACTION
// =============================================================================

// RawDependency is an edge keyed by names; the persistence layer resolves
// names to unit ids, recording unresolved targets as such.
type RawDependency struct {
	SourceName string
	TargetName string
	Kind       types.DependencyKind
}

// FileModuleName derives the pseudo-module name of a file, used as the
// source of import edges.
func FileModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExtractDependencies walks a parsed file and emits Imports/Calls/UsesType
// edges with best-effort name resolution.
func ExtractDependencies(pf *ParsedFile) []RawDependency {
	timer := logging.StartTimer(logging.CategoryParser, "ExtractDependencies")
	defer timer.Stop()

	var deps []RawDependency
	seen := map[RawDependency]bool{}
	add := func(d RawDependency) {
		if d.SourceName == "" || d.TargetName == "" || d.SourceName == d.TargetName {
			return
		}
		if seen[d] {
			return
		}
		seen[d] = true
		deps = append(deps, d)
	}

	moduleName := FileModuleName(pf.Path)
	for _, imp := range pf.Imports {
		add(RawDependency{
			SourceName: moduleName,
			TargetName: imp.Path,
			Kind:       types.DepImports,
		})
	}

	for _, fn := range pf.Functions {
		for _, callee := range fn.Calls {
			add(RawDependency{
				SourceName: fn.QualifiedName,
				TargetName: callee,
				Kind:       types.DepCalls,
			})
		}
		for _, t := range fn.UsedTypes {
			add(RawDependency{
				SourceName: fn.QualifiedName,
				TargetName: t,
				Kind:       types.DepUsesType,
			})
		}
	}

	logging.ParserDebug("Extracted %d dependencies from %s", len(deps), pf.Path)
	return deps
}

// =============================================================================
// DEPENDENCY GRAPH
// =============================================================================

// GraphNode is a unit in a file-local dependency graph.
type GraphNode struct {
	QualifiedName string
	UnitType      types.UnitType
}

// GraphEdge connects two nodes by kind.
type GraphEdge struct {
	Source string
	Target string
	// Resolved is false when the target was not declared in this file.
	Resolved bool
}

// Graph is the per-file dependency graph keyed by qualified name, with
// edges bucketed by kind.
type Graph struct {
	Nodes map[string]GraphNode
	Edges map[types.DependencyKind][]GraphEdge
}

// GraphStats summarizes a graph.
type GraphStats struct {
	Nodes      int
	Edges      int
	EdgesByKind map[types.DependencyKind]int
	Unresolved int
}

// BuildDependencyGraph assembles the graph for one parsed file.
func BuildDependencyGraph(pf *ParsedFile) *Graph {
	g := &Graph{
		Nodes: make(map[string]GraphNode),
		Edges: make(map[types.DependencyKind][]GraphEdge),
	}

	addNode := func(qn string, ut types.UnitType) {
		if qn != "" {
			g.Nodes[qn] = GraphNode{QualifiedName: qn, UnitType: ut}
		}
	}

	for _, fn := range pf.Functions {
		ut := types.UnitFunction
		if fn.IsMethod {
			ut = types.UnitMethod
		} else if fn.IsAsync {
			ut = types.UnitAsyncFunction
		}
		addNode(fn.QualifiedName, ut)
	}
	for _, s := range pf.Structs {
		addNode(s.QualifiedName, s.Kind)
	}
	for _, t := range pf.Traits {
		addNode(t.QualifiedName, t.Kind)
	}
	for _, e := range pf.Enums {
		addNode(e.QualifiedName, e.Kind)
	}
	for _, m := range pf.Modules {
		addNode(m.QualifiedName, types.UnitModule)
	}

	// Bare-name index for intra-file resolution.
	byBase := make(map[string]string)
	for qn := range g.Nodes {
		byBase[baseName(qn)] = qn
	}

	for _, dep := range ExtractDependencies(pf) {
		target := dep.TargetName
		resolved := false
		if qn, ok := g.Nodes[target]; ok {
			target = qn.QualifiedName
			resolved = true
		} else if qn, ok := byBase[target]; ok {
			target = qn
			resolved = true
		}
		g.Edges[dep.Kind] = append(g.Edges[dep.Kind], GraphEdge{
			Source:   dep.SourceName,
			Target:   target,
			Resolved: resolved,
		})
	}

	return g
}

// Stats returns node and edge counts.
func (g *Graph) Stats() GraphStats {
	stats := GraphStats{
		Nodes:       len(g.Nodes),
		EdgesByKind: make(map[types.DependencyKind]int),
	}
	for kind, edges := range g.Edges {
		stats.EdgesByKind[kind] = len(edges)
		stats.Edges += len(edges)
		for _, e := range edges {
			if !e.Resolved {
				stats.Unresolved++
			}
		}
	}
	return stats
}

// SortedNodeNames returns node names in deterministic order.
func (g *Graph) SortedNodeNames() []string {
	names := make([]string, 0, len(g.Nodes))
	for qn := range g.Nodes {
		names = append(names, qn)
	}
	sort.Strings(names)
	return names
}
