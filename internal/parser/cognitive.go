package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/types"
)

// =============================================================================
// COMPLEXITY METRICS
// =============================================================================

// boolSequence tracks sequential boolean operators. Consecutive identical
// operators (a && b && c) count once; an operator change (a && b || c) counts
// again; NOT resets the sequence.
type boolSequence struct {
	op string
	ok bool
}

func (b *boolSequence) reset() {
	b.ok = false
	b.op = ""
}

func (b *boolSequence) notOperator() {
	b.ok = true
	b.op = "!"
}

// eval returns the increment (0 or 1) for encountering op.
func (b *boolSequence) eval(op string) int {
	if b.ok && b.op == op {
		return 0
	}
	b.op = op
	b.ok = true
	return 1
}

// branchKinds contribute to cyclomatic complexity (union across grammars;
// kinds are distinct enough per language that overlap is harmless).
var branchKinds = map[string]bool{
	"if_statement": true, "if_expression": true,
	"while_statement": true, "while_expression": true, "do_statement": true,
	"for_statement": true, "for_expression": true, "for_in_statement": true,
	"loop_expression": true,
	"match_arm":       true, "switch_case": true, "case_clause": true,
	"when_entry": true, "catch_clause": true, "except_clause": true,
	"conditional_expression": true, "ternary_expression": true,
	"elif_clause": true, "guard_clause": true,
}

// nestingKinds increase the cognitive nesting level.
var nestingKinds = map[string]bool{
	"if_statement": true, "if_expression": true,
	"while_statement": true, "while_expression": true, "do_statement": true,
	"for_statement": true, "for_expression": true, "for_in_statement": true,
	"loop_expression":  true,
	"switch_statement": true, "switch_expression": true,
	"match_expression": true, "when_expression": true,
	"try_statement": true, "try_expression": true,
	"catch_clause": true, "except_clause": true,
	"conditional_expression": true, "ternary_expression": true,
}

// flatKinds add cognitive complexity without a nesting penalty.
var flatKinds = map[string]bool{
	"else_clause": true, "elif_clause": true,
	"break_statement": true, "continue_statement": true,
	"goto_statement": true,
}

// lambdaKinds are nested function-like constructs; their bodies carry an
// extra nesting level.
var lambdaKinds = map[string]bool{
	"closure_expression": true, "lambda": true, "lambda_expression": true,
	"arrow_function": true, "function_expression": true, "func_literal": true,
	"anonymous_function": true,
}

var returnKinds = map[string]bool{
	"return_statement": true, "return_expression": true,
}

// computeComplexity measures a function rooted at fnNode. The body node (when
// available) scopes the walk so signatures don't contribute.
func computeComplexity(fnNode, bodyNode *sitter.Node, lang Language, source []byte, paramCount int) types.Complexity {
	span := spanOf(fnNode)
	c := types.Complexity{
		Cyclomatic: 1,
		Lines:      span.EndLine - span.StartLine + 1,
		Parameters: paramCount,
	}

	root := bodyNode
	if root == nil {
		root = fnNode
	}

	seq := &boolSequence{}
	maxNesting := 0

	var walk func(n *sitter.Node, nesting int, lambdaDepth int)
	walk = func(n *sitter.Node, nesting int, lambdaDepth int) {
		kind := n.Type()

		switch {
		case branchKinds[kind]:
			c.Cyclomatic++
		case returnKinds[kind]:
			c.Returns++
		}

		if isBooleanOperator(n, lang, source) {
			op := operatorText(n, lang, source)
			inc := seq.eval(op)
			c.Cognitive += inc
			c.Cyclomatic += inc
		}
		if isNotOperator(n, lang, source) {
			seq.notOperator()
		}

		childNesting := nesting
		childLambda := lambdaDepth

		switch {
		case nestingKinds[kind]:
			effective := nesting + lambdaDepth
			c.Cognitive += effective + 1
			if effective+1 > maxNesting {
				maxNesting = effective + 1
			}
			childNesting = nesting + 1
			seq.reset()
		case flatKinds[kind]:
			c.Cognitive++
		case lambdaKinds[kind]:
			childLambda = lambdaDepth + 1
		}

		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i), childNesting, childLambda)
		}
	}
	walk(root, 0, 0)

	c.Nesting = maxNesting
	return c
}

// isBooleanOperator reports whether n is a boolean binary expression.
func isBooleanOperator(n *sitter.Node, lang Language, source []byte) bool {
	switch n.Type() {
	case "binary_expression":
		op := operatorText(n, lang, source)
		return op == "&&" || op == "||"
	case "boolean_operator": // python
		return true
	case "conjunction_expression", "disjunction_expression": // kotlin
		return true
	}
	return false
}

// isNotOperator reports whether n is a logical negation.
func isNotOperator(n *sitter.Node, lang Language, source []byte) bool {
	switch n.Type() {
	case "unary_expression", "not_operator", "prefix_expression":
		text := nodeText(n, source)
		return strings.HasPrefix(text, "!") || strings.HasPrefix(text, "not ")
	}
	return false
}

// operatorText extracts the operator of a binary expression.
func operatorText(n *sitter.Node, lang Language, source []byte) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		text := nodeText(op, source)
		// Normalize python's words to symbols for sequence tracking.
		switch text {
		case "and":
			return "&&"
		case "or":
			return "||"
		}
		return text
	}
	switch n.Type() {
	case "conjunction_expression":
		return "&&"
	case "disjunction_expression":
		return "||"
	}
	return ""
}
