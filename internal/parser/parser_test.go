package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry-ht/cortex/internal/types"
)

func TestLanguageForPath(t *testing.T) {
	cases := map[string]Language{
		"src/lib.rs":    LangRust,
		"app.ts":        LangTypeScript,
		"view.tsx":      LangTSX,
		"index.js":      LangJavaScript,
		"widget.jsx":    LangJSX,
		"main.py":       LangPython,
		"server.go":     LangGo,
		"App.java":      LangJava,
		"Model.kt":      LangKotlin,
		"engine.cpp":    LangCpp,
		"header.h":      LangCpp,
		"module.MJS":    "",
		"readme.md":     "",
		"no_extension":  "",
	}
	for path, want := range cases {
		got, ok := LanguageForPath(path)
		if want == "" {
			// .MJS is uppercase: extension matching is case-insensitive, so
			// it actually resolves; only genuinely unknown ones fail.
			if path == "module.MJS" {
				assert.True(t, ok)
				assert.Equal(t, LangJavaScript, got)
				continue
			}
			assert.False(t, ok, path)
			continue
		}
		require.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
}

func TestParseRustFunction(t *testing.T) {
	source := []byte(`/// Adds two numbers.
pub fn add(a: i32, b: i32) -> i32 { a + b }
`)
	pf, err := ParseFile(context.Background(), "src/lib.rs", source)
	require.NoError(t, err)
	assert.False(t, pf.HasError)
	require.Len(t, pf.Functions, 1)

	fn := pf.Functions[0]
	assert.Equal(t, "add", fn.Name)
	assert.Equal(t, "add", fn.QualifiedName)
	assert.Equal(t, types.VisibilityPublic, fn.Visibility)
	assert.Equal(t, "i32", fn.ReturnType)
	assert.Equal(t, "Adds two numbers.", fn.Docstring)
	require.Len(t, fn.Parameters, 2)
	assert.Equal(t, "a", fn.Parameters[0].Name)
	assert.Equal(t, "i32", fn.Parameters[0].Type)
	assert.Equal(t, 1, fn.Complexity.Cyclomatic)
	assert.Equal(t, 0, fn.Complexity.Cognitive)
	assert.Equal(t, 2, fn.Complexity.Parameters)
}

func TestParseRustStructTraitImpl(t *testing.T) {
	source := []byte(`pub struct User { name: String }

trait Greet {
    fn greet(&self) -> String;
}

impl Greet for User {
    fn greet(&self) -> String { format!("hi {}", self.name) }
}

pub(crate) mod helpers {
    pub fn shout(s: &str) -> String { s.to_uppercase() }
}
`)
	pf, err := ParseFile(context.Background(), "src/model.rs", source)
	require.NoError(t, err)

	require.Len(t, pf.Structs, 1)
	assert.Equal(t, "User", pf.Structs[0].Name)
	assert.Equal(t, types.VisibilityPublic, pf.Structs[0].Visibility)

	require.Len(t, pf.Traits, 1)
	assert.Equal(t, "Greet", pf.Traits[0].Name)
	assert.Equal(t, types.VisibilityPrivate, pf.Traits[0].Visibility)

	require.Len(t, pf.Impls, 1)
	assert.Equal(t, "User", pf.Impls[0].TypeName)
	assert.Equal(t, "Greet", pf.Impls[0].TraitName)

	require.Len(t, pf.Modules, 1)
	assert.Equal(t, "helpers", pf.Modules[0].Name)
	assert.Equal(t, types.VisibilityPublicCrate, pf.Modules[0].Visibility)

	// Methods inside impl and functions inside mod carry qualified names.
	names := map[string]bool{}
	for _, fn := range pf.Functions {
		names[fn.QualifiedName] = true
	}
	assert.True(t, names["User::greet"], "impl method should be qualified, got %v", names)
	assert.True(t, names["helpers::shout"], "mod function should be qualified, got %v", names)
}

func TestParseRustUseAndCalls(t *testing.T) {
	source := []byte(`use crate::add;

fn main() {
    let _ = add(1, 2);
}
`)
	pf, err := ParseFile(context.Background(), "src/main.rs", source)
	require.NoError(t, err)

	require.Len(t, pf.Imports, 1)
	assert.Equal(t, "crate::add", pf.Imports[0].Path)

	require.Len(t, pf.Functions, 1)
	assert.Contains(t, pf.Functions[0].Calls, "add")

	deps := ExtractDependencies(pf)
	var hasCall bool
	for _, d := range deps {
		if d.SourceName == "main" && d.TargetName == "add" && d.Kind == types.DepCalls {
			hasCall = true
		}
	}
	assert.True(t, hasCall)
}

func TestParsePartialOnSyntaxError(t *testing.T) {
	source := []byte(`pub fn good() -> i32 { 1 }

pub fn broken( { this is not rust
`)
	pf, err := ParseFile(context.Background(), "bad.rs", source)
	require.NoError(t, err, "syntax errors must not fail the parse")
	assert.True(t, pf.HasError)

	// The usable subtree still yields the good function.
	var names []string
	for _, fn := range pf.Functions {
		names = append(names, fn.Name)
	}
	assert.Contains(t, names, "good")
}

func TestParsePython(t *testing.T) {
	source := []byte(`import os

class Greeter:
    """Greets people."""

    def greet(self, name):
        """Say hello."""
        if name:
            return "hi " + name
        return "hi"

async def fetch(url):
    return await get(url)
`)
	pf, err := ParseFile(context.Background(), "app.py", source)
	require.NoError(t, err)

	require.Len(t, pf.Structs, 1)
	assert.Equal(t, "Greeter", pf.Structs[0].Name)
	assert.Equal(t, types.UnitClass, pf.Structs[0].Kind)
	assert.Equal(t, "Greets people.", pf.Structs[0].Docstring)

	byName := map[string]Function{}
	for _, fn := range pf.Functions {
		byName[fn.Name] = fn
	}

	greet, ok := byName["greet"]
	require.True(t, ok)
	assert.True(t, greet.IsMethod)
	assert.Equal(t, "Greeter.greet", greet.QualifiedName)
	assert.Equal(t, "Say hello.", greet.Docstring)
	assert.GreaterOrEqual(t, greet.Complexity.Cyclomatic, 2)

	fetch, ok := byName["fetch"]
	require.True(t, ok)
	assert.True(t, fetch.IsAsync)

	require.Len(t, pf.Imports, 1)
}

func TestParseTypeScript(t *testing.T) {
	source := []byte(`import { api } from "./api";

export interface User {
    name: string;
}

export function load(id: string): Promise<User> {
    return api.get(id);
}

const helper = (x: number) => x * 2;
`)
	pf, err := ParseFile(context.Background(), "user.ts", source)
	require.NoError(t, err)

	require.Len(t, pf.Traits, 1)
	assert.Equal(t, "User", pf.Traits[0].Name)
	assert.Equal(t, types.UnitInterface, pf.Traits[0].Kind)

	byName := map[string]Function{}
	for _, fn := range pf.Functions {
		byName[fn.Name] = fn
	}
	load, ok := byName["load"]
	require.True(t, ok)
	assert.Equal(t, types.VisibilityPublic, load.Visibility)

	_, ok = byName["helper"]
	assert.True(t, ok, "arrow function assigned to const should register")

	require.Len(t, pf.Imports, 1)
	assert.Equal(t, "./api", pf.Imports[0].Path)
}

func TestParseGo(t *testing.T) {
	source := []byte(`package demo

import "fmt"

type Server struct{ addr string }

func (s *Server) Start() error {
	fmt.Println(s.addr)
	return nil
}

func helper() {}
`)
	pf, err := ParseFile(context.Background(), "server.go", source)
	require.NoError(t, err)

	require.Len(t, pf.Structs, 1)
	assert.Equal(t, "Server", pf.Structs[0].Name)

	byName := map[string]Function{}
	for _, fn := range pf.Functions {
		byName[fn.QualifiedName] = fn
	}
	start, ok := byName["Server.Start"]
	require.True(t, ok)
	assert.True(t, start.IsMethod)
	assert.Equal(t, types.VisibilityPublic, start.Visibility)

	h, ok := byName["helper"]
	require.True(t, ok)
	assert.Equal(t, types.VisibilityPrivate, h.Visibility)

	require.Len(t, pf.Imports, 1)
	assert.Equal(t, "fmt", pf.Imports[0].Path)
}

func TestUnsupportedLanguage(t *testing.T) {
	_, err := ParseFile(context.Background(), "data.csv", []byte("a,b"))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrParse))
}

func TestBuildDependencyGraphStats(t *testing.T) {
	source := []byte(`fn a() { b(); }
fn b() { c(); }
fn c() {}
`)
	pf, err := ParseFile(context.Background(), "g.rs", source)
	require.NoError(t, err)

	g := BuildDependencyGraph(pf)
	stats := g.Stats()
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 2, stats.EdgesByKind[types.DepCalls])
	assert.Zero(t, stats.Unresolved)
}
