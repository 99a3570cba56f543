// Package parser provides language-dispatched AST parsing built on
// tree-sitter: semantic-unit extraction, dependency edges, complexity
// metrics and concurrent scan strategies.
package parser

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language tags a supported source language.
type Language string

const (
	LangRust       Language = "rust"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangJavaScript Language = "javascript"
	LangJSX        Language = "jsx"
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangCpp        Language = "cpp"
)

// extensionLanguages maps file extensions (with leading dot) to languages.
var extensionLanguages = map[string]Language{
	".rs":   LangRust,
	".ts":   LangTypeScript,
	".mts":  LangTypeScript,
	".tsx":  LangTSX,
	".js":   LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".jsx":  LangJSX,
	".py":   LangPython,
	".pyi":  LangPython,
	".go":   LangGo,
	".java": LangJava,
	".kt":   LangKotlin,
	".kts":  LangKotlin,
	".cc":   LangCpp,
	".cpp":  LangCpp,
	".cxx":  LangCpp,
	".hpp":  LangCpp,
	".hh":   LangCpp,
	".h":    LangCpp,
}

// LanguageForPath returns the language for a file path, or false when the
// extension is not supported.
func LanguageForPath(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extensionLanguages[ext]
	return lang, ok
}

// SupportedExtensions lists every extension with a registered grammar.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		exts = append(exts, ext)
	}
	return exts
}

// grammar returns the tree-sitter grammar for a language. JSX shares the
// javascript grammar; TSX has its own.
func grammar(lang Language) *sitter.Language {
	switch lang {
	case LangRust:
		return rust.GetLanguage()
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	case LangJavaScript, LangJSX:
		return javascript.GetLanguage()
	case LangPython:
		return python.GetLanguage()
	case LangGo:
		return golang.GetLanguage()
	case LangJava:
		return java.GetLanguage()
	case LangKotlin:
		return kotlin.GetLanguage()
	case LangCpp:
		return cpp.GetLanguage()
	}
	return nil
}
