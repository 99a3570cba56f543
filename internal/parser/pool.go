package parser

import (
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ry-ht/cortex/internal/logging"
)

// parserPool caches tree-sitter parsers per language. Parsers are expensive
// to construct and not safe for concurrent use, so each checkout is
// exclusive.
type parserPool struct {
	mu    sync.Mutex
	pools map[Language]*sync.Pool
}

var sharedParsers = &parserPool{pools: make(map[Language]*sync.Pool)}

// checkout obtains a parser configured for the language.
func (pp *parserPool) checkout(lang Language) *sitter.Parser {
	pp.mu.Lock()
	p, ok := pp.pools[lang]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				logging.ParserDebug("Creating new tree-sitter parser for %s", lang)
				parser := sitter.NewParser()
				parser.SetLanguage(grammar(lang))
				return parser
			},
		}
		pp.pools[lang] = p
	}
	pp.mu.Unlock()

	return p.Get().(*sitter.Parser)
}

// checkin returns a parser to its language pool.
func (pp *parserPool) checkin(lang Language, parser *sitter.Parser) {
	pp.mu.Lock()
	p, ok := pp.pools[lang]
	pp.mu.Unlock()
	if !ok {
		parser.Close()
		return
	}
	p.Put(parser)
}
