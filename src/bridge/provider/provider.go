// Package provider defines the language analysis surface the server
// dispatches to. Each language id maps to one CodeIntel implementation.
package provider

import (
	"context"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/fx"
)

// Module provides the registry for an fx application.
var Module = fx.Options(fx.Provide(NewRegistry))

// CodeIntel is the capability set a language provider can serve. Every method
// is synchronous and may return an empty result. Implementations run on
// dispatcher workers and must not retain the request context.
type CodeIntel interface {
	Hover(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) (*protocol.Hover, error)
	Definition(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) ([]protocol.Location, error)
	Completion(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) (*protocol.CompletionList, error)
	References(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) ([]protocol.Location, error)
	DocumentSymbols(ctx context.Context, doc protocol.TextDocumentItem) ([]protocol.DocumentSymbol, error)
	SemanticTokens(ctx context.Context, doc protocol.TextDocumentItem) (*protocol.SemanticTokens, error)
	SemanticTokensRange(ctx context.Context, doc protocol.TextDocumentItem, rng protocol.Range) (*protocol.SemanticTokens, error)
	Diagnostics(ctx context.Context, doc protocol.TextDocumentItem) ([]protocol.Diagnostic, error)
}

// Registry resolves the provider for a document's language.
type Registry interface {
	// Register binds a provider to a language id, replacing any existing binding.
	Register(language protocol.LanguageIdentifier, p CodeIntel)
	// Get returns the provider for the language, or the fallback provider when
	// no binding exists. It never returns nil.
	Get(language protocol.LanguageIdentifier) CodeIntel
}

type registry struct {
	mu        sync.RWMutex
	providers map[protocol.LanguageIdentifier]CodeIntel
	fallback  CodeIntel
}

// NewRegistry creates a registry whose unbound languages resolve to a
// provider that returns empty results.
func NewRegistry() Registry {
	return &registry{
		providers: make(map[protocol.LanguageIdentifier]CodeIntel),
		fallback:  &staticProvider{},
	}
}

func (r *registry) Register(language protocol.LanguageIdentifier, p CodeIntel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[language] = p
}

func (r *registry) Get(language protocol.LanguageIdentifier) CodeIntel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[language]; ok {
		return p
	}
	return r.fallback
}
