package provider

import (
	"context"

	"go.lsp.dev/protocol"
)

// staticProvider serves empty results for every capability. It backs
// languages without a registered provider so handlers never have to
// special-case a missing binding.
type staticProvider struct{}

var _ CodeIntel = (*staticProvider)(nil)

func (s *staticProvider) Hover(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) (*protocol.Hover, error) {
	return nil, nil
}

func (s *staticProvider) Definition(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) ([]protocol.Location, error) {
	return nil, nil
}

func (s *staticProvider) Completion(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) (*protocol.CompletionList, error) {
	return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
}

func (s *staticProvider) References(ctx context.Context, doc protocol.TextDocumentItem, position protocol.Position) ([]protocol.Location, error) {
	return nil, nil
}

func (s *staticProvider) DocumentSymbols(ctx context.Context, doc protocol.TextDocumentItem) ([]protocol.DocumentSymbol, error) {
	return nil, nil
}

func (s *staticProvider) SemanticTokens(ctx context.Context, doc protocol.TextDocumentItem) (*protocol.SemanticTokens, error) {
	return &protocol.SemanticTokens{Data: []uint32{}}, nil
}

func (s *staticProvider) SemanticTokensRange(ctx context.Context, doc protocol.TextDocumentItem, rng protocol.Range) (*protocol.SemanticTokens, error) {
	return &protocol.SemanticTokens{Data: []uint32{}}, nil
}

func (s *staticProvider) Diagnostics(ctx context.Context, doc protocol.TextDocumentItem) ([]protocol.Diagnostic, error) {
	return nil, nil
}
