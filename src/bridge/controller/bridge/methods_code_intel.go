package bridge

import (
	"context"

	"go.lsp.dev/protocol"
)

// Hover returns hover content from the document's language provider.
func (c *controller) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentHover); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).Hover(ctx, doc, params.Position)
}

// Definition returns definition locations from the document's language provider.
func (c *controller) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDefinition); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).Definition(ctx, doc, params.Position)
}

// Completion returns completion items from the document's language provider.
func (c *controller) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentCompletion); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).Completion(ctx, doc, params.Position)
}

// References returns reference locations from the document's language provider.
func (c *controller) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentReferences); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).References(ctx, doc, params.Position)
}

// DocumentSymbol returns the document's symbol outline.
func (c *controller) DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) ([]protocol.DocumentSymbol, error) {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDocumentSymbol); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).DocumentSymbols(ctx, doc)
}

// SemanticTokensFull returns semantic tokens for the whole document.
func (c *controller) SemanticTokensFull(ctx context.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	if _, err := c.requireReady(ctx, protocol.MethodSemanticTokensFull); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).SemanticTokens(ctx, doc)
}

// SemanticTokensRange returns semantic tokens for a range of the document.
func (c *controller) SemanticTokensRange(ctx context.Context, params *protocol.SemanticTokensRangeParams) (*protocol.SemanticTokens, error) {
	if _, err := c.requireReady(ctx, protocol.MethodSemanticTokensRange); err != nil {
		return nil, err
	}

	doc, err := c.documents.GetTextDocument(ctx, params.TextDocument)
	if err != nil {
		return nil, err
	}
	return c.providers.Get(doc.LanguageID).SemanticTokensRange(ctx, doc, params.Range)
}
