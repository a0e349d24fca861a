package bridge

import (
	"context"

	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"go.lsp.dev/protocol"
)

// DidOpen starts tracking a document and schedules its first diagnostics run.
func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDidOpen); err != nil {
		return err
	}

	if err := c.documents.DidOpen(ctx, params); err != nil {
		return err
	}
	return c.diagnostics.TrackDocument(ctx, protocol.TextDocumentIdentifier{URI: params.TextDocument.URI})
}

// DidChange applies edits to a tracked document. Stale or duplicate versions
// are rejected and the previously tracked content is kept.
func (c *controller) DidChange(ctx context.Context, params *mapper.DidChangeParams) error {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDidChange); err != nil {
		return err
	}

	if err := c.documents.DidChange(ctx, params); err != nil {
		return err
	}
	return c.diagnostics.Schedule(ctx, params.TextDocument.TextDocumentIdentifier)
}

// DidClose stops tracking a document and clears its published diagnostics.
func (c *controller) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDidClose); err != nil {
		return err
	}

	if err := c.documents.DidClose(ctx, params); err != nil {
		return err
	}
	return c.diagnostics.UntrackDocument(ctx, params.TextDocument)
}

// DidSave reconciles saved content and schedules a diagnostics run.
func (c *controller) DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error {
	if _, err := c.requireReady(ctx, protocol.MethodTextDocumentDidSave); err != nil {
		return err
	}

	if err := c.documents.DidSave(ctx, params); err != nil {
		return err
	}
	return c.diagnostics.Schedule(ctx, params.TextDocument)
}
