package bridge

import (
	"context"
	"encoding/json"
	goerrors "errors"

	controller "github.com/idekit/bridge-lsp/src/bridge/controller/bridge"
	uerrors "github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// registerMethods installs the served method table. Methods outside this set
// answer with a method-not-found error, and unknown notifications are
// dropped by the dispatcher.
func registerMethods(d *jsonrpc.Dispatcher, ctrl controller.Controller) {
	// Lifecycle related methods.
	d.RegisterRequest(protocol.MethodInitialize, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToInitializeParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.Initialize(ctx, params)
		return result, wireError(err)
	})
	d.RegisterNotification(protocol.MethodInitialized, func(ctx context.Context, raw json.RawMessage) error {
		params, err := mapper.ToInitializedParams(raw)
		if err != nil {
			return err
		}
		return ctrl.Initialized(ctx, params)
	})
	d.RegisterRequest(protocol.MethodShutdown, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return nil, wireError(ctrl.Shutdown(ctx))
	})
	d.RegisterNotification(protocol.MethodExit, func(ctx context.Context, raw json.RawMessage) error {
		return ctrl.Exit(ctx)
	})

	// Document related methods.
	d.RegisterNotification(protocol.MethodTextDocumentDidOpen, func(ctx context.Context, raw json.RawMessage) error {
		params, err := mapper.ToDidOpenTextDocumentParams(raw)
		if err != nil {
			return err
		}
		return ctrl.DidOpen(ctx, params)
	})
	d.RegisterNotification(protocol.MethodTextDocumentDidChange, func(ctx context.Context, raw json.RawMessage) error {
		params, err := mapper.ToDidChangeParams(raw)
		if err != nil {
			return err
		}
		return ctrl.DidChange(ctx, params)
	})
	d.RegisterNotification(protocol.MethodTextDocumentDidClose, func(ctx context.Context, raw json.RawMessage) error {
		params, err := mapper.ToDidCloseTextDocumentParams(raw)
		if err != nil {
			return err
		}
		return ctrl.DidClose(ctx, params)
	})
	d.RegisterNotification(protocol.MethodTextDocumentDidSave, func(ctx context.Context, raw json.RawMessage) error {
		params, err := mapper.ToDidSaveTextDocumentParams(raw)
		if err != nil {
			return err
		}
		return ctrl.DidSave(ctx, params)
	})

	// Code intel related methods.
	d.RegisterRequest(protocol.MethodTextDocumentHover, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToHoverParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.Hover(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodTextDocumentDefinition, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToDefinitionParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.Definition(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodTextDocumentCompletion, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToCompletionParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.Completion(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodTextDocumentReferences, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToReferenceParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.References(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodTextDocumentDocumentSymbol, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToDocumentSymbolParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.DocumentSymbol(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodSemanticTokensFull, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToSemanticTokensParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.SemanticTokensFull(ctx, params)
		return result, wireError(err)
	})
	d.RegisterRequest(protocol.MethodSemanticTokensRange, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		params, err := mapper.ToSemanticTokensRangeParams(raw)
		if err != nil {
			return nil, wireError(err)
		}
		result, err := ctrl.SemanticTokensRange(ctx, params)
		return result, wireError(err)
	})
}

// wireError converts a domain error into the structured error sent on the
// wire. Typed errors map to specific JSON-RPC codes; anything unrecognized
// becomes an internal error.
func wireError(err error) error {
	if err == nil {
		return nil
	}

	// Undecodable params on an otherwise valid envelope are the caller's
	// fault, not a wire-level parse failure.
	if goerrors.Is(err, jsonrpc2.ErrParse) {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	var jerr *jsonrpc2.Error
	if goerrors.As(err, &jerr) {
		return jerr
	}

	var notInit *uerrors.NotInitializedError
	if goerrors.As(err, &notInit) {
		return jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, err.Error())
	}

	var notFound *uerrors.DocumentNotFoundError
	if goerrors.As(err, &notFound) {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	if uerrors.IsBadRequest(err) {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}
