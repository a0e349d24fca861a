package bridge

import (
	"context"
	"fmt"

	"github.com/idekit/bridge-lsp/src/bridge/entity"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"go.lsp.dev/protocol"
)

// Initialize negotiates capabilities for a connection. A client may send
// initialize again after reaching Ready or after shutdown, which resets the
// session and renegotiates from scratch.
func (c *controller) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	c.stats.Counter("initialize").Inc(1)

	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting session from context: %w", err)
	}

	root, err := c.validateRoot(mapper.InitializeParamsToRootPath(params))
	if err != nil {
		// The claimed root is outside this project. Leave the session state
		// untouched so the client can retry with a corrected root.
		return nil, err
	}

	capabilities := c.serverCapabilities()
	s.InitializeParams = params
	s.WorkspaceRoot = root
	s.Capabilities = &capabilities
	s.State = entity.StateInitializing
	if err := c.sessions.Set(ctx, s); err != nil {
		return nil, fmt.Errorf("setting updated session state: %w", err)
	}

	return &protocol.InitializeResult{
		ServerInfo: &protocol.ServerInfo{
			Name:    _serverName,
			Version: _serverVersion,
		},
		Capabilities: capabilities,
	}, nil
}

// Initialized completes the handshake and moves the session to Ready.
func (c *controller) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	if s.State != entity.StateInitializing {
		c.logger.Warnf("ignoring initialized notification for session %q in state %q", s.UUID, s.State)
		return nil
	}

	s.State = entity.StateReady
	if err := c.sessions.Set(ctx, s); err != nil {
		return fmt.Errorf("setting updated session state: %w", err)
	}

	if peers, err := c.sessions.GetAllFromWorkspaceRoot(ctx, s.WorkspaceRoot, entity.StateReady); err == nil && len(peers) > 1 {
		c.logger.Debugf("workspace %q now has %d ready sessions", s.WorkspaceRoot, len(peers))
	}

	c.ideGateway.ShowMessage(ctx, &protocol.ShowMessageParams{
		Message: fmt.Sprintf("Connection to %s is now initialized.", _serverName),
		Type:    protocol.MessageTypeInfo,
	})
	return nil
}

// Shutdown retires the session's negotiated state. The connection stays open
// and a subsequent initialize is allowed to start a fresh handshake.
func (c *controller) Shutdown(ctx context.Context) error {
	c.stats.Counter("shutdown").Inc(1)

	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	if err := c.diagnostics.EndSession(ctx, s.UUID); err != nil {
		c.logger.Warnf("cleaning up diagnostics during shutdown: %v", err)
	}

	// Drop tracked documents and leave an empty store so a renewed handshake
	// starts from a clean slate.
	if err := c.documents.EndSession(ctx, s.UUID); err != nil {
		c.logger.Warnf("cleaning up documents during shutdown: %v", err)
	}
	if err := c.documents.InitSession(ctx); err != nil {
		c.logger.Warnf("resetting document store during shutdown: %v", err)
	}

	s.Capabilities = nil
	s.State = entity.StateShuttingDown
	return c.sessions.Set(ctx, s)
}

// Exit ends this session only. The process and its transport servers keep
// serving other connections.
func (c *controller) Exit(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("error during session exit: %w", err)
	}

	if s.Conn != nil {
		if err := s.Conn.Close(); err != nil {
			c.logger.Warnf("closing connection for session %q: %v", s.UUID, err)
		}
	}
	return c.EndSession(ctx, s.UUID)
}

func (c *controller) serverCapabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		TextDocumentSync: protocol.TextDocumentSyncOptions{
			OpenClose: true,
			Change:    protocol.TextDocumentSyncKindIncremental,
			Save: &protocol.SaveOptions{
				IncludeText: true,
			},
		},
		HoverProvider:          true,
		DefinitionProvider:     true,
		ReferencesProvider:     true,
		DocumentSymbolProvider: true,
		CompletionProvider: &protocol.CompletionOptions{
			ResolveProvider: false,
		},
		SemanticTokensProvider: map[string]interface{}{
			"legend": map[string]interface{}{
				"tokenTypes":     []string{"namespace", "type", "function", "variable", "keyword", "comment", "string"},
				"tokenModifiers": []string{"declaration", "readonly"},
			},
			"full":  true,
			"range": true,
		},
	}
}
