// Package notifier sends outbound notifications and requests to connected
// IDE clients.
package notifier

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

const _errSendToClient = "sending call/notification to IDE: %w"

// Gateway is used to send outbound notifications and calls to the IDE.
// All calls to the gateway should include a context with a session UUID,
// which is used to route traffic to the correct IDE connection.
type Gateway interface {
	// RegisterClient registers a new client with the gateway. Should be called each time a new IDE connection is initialized.
	RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc.Conn) error
	// DeregisterClient removes a client from the gateway. Should be called each time an IDE connection is closed.
	DeregisterClient(ctx context.Context, id uuid.UUID) error

	// Methods from the protocol.Client surface.
	LogMessage(ctx context.Context, params *protocol.LogMessageParams) (err error)
	ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) (err error)
	ShowMessageRequest(ctx context.Context, params *protocol.ShowMessageRequestParams) (result *protocol.MessageActionItem, err error)
	PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) (err error)
	ApplyEdit(ctx context.Context, params *protocol.ApplyWorkspaceEditParams) (result *protocol.ApplyWorkspaceEditResponse, err error)

	// ApplyDocumentEdit asks the IDE to replace a document's contents, sending
	// the minimal ranged edits between the tracked and desired text.
	ApplyDocumentEdit(ctx context.Context, doc protocol.TextDocumentIdentifier, before string, after string) (result *protocol.ApplyWorkspaceEditResponse, err error)

	// GetLogMessageWriter returns an io.Writer that logs messages to the IDE client.
	// Do not store or use across requests, get a new one each time as needed.
	GetLogMessageWriter(ctx context.Context, prefix string) (io.Writer, error)
}

type gateway struct {
	clients   map[uuid.UUID]*jsonrpc.Conn
	clientsMu sync.Mutex
	logger    *zap.SugaredLogger
}

// New returns a Gateway for sending IDE notifications and calls.
func New(logger *zap.SugaredLogger) Gateway {
	return &gateway{
		clients: make(map[uuid.UUID]*jsonrpc.Conn),
		logger:  logger,
	}
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc.Conn) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	g.clients[id] = conn
	return nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	delete(g.clients, id)
	return nil
}

func (g *gateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) (err error) {
	c, err := g.getClient(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return c.Notify(ctx, protocol.MethodWindowLogMessage, params)
}

func (g *gateway) ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) (err error) {
	c, err := g.getClient(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return c.Notify(ctx, protocol.MethodWindowShowMessage, params)
}

func (g *gateway) ShowMessageRequest(ctx context.Context, params *protocol.ShowMessageRequestParams) (result *protocol.MessageActionItem, err error) {
	c, err := g.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf(_errSendToClient, err)
	}

	selection := protocol.MessageActionItem{}
	if err := c.Call(ctx, protocol.MethodWindowShowMessageRequest, params, &selection); err != nil {
		return nil, fmt.Errorf(_errSendToClient, err)
	}
	if selection.Title == "" {
		// The user dismissed the prompt without choosing.
		return nil, nil
	}
	return &selection, nil
}

func (g *gateway) PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) (err error) {
	c, err := g.getClient(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return c.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, params)
}

func (g *gateway) ApplyEdit(ctx context.Context, params *protocol.ApplyWorkspaceEditParams) (result *protocol.ApplyWorkspaceEditResponse, err error) {
	c, err := g.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf(_errSendToClient, err)
	}

	response := protocol.ApplyWorkspaceEditResponse{}
	if err := c.Call(ctx, protocol.MethodWorkspaceApplyEdit, params, &response); err != nil {
		return nil, fmt.Errorf(_errSendToClient, err)
	}
	return &response, nil
}

func (g *gateway) ApplyDocumentEdit(ctx context.Context, doc protocol.TextDocumentIdentifier, before string, after string) (*protocol.ApplyWorkspaceEditResponse, error) {
	edits, err := mapper.TextsToTextEdits(before, after)
	if err != nil {
		return nil, fmt.Errorf("computing edits for %q: %w", doc.URI, err)
	}
	if len(edits) == 0 {
		return &protocol.ApplyWorkspaceEditResponse{Applied: true}, nil
	}

	return g.ApplyEdit(ctx, &protocol.ApplyWorkspaceEditParams{
		Edit: protocol.WorkspaceEdit{
			Changes: map[uri.URI][]protocol.TextEdit{
				doc.URI: edits,
			},
		},
	})
}

func (g *gateway) GetLogMessageWriter(ctx context.Context, prefix string) (io.Writer, error) {
	if _, err := g.getClient(ctx); err != nil {
		return nil, fmt.Errorf(_errSendToClient, err)
	}
	return &logMessageWriter{
		ctx:     ctx,
		gateway: g,
		prefix:  prefix,
	}, nil
}

func (g *gateway) getClient(ctx context.Context) (*jsonrpc.Conn, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}

	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return nil, fmt.Errorf("no registered client for session %q", id)
	}
	return c, nil
}

// logMessageWriter forwards written lines to the IDE's log output.
type logMessageWriter struct {
	ctx     context.Context
	gateway *gateway
	prefix  string
}

func (w *logMessageWriter) Write(p []byte) (n int, err error) {
	message := strings.TrimSuffix(string(p), "\n")
	if w.prefix != "" {
		message = fmt.Sprintf("[%s] %s", w.prefix, message)
	}
	if err := w.gateway.LogMessage(w.ctx, &protocol.LogMessageParams{
		Type:    protocol.MessageTypeLog,
		Message: message,
	}); err != nil {
		return 0, err
	}
	return len(p), nil
}
