// Package bridge implements the language server's session lifecycle and
// request handling business logic.
package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/controller/diagnostics"
	"github.com/idekit/bridge-lsp/src/bridge/controller/docsync"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	notifier "github.com/idekit/bridge-lsp/src/bridge/gateway/ideclient"
	"github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"github.com/idekit/bridge-lsp/src/bridge/provider"
	"github.com/idekit/bridge-lsp/src/bridge/repository/session"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides this controller for an fx application.
var Module = fx.Options(fx.Provide(New))

const (
	_serverName    = "Bridge Language Server"
	_serverVersion = "0.1.0"

	_projectRootKey        = "server.projectRoot"
	_idleTimeoutMinutesKey = "server.idleTimeoutMinutes"
)

// Controller orchestrates the business logic for each request.
type Controller interface {
	// LSP methods defined per protocol.
	Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error)
	Initialized(ctx context.Context, params *protocol.InitializedParams) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	// Document related methods.
	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error
	DidChange(ctx context.Context, params *mapper.DidChangeParams) error
	DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error
	DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error

	// Code intel methods backed by the provider registry.
	Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error)
	Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error)
	Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error)
	References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error)
	DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) ([]protocol.DocumentSymbol, error)
	SemanticTokensFull(ctx context.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error)
	SemanticTokensRange(ctx context.Context, params *protocol.SemanticTokensRangeParams) (*protocol.SemanticTokens, error)

	// Custom methods for use within this service.
	InitSession(ctx context.Context, conn *jsonrpc.Conn) (uuid.UUID, error)
	EndSession(ctx context.Context, id uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Shutdowner  fx.Shutdowner
	Sessions    session.Repository
	Documents   docsync.Controller
	Diagnostics diagnostics.Controller
	Providers   provider.Registry
	IdeGateway  notifier.Gateway
	Logger      *zap.SugaredLogger
	Stats       tally.Scope
	Config      config.Provider
}

type controller struct {
	sessions    session.Repository
	documents   docsync.Controller
	diagnostics diagnostics.Controller
	providers   provider.Registry
	ideGateway  notifier.Gateway
	logger      *zap.SugaredLogger
	stats       tally.Scope

	projectRoot string
	shutdowner  fx.Shutdowner
	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleTimerMu sync.Mutex
}

// New constructs a new top-level controller for the service.
func New(p Params) (Controller, error) {
	var timeoutMinutesRaw int64
	if err := p.Config.Get(_idleTimeoutMinutesKey).Populate(&timeoutMinutesRaw); err != nil || timeoutMinutesRaw == 0 {
		return nil, fmt.Errorf("unable to get idle timeout from config: %w", err)
	}

	var projectRoot string
	if err := p.Config.Get(_projectRootKey).Populate(&projectRoot); err != nil {
		return nil, fmt.Errorf("unable to get project root from config: %w", err)
	}
	if projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving default project root: %w", err)
		}
		projectRoot = wd
	}
	projectRoot = filepath.Clean(projectRoot)

	c := &controller{
		sessions:    p.Sessions,
		documents:   p.Documents,
		diagnostics: p.Diagnostics,
		providers:   p.Providers,
		ideGateway:  p.IdeGateway,
		logger:      p.Logger.With("controller", "bridge"),
		stats:       p.Stats.SubScope("bridge"),
		projectRoot: projectRoot,
		shutdowner:  p.Shutdowner,
		idleTimeout: time.Duration(timeoutMinutesRaw) * time.Minute,
	}
	c.refreshIdleTimer(context.Background())

	return c, nil
}

// InitSession stores a session for a newly attached connection and registers
// its client with the gateway. The session starts uninitialized and serves
// nothing until the initialize handshake completes.
func (c *controller) InitSession(ctx context.Context, conn *jsonrpc.Conn) (uuid.UUID, error) {
	defer c.refreshIdleTimer(ctx)

	s := mapper.ConnToSession(conn)
	if err := c.ideGateway.RegisterClient(ctx, s.UUID, conn); err != nil {
		return uuid.Nil, err
	}
	if err := c.sessions.Set(ctx, s); err != nil {
		return uuid.Nil, err
	}

	sctx := context.WithValue(ctx, entity.SessionContextKey, s.UUID)
	if err := c.documents.InitSession(sctx); err != nil {
		return uuid.Nil, err
	}
	return s.UUID, nil
}

// EndSession includes any cleanup at the end of the session, during or after
// the last JSON-RPC request.
func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	defer c.refreshIdleTimer(ctx)

	if err := c.diagnostics.EndSession(ctx, id); err != nil {
		c.logger.Warnf("cleaning up diagnostics for session %q: %v", id, err)
	}
	if err := c.documents.EndSession(ctx, id); err != nil {
		c.logger.Warnf("cleaning up documents for session %q: %v", id, err)
	}
	if err := c.ideGateway.DeregisterClient(ctx, id); err != nil {
		c.logger.Error(err)
	}
	return c.sessions.Delete(ctx, id)
}

// requireReady returns the session when it has completed the initialize
// handshake, or a typed error naming the rejected method.
func (c *controller) requireReady(ctx context.Context, method string) (*entity.Session, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !s.CanServe() {
		return nil, &errors.NotInitializedError{Method: method}
	}
	return s, nil
}

// validateRoot checks that the claimed root location is the configured
// project root or nested under it. An empty claim falls back to the
// configured root.
func (c *controller) validateRoot(root string) (string, error) {
	if root == "" {
		return c.projectRoot, nil
	}
	root = filepath.Clean(root)

	rel, err := filepath.Rel(c.projectRoot, root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &errors.WorkspaceRootError{Root: root, WorkspaceRoot: c.projectRoot}
	}
	return root, nil
}

// refreshIdleTimer ensures that the service shuts down after a defined
// inactivity period with no connections.
func (c *controller) refreshIdleTimer(ctx context.Context) error {
	c.idleTimerMu.Lock()
	defer c.idleTimerMu.Unlock()

	// First call initializes new timer and leaves it running prior to first connection.
	if c.idleTimer == nil {
		c.idleTimer = time.NewTimer(c.idleTimeout)
		go func() {
			<-c.idleTimer.C
			c.logger.Info("Shutdown signal received.")
			if err := c.shutdowner.Shutdown(); err != nil {
				os.Exit(1)
			}
		}()
		return nil
	}

	// Subsequent calls stop the timer and reset it only if no connections are active.
	currentSessions, err := c.sessions.SessionCount(ctx)
	if err != nil {
		return fmt.Errorf("error resetting timeout: %w", err)
	}

	c.idleTimer.Stop()
	if currentSessions == 0 {
		c.idleTimer.Reset(c.idleTimeout)
	}
	return nil
}
