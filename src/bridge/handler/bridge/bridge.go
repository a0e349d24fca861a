// Package bridge connects the wire dispatcher to the service's controller,
// registering a handler per JSON-RPC method and managing connection
// lifecycles for the transport servers.
package bridge

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	controller "github.com/idekit/bridge-lsp/src/bridge/controller/bridge"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/transport"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_workerPoolSizeKey = "server.workerPoolSize"

	_defaultWorkerPoolSize = 8
)

// Module provides the handler and hooks it into the transport.
var Module = fx.Options(fx.Provide(New), fx.Invoke(func(Handler) {}))

// Handler owns the method table served to every connection.
type Handler interface {
	Dispatcher() *jsonrpc.Dispatcher
}

// Params are inbound parameters to construct the handler.
type Params struct {
	fx.In

	Controller controller.Controller
	Transport  transport.Manager
	Config     config.Provider
	Lifecycle  fx.Lifecycle
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
}

type handler struct {
	dispatcher *jsonrpc.Dispatcher
}

// New constructs the handler, registers every served method on a dispatcher
// and installs the connection manager on the transport.
func New(p Params) (Handler, error) {
	var workers int
	if err := p.Config.Get(_workerPoolSizeKey).Populate(&workers); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _workerPoolSizeKey, err)
	}
	if workers <= 0 {
		workers = _defaultWorkerPoolSize
	}

	d := jsonrpc.NewDispatcher(workers, p.Logger, p.Stats)
	registerMethods(d, p.Controller)

	cm := &connectionManager{
		ctrl:       p.Controller,
		dispatcher: d,
		logger:     p.Logger,
		stats:      p.Stats.SubScope("json_rpc"),
	}
	if err := p.Transport.RegisterConnectionManager(cm); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			d.Close()
			return nil
		},
	})

	return &handler{dispatcher: d}, nil
}

func (h *handler) Dispatcher() *jsonrpc.Dispatcher {
	return h.dispatcher
}

// connectionManager binds each accepted connection to a session.
type connectionManager struct {
	ctrl       controller.Controller
	dispatcher *jsonrpc.Dispatcher
	logger     *zap.SugaredLogger
	stats      tally.Scope
}

// NewConnection stores a new session and returns the context its handlers
// run under.
func (c *connectionManager) NewConnection(ctx context.Context, conn *jsonrpc.Conn) (context.Context, error) {
	id, err := c.ctrl.InitSession(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}
	c.stats.Counter("connections_opened").Inc(1)
	return context.WithValue(ctx, entity.SessionContextKey, id), nil
}

// Handle routes one incoming message through the dispatcher.
func (c *connectionManager) Handle(ctx context.Context, conn *jsonrpc.Conn, msg *jsonrpc.Message) {
	c.dispatcher.Dispatch(ctx, conn, msg)
}

// RemoveConnection cleans up a closed connection.
func (c *connectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	// Ensure session is removed even if no Exit call has been received.
	ctx = context.WithValue(ctx, entity.SessionContextKey, id)
	if err := c.ctrl.EndSession(ctx, id); err != nil {
		c.logger.Warnf("cleaning up session %q: %v", id, err)
	}
	c.dispatcher.ReleaseConnection(id)
	c.stats.Counter("connections_closed").Inc(1)
}
