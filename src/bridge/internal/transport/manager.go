package transport

import (
	"context"
	goerrors "errors"
	"fmt"

	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/idekit/bridge-lsp/src/bridge/internal/portalloc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/serverinfofile"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	_projectRootKey = "server.projectRoot"

	_outputKeyAddress = "lsp-address"
	_outputKeySocket  = "lsp-socket"
)

// Module is an fx module serving JSON-RPC connections.
var Module = fx.Provide(New)

// Manager runs the transport servers as one unit.
type Manager interface {
	// RegisterConnectionManager sets the connection manager serving every
	// accepted connection. Must be called before the servers start.
	RegisterConnectionManager(cm ConnectionManager) error
	// Broadcast sends the same notification to every connection on every
	// transport.
	Broadcast(ctx context.Context, method string, params interface{}) error
	// Servers returns the managed transport servers.
	Servers() []Server
}

// Params define values to be used by the transport manager.
type Params struct {
	fx.In

	Config         config.Provider
	Lifecycle      fx.Lifecycle
	Logger         *zap.SugaredLogger
	Stats          tally.Scope
	Allocator      portalloc.Allocator
	FS             fs.BridgeFS
	ServerInfoFile serverinfofile.ServerInfoFile
}

type manager struct {
	logger         *zap.SugaredLogger
	serverInfoFile serverinfofile.ServerInfoFile

	cm   ConnectionManager
	tcp  *tcpServer
	unix *unixServer
}

// New creates a transport manager wired to start and stop with the
// application lifecycle.
func New(p Params) (Manager, error) {
	var projectRoot string
	if err := p.Config.Get(_projectRootKey).Populate(&projectRoot); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _projectRootKey, err)
	}

	m := &manager{
		logger:         p.Logger,
		serverInfoFile: p.ServerInfoFile,
	}
	stats := p.Stats.SubScope("transport")
	m.tcp = newTCPServer(nil, p.Allocator, p.Logger, stats)
	m.unix = newUnixServer(nil, p.Allocator, p.FS, projectRoot, p.Logger, stats)

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
		OnStop:  m.OnStop,
	})
	return m, nil
}

func (m *manager) RegisterConnectionManager(cm ConnectionManager) error {
	if m.cm != nil {
		return goerrors.New("cannot register a duplicate connection manager")
	}
	m.cm = cm
	m.tcp.mgr = cm
	m.unix.mgr = cm
	return nil
}

// OnStart brings up both servers and advertises their endpoints. A failure
// tears down whatever already started.
func (m *manager) OnStart(ctx context.Context) error {
	if m.cm == nil {
		return errNoConnectionManager
	}

	if err := m.tcp.Start(ctx); err != nil {
		return err
	}
	if err := m.unix.Start(ctx); err != nil {
		return multierr.Append(err, m.tcp.Stop(ctx))
	}

	if err := m.serverInfoFile.UpdateField(_outputKeyAddress, m.tcp.Endpoint()); err != nil {
		return multierr.Append(err, m.OnStop(ctx))
	}
	if err := m.serverInfoFile.UpdateField(_outputKeySocket, m.unix.Endpoint()); err != nil {
		return multierr.Append(err, m.OnStop(ctx))
	}
	return nil
}

func (m *manager) OnStop(ctx context.Context) error {
	return multierr.Combine(
		m.tcp.Stop(ctx),
		m.unix.Stop(ctx),
	)
}

func (m *manager) Broadcast(ctx context.Context, method string, params interface{}) error {
	return multierr.Combine(
		m.tcp.Broadcast(ctx, method, params),
		m.unix.Broadcast(ctx, method, params),
	)
}

func (m *manager) Servers() []Server {
	return []Server{m.tcp, m.unix}
}
