// Package transport accepts JSON-RPC connections over loopback TCP and a
// per-project Unix domain socket and hands them to a registered connection
// manager. Both servers share one accept/serve shape and stop idempotently:
// listener first, then live connections, then any held resource lease.
package transport

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ConnectionManager tracks each active connection throughout its lifecycle.
// NewConnection returns the context the connection's handlers run under.
type ConnectionManager interface {
	NewConnection(ctx context.Context, conn *jsonrpc.Conn) (context.Context, error)
	Handle(ctx context.Context, conn *jsonrpc.Conn, msg *jsonrpc.Message)
	RemoveConnection(ctx context.Context, id uuid.UUID)
}

// Server is one listening endpoint serving JSON-RPC connections.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	// Endpoint returns the bound address, empty until started.
	Endpoint() string
	ClientCount() int
	// Broadcast sends the same notification to every live connection.
	Broadcast(ctx context.Context, method string, params interface{}) error
}

// serverCore holds the accept loop and connection set shared by the TCP and
// Unix servers.
type serverCore struct {
	kind    jsonrpc.Kind
	mgr     ConnectionManager
	logger  *zap.SugaredLogger
	stats   tally.Scope
	running *atomic.Bool

	ln       net.Listener
	endpoint string

	conns   map[uuid.UUID]*jsonrpc.Conn
	connsMu sync.Mutex
	wg      sync.WaitGroup
}

func newServerCore(kind jsonrpc.Kind, mgr ConnectionManager, logger *zap.SugaredLogger, stats tally.Scope) *serverCore {
	return &serverCore{
		kind:    kind,
		mgr:     mgr,
		logger:  logger,
		stats:   stats,
		running: atomic.NewBool(false),
		conns:   make(map[uuid.UUID]*jsonrpc.Conn),
	}
}

// begin adopts the listener and starts accepting connections.
func (s *serverCore) begin(ln net.Listener) {
	s.ln = ln
	s.endpoint = ln.Addr().String()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *serverCore) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Warnf("accept on %q failed: %v", s.endpoint, err)
			}
			return
		}
		s.wg.Add(1)
		go s.serve(nc)
	}
}

func (s *serverCore) serve(nc net.Conn) {
	defer s.wg.Done()

	conn := jsonrpc.NewConn(nc, s.kind, s.logger)
	ctx, err := s.mgr.NewConnection(context.Background(), conn)
	if err != nil {
		s.logger.Errorf("rejecting connection on %q: %v", s.endpoint, err)
		conn.Close()
		return
	}

	s.connsMu.Lock()
	s.conns[conn.UUID()] = conn
	s.stats.Gauge("connections").Update(float64(len(s.conns)))
	s.connsMu.Unlock()

	s.logger.Infow("client connected", zap.Stringer("uuid", conn.UUID()), zap.String("endpoint", s.endpoint))
	conn.Go(ctx, s.mgr.Handle)
	<-conn.Done()

	s.connsMu.Lock()
	delete(s.conns, conn.UUID())
	s.stats.Gauge("connections").Update(float64(len(s.conns)))
	s.connsMu.Unlock()

	s.mgr.RemoveConnection(context.Background(), conn.UUID())
	s.logger.Infow("client disconnected", zap.Stringer("uuid", conn.UUID()))
}

// end closes the listener, then the live connections, and waits for the
// serve goroutines to drain. Safe to call more than once.
func (s *serverCore) end() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	var errs error
	if err := s.ln.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing listener %q: %w", s.endpoint, err))
	}

	s.connsMu.Lock()
	open := make([]*jsonrpc.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		open = append(open, conn)
	}
	s.connsMu.Unlock()

	for _, conn := range open {
		if err := conn.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	s.wg.Wait()
	return errs
}

func (s *serverCore) clientCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *serverCore) broadcast(ctx context.Context, method string, params interface{}) error {
	s.connsMu.Lock()
	open := make([]*jsonrpc.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		open = append(open, conn)
	}
	s.connsMu.Unlock()

	var errs error
	for _, conn := range open {
		if err := conn.Notify(ctx, method, params); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notifying %q: %w", conn.UUID(), err))
		}
	}
	return errs
}

var errNoConnectionManager = goerrors.New("no connection manager registered")
