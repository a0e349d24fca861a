package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/portalloc"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

const _tcpOwner = "bridge-lsp-tcp"

// tcpServer serves JSON-RPC over loopback TCP on a port leased from the
// allocator. The lease is released exactly once when the server stops.
type tcpServer struct {
	*serverCore

	allocator portalloc.Allocator
	port      int
	released  sync.Once
}

func newTCPServer(mgr ConnectionManager, allocator portalloc.Allocator, logger *zap.SugaredLogger, stats tally.Scope) *tcpServer {
	return &tcpServer{
		serverCore: newServerCore(jsonrpc.KindTCP, mgr, logger.With("transport", "tcp"), stats.SubScope("tcp")),
		allocator:  allocator,
	}
}

func (s *tcpServer) Start(ctx context.Context) error {
	if s.mgr == nil {
		return errNoConnectionManager
	}
	if s.running.Load() {
		return nil
	}

	port, err := s.allocator.AllocatePort(_tcpOwner)
	if err != nil {
		return fmt.Errorf("leasing listen port: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		s.allocator.ReleasePort(port)
		return fmt.Errorf("listening on leased port %d: %w", port, err)
	}

	s.port = port
	s.released = sync.Once{}
	s.begin(ln)
	s.logger.Infow("started JSON-RPC inbound", zap.String("address", s.endpoint))
	return nil
}

func (s *tcpServer) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	err := s.end()
	s.released.Do(func() {
		s.allocator.ReleasePort(s.port)
	})
	return err
}

func (s *tcpServer) Running() bool { return s.running.Load() }

func (s *tcpServer) Endpoint() string { return s.endpoint }

func (s *tcpServer) ClientCount() int { return s.clientCount() }

func (s *tcpServer) Broadcast(ctx context.Context, method string, params interface{}) error {
	return s.broadcast(ctx, method, params)
}
