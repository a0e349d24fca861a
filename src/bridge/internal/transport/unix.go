package transport

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/portalloc"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// unixServer serves JSON-RPC on a Unix domain socket at a deterministic
// per-project path. A stale socket from a dead process is removed before
// binding, and the live socket is restricted to the owning user.
type unixServer struct {
	*serverCore

	allocator   portalloc.Allocator
	fs          fs.BridgeFS
	projectRoot string
	socketPath  string
}

func newUnixServer(mgr ConnectionManager, allocator portalloc.Allocator, bfs fs.BridgeFS, projectRoot string, logger *zap.SugaredLogger, stats tally.Scope) *unixServer {
	return &unixServer{
		serverCore:  newServerCore(jsonrpc.KindUnix, mgr, logger.With("transport", "unix"), stats.SubScope("unix")),
		allocator:   allocator,
		fs:          bfs,
		projectRoot: projectRoot,
	}
}

func (s *unixServer) Start(ctx context.Context) error {
	if s.mgr == nil {
		return errNoConnectionManager
	}
	if s.running.Load() {
		return nil
	}

	path := s.allocator.SocketPath(s.projectRoot)
	if err := s.fs.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	exists, err := s.fs.FileExists(path)
	if err != nil {
		return fmt.Errorf("checking for stale socket %q: %w", path, err)
	}
	if exists {
		// A previous process left its socket behind. Reclaim the path.
		if err := s.fs.Remove(path); err != nil {
			return fmt.Errorf("removing stale socket %q: %w", path, err)
		}
		s.logger.Infow("removed stale socket", zap.String("path", path))
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on socket %q: %w", path, err)
	}
	if err := s.fs.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	s.socketPath = path
	s.begin(ln)
	s.logger.Infow("started JSON-RPC inbound", zap.String("socket", path))
	return nil
}

func (s *unixServer) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	err := s.end()

	// The listener removes the socket on close. Clean up only if it remains.
	if exists, statErr := s.fs.FileExists(s.socketPath); statErr == nil && exists {
		if rmErr := s.fs.Remove(s.socketPath); rmErr != nil {
			s.logger.Warnf("removing socket %q: %v", s.socketPath, rmErr)
		}
	}
	return err
}

func (s *unixServer) Running() bool { return s.running.Load() }

func (s *unixServer) Endpoint() string { return s.socketPath }

func (s *unixServer) ClientCount() int { return s.clientCount() }

func (s *unixServer) Broadcast(ctx context.Context, method string, params interface{}) error {
	return s.broadcast(ctx, method, params)
}
