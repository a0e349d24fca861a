// Package portalloc hands out loopback TCP ports and per-workspace socket
// paths so concurrent daemons never collide.
package portalloc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKey = "allocator"

	_defaultBasePort  = 2087
	_defaultMaxProbes = 100
)

// Module provides the allocator to the fx graph.
var Module = fx.Options(fx.Provide(New))

// Allocator leases loopback TCP ports and derives workspace socket paths.
type Allocator interface {
	// AllocatePort returns the first free port at or above the base port,
	// recording owner for the lease. Ports already leased through this
	// allocator are skipped without probing.
	AllocatePort(owner string) (int, error)
	// ReleasePort returns a leased port to the pool. Releasing an unknown
	// port is a no-op.
	ReleasePort(port int)
	// SocketPath returns the deterministic unix socket path for a workspace
	// root. It does not touch the filesystem.
	SocketPath(workspaceRoot string) string
}

// Config tunes the probe window and socket directory.
type Config struct {
	BasePort  int    `yaml:"basePort"`
	MaxProbes int    `yaml:"maxProbes"`
	SocketDir string `yaml:"socketDir"`
}

// Params defines the dependencies of this module.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
}

type allocator struct {
	mu        sync.Mutex
	leases    map[int]string
	basePort  int
	maxProbes int
	socketDir string
	logger    *zap.SugaredLogger
}

// New creates an Allocator from configuration, falling back to defaults for
// absent fields.
func New(p Params) (Allocator, error) {
	var cfg Config
	if err := p.Config.Get(_configKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("loading allocator config: %w", err)
	}
	if cfg.BasePort <= 0 {
		cfg.BasePort = _defaultBasePort
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = _defaultMaxProbes
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = filepath.Join(os.TempDir(), "bridge-lsp")
	}
	return &allocator{
		leases:    make(map[int]string),
		basePort:  cfg.BasePort,
		maxProbes: cfg.MaxProbes,
		socketDir: cfg.SocketDir,
		logger:    p.Logger,
	}, nil
}

func (a *allocator) AllocatePort(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.maxProbes; i++ {
		port := a.basePort + i
		if _, leased := a.leases[port]; leased {
			continue
		}

		// A successful probe bind proves the port is free right now. The
		// listener is closed immediately, the caller binds it for real.
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()

		a.leases[port] = owner
		a.logger.Infow("leased port", "port", port, "owner", owner)
		return port, nil
	}

	return 0, &errors.PortExhaustedError{BasePort: a.basePort, Probes: a.maxProbes}
}

func (a *allocator) ReleasePort(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, ok := a.leases[port]; ok {
		delete(a.leases, port)
		a.logger.Infow("released port", "port", port, "owner", owner)
	}
}

func (a *allocator) SocketPath(workspaceRoot string) string {
	sum := sha256.Sum256([]byte(workspaceRoot))
	name := fmt.Sprintf("%s-%s.sock", filepath.Base(workspaceRoot), hex.EncodeToString(sum[:])[:12])
	return filepath.Join(a.socketDir, name)
}
