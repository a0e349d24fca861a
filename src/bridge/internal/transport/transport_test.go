package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/portalloc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testConnectionManager struct {
	removed chan uuid.UUID
}

func newTestConnectionManager() *testConnectionManager {
	return &testConnectionManager{removed: make(chan uuid.UUID, 16)}
}

func (m *testConnectionManager) NewConnection(ctx context.Context, conn *jsonrpc.Conn) (context.Context, error) {
	return ctx, nil
}

func (m *testConnectionManager) Handle(ctx context.Context, conn *jsonrpc.Conn, msg *jsonrpc.Message) {
	if msg.IsRequest() {
		conn.Reply(ctx, msg.ID, "pong", nil)
	}
}

func (m *testConnectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	m.removed <- id
}

// freeBasePort finds a port with headroom for a fresh probe sequence.
func freeBasePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newAllocator(t *testing.T, basePort int) portalloc.Allocator {
	t.Helper()
	provider, err := config.NewStaticProvider(map[string]interface{}{
		"allocator": map[string]interface{}{
			"basePort":  basePort,
			"maxProbes": 20,
			"socketDir": t.TempDir(),
		},
	})
	require.NoError(t, err)

	a, err := portalloc.New(portalloc.Params{
		Config: provider,
		Logger: zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return a
}

func newStartedTCPServer(t *testing.T, mgr ConnectionManager) *tcpServer {
	t.Helper()
	s := newTCPServer(mgr, newAllocator(t, freeBasePort(t)), zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, s.Stop(context.Background()))
	})
	return s
}

// dialFrames connects a raw client and returns its frame reader.
func dialFrames(t *testing.T, network, address string) (net.Conn, *wire.Reader) {
	t.Helper()
	nc, err := net.Dial(network, address)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return nc, wire.NewReader(nc)
}

func waitClientCount(t *testing.T, s Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count never reached %d, have %d", want, s.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTCPServer(t *testing.T) {
	t.Run("should answer requests from a connected client", func(t *testing.T) {
		mgr := newTestConnectionManager()
		s := newStartedTCPServer(t, mgr)

		nc, frames := dialFrames(t, "tcp", s.Endpoint())
		_, err := nc.Write(frame(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		require.NoError(t, err)

		payload, err := frames.Read()
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"pong"}`, string(payload))
	})

	t.Run("should broadcast byte-identical frames to every client", func(t *testing.T) {
		mgr := newTestConnectionManager()
		s := newStartedTCPServer(t, mgr)

		_, framesA := dialFrames(t, "tcp", s.Endpoint())
		_, framesB := dialFrames(t, "tcp", s.Endpoint())
		waitClientCount(t, s, 2)

		require.NoError(t, s.Broadcast(context.Background(), "window/logMessage", map[string]interface{}{
			"type":    3,
			"message": "indexing complete",
		}))

		payloadA, err := framesA.Read()
		require.NoError(t, err)
		payloadB, err := framesB.Read()
		require.NoError(t, err)
		assert.Equal(t, payloadA, payloadB)
		assert.JSONEq(t, `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"indexing complete"}}`, string(payloadA))
	})

	t.Run("should remove connections after disconnect", func(t *testing.T) {
		mgr := newTestConnectionManager()
		s := newStartedTCPServer(t, mgr)

		nc, _ := dialFrames(t, "tcp", s.Endpoint())
		waitClientCount(t, s, 1)
		require.NoError(t, nc.Close())

		select {
		case <-mgr.removed:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for connection removal")
		}
		waitClientCount(t, s, 0)
	})

	t.Run("should stop idempotently and release the port", func(t *testing.T) {
		mgr := newTestConnectionManager()
		allocator := newAllocator(t, freeBasePort(t))
		s := newTCPServer(mgr, allocator, zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
		require.NoError(t, s.Start(context.Background()))
		endpoint := s.Endpoint()

		require.NoError(t, s.Stop(context.Background()))
		require.NoError(t, s.Stop(context.Background()))
		assert.False(t, s.Running())

		// The released port is available for a fresh listener.
		ln, err := net.Listen("tcp", endpoint)
		require.NoError(t, err)
		require.NoError(t, ln.Close())
	})

	t.Run("should fail to start without a connection manager", func(t *testing.T) {
		s := newTCPServer(nil, newAllocator(t, freeBasePort(t)), zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
		assert.ErrorIs(t, s.Start(context.Background()), errNoConnectionManager)
	})
}

func TestUnixServer(t *testing.T) {
	newStartedUnixServer := func(t *testing.T, mgr ConnectionManager, root string) *unixServer {
		s := newUnixServer(mgr, newAllocator(t, freeBasePort(t)), fs.New(), root, zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
		require.NoError(t, s.Start(context.Background()))
		t.Cleanup(func() {
			require.NoError(t, s.Stop(context.Background()))
		})
		return s
	}

	t.Run("should serve clients on the project socket", func(t *testing.T) {
		mgr := newTestConnectionManager()
		s := newStartedUnixServer(t, mgr, t.TempDir())

		nc, frames := dialFrames(t, "unix", s.Endpoint())
		_, err := nc.Write(frame(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`))
		require.NoError(t, err)

		payload, err := frames.Read()
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":"pong"}`, string(payload))
	})

	t.Run("should restrict the socket to the owner", func(t *testing.T) {
		mgr := newTestConnectionManager()
		s := newStartedUnixServer(t, mgr, t.TempDir())

		info, err := os.Stat(s.Endpoint())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("should reclaim a stale socket left by a dead process", func(t *testing.T) {
		root := t.TempDir()
		allocator := newAllocator(t, freeBasePort(t))
		path := allocator.SocketPath(root)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

		// A bound-then-abandoned socket file.
		stale, err := net.Listen("unix", path)
		require.NoError(t, err)
		stale.(*net.UnixListener).SetUnlinkOnClose(false)
		require.NoError(t, stale.Close())
		_, statErr := os.Stat(path)
		require.NoError(t, statErr)

		mgr := newTestConnectionManager()
		s := newUnixServer(mgr, allocator, fs.New(), root, zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
		require.NoError(t, s.Start(context.Background()))
		t.Cleanup(func() {
			require.NoError(t, s.Stop(context.Background()))
		})

		nc, err := net.Dial("unix", s.Endpoint())
		require.NoError(t, err)
		require.NoError(t, nc.Close())
	})

	t.Run("should remove the socket on stop", func(t *testing.T) {
		mgr := newTestConnectionManager()
		allocator := newAllocator(t, freeBasePort(t))
		s := newUnixServer(mgr, allocator, fs.New(), t.TempDir(), zap.NewNop().Sugar(), tally.NewTestScope("testing", nil))
		require.NoError(t, s.Start(context.Background()))
		path := s.Endpoint()

		require.NoError(t, s.Stop(context.Background()))
		require.NoError(t, s.Stop(context.Background()))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func frame(t *testing.T, payload string) []byte {
	t.Helper()
	return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload))
}
