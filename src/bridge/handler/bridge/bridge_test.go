package bridge

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	controller "github.com/idekit/bridge-lsp/src/bridge/controller/bridge"
	uerrors "github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/transport"
	"github.com/idekit/bridge-lsp/src/bridge/internal/wire"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	cm transport.ConnectionManager
}

func (f *fakeTransport) RegisterConnectionManager(cm transport.ConnectionManager) error {
	f.cm = cm
	return nil
}

func (f *fakeTransport) Broadcast(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (f *fakeTransport) Servers() []transport.Server { return nil }

// fakeController records calls and returns canned results.
type fakeController struct {
	controller.Controller

	initializeErr error
	calls         chan string
	ended         chan uuid.UUID
}

func newFakeController() *fakeController {
	return &fakeController{
		calls: make(chan string, 32),
		ended: make(chan uuid.UUID, 4),
	}
}

func (f *fakeController) InitSession(ctx context.Context, conn *jsonrpc.Conn) (uuid.UUID, error) {
	return conn.UUID(), nil
}

func (f *fakeController) EndSession(ctx context.Context, id uuid.UUID) error {
	f.ended <- id
	return nil
}

func (f *fakeController) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	f.calls <- protocol.MethodInitialize
	if f.initializeErr != nil {
		return nil, f.initializeErr
	}
	return &protocol.InitializeResult{
		ServerInfo: &protocol.ServerInfo{Name: "test server"},
	}, nil
}

func (f *fakeController) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	f.calls <- protocol.MethodInitialized
	return nil
}

func (f *fakeController) Shutdown(ctx context.Context) error {
	f.calls <- protocol.MethodShutdown
	return nil
}

func (f *fakeController) Exit(ctx context.Context) error {
	f.calls <- protocol.MethodExit
	return nil
}

func (f *fakeController) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	f.calls <- protocol.MethodTextDocumentDidOpen
	return nil
}

func (f *fakeController) DidChange(ctx context.Context, params *mapper.DidChangeParams) error {
	f.calls <- protocol.MethodTextDocumentDidChange
	return nil
}

func (f *fakeController) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	f.calls <- protocol.MethodTextDocumentHover
	return nil, &uerrors.NotInitializedError{Method: protocol.MethodTextDocumentHover}
}

type testEnv struct {
	ctrl   *fakeController
	conn   net.Conn
	frames *wire.Reader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	provider, err := config.NewStaticProvider(map[string]interface{}{
		"server": map[string]interface{}{"workerPoolSize": 2},
	})
	require.NoError(t, err)

	ctrl := newFakeController()
	ft := &fakeTransport{}
	_, err = New(Params{
		Controller: ctrl,
		Transport:  ft,
		Config:     provider,
		Lifecycle:  fxtest.NewLifecycle(t),
		Logger:     zap.NewNop().Sugar(),
		Stats:      tally.NewTestScope("testing", nil),
	})
	require.NoError(t, err)
	require.NotNil(t, ft.cm)

	client, server := net.Pipe()
	conn := jsonrpc.NewConn(server, jsonrpc.KindTCP, zap.NewNop().Sugar())
	ctx, err := ft.cm.NewConnection(context.Background(), conn)
	require.NoError(t, err)
	conn.Go(ctx, ft.cm.Handle)

	t.Cleanup(func() {
		client.Close()
		conn.Close()
		ft.cm.RemoveConnection(context.Background(), conn.UUID())
	})

	return &testEnv{ctrl: ctrl, conn: client, frames: wire.NewReader(client)}
}

func (e *testEnv) send(t *testing.T, payload string) {
	t.Helper()
	_, err := e.conn.Write([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)))
	require.NoError(t, err)
}

func (e *testEnv) read(t *testing.T) string {
	t.Helper()
	payload, err := e.frames.Read()
	require.NoError(t, err)
	return string(payload)
}

func waitCall(t *testing.T, e *testEnv, method string) {
	t.Helper()
	select {
	case got := <-e.ctrl.calls:
		assert.Equal(t, method, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", method)
	}
}

func TestRouting(t *testing.T) {
	t.Run("should route initialize and return its result", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"processId":42}}`)

		resp := env.read(t)
		waitCall(t, env, protocol.MethodInitialize)
		assert.Contains(t, resp, `"test server"`)
		assert.Contains(t, resp, `"id":1`)
	})

	t.Run("should answer shutdown with a null result", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","id":2,"method":"shutdown"}`)

		resp := env.read(t)
		waitCall(t, env, protocol.MethodShutdown)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":null}`, resp)
	})

	t.Run("should answer unknown methods with method not found", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","id":3,"method":"workspace/unsupported"}`)

		resp := env.read(t)
		assert.Contains(t, resp, `-32601`)
	})

	t.Run("should route notifications without replying", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///a.go","languageId":"go","version":1,"text":"package a"}}}`)
		waitCall(t, env, protocol.MethodTextDocumentDidOpen)

		env.send(t, `{"jsonrpc":"2.0","method":"textDocument/didChange","params":{"textDocument":{"uri":"file:///a.go","version":2},"contentChanges":[{"text":"package b"}]}}`)
		waitCall(t, env, protocol.MethodTextDocumentDidChange)
	})

	t.Run("should route exit as a notification", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","method":"exit"}`)
		waitCall(t, env, protocol.MethodExit)
	})
}

func TestErrorMapping(t *testing.T) {
	t.Run("should answer before-initialize requests with server-not-initialized", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","id":4,"method":"textDocument/hover","params":{"textDocument":{"uri":"file:///a.go"},"position":{"line":0,"character":0}}}`)

		resp := env.read(t)
		waitCall(t, env, protocol.MethodTextDocumentHover)
		assert.Contains(t, resp, `-32002`)
	})

	t.Run("should answer an out-of-root initialize with invalid params", func(t *testing.T) {
		env := newTestEnv(t)
		env.ctrl.initializeErr = &uerrors.WorkspaceRootError{Root: "/elsewhere", WorkspaceRoot: "/project"}
		env.send(t, `{"jsonrpc":"2.0","id":5,"method":"initialize","params":{}}`)

		resp := env.read(t)
		waitCall(t, env, protocol.MethodInitialize)
		assert.Contains(t, resp, `-32602`)
	})

	t.Run("should answer malformed params with invalid params", func(t *testing.T) {
		env := newTestEnv(t)
		env.send(t, `{"jsonrpc":"2.0","id":6,"method":"textDocument/hover","params":{"textDocument":42}}`)

		resp := env.read(t)
		assert.Contains(t, resp, `-32602`)
	})
}

func TestWireError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int32
	}{
		{name: "not initialized", err: &uerrors.NotInitializedError{Method: "textDocument/hover"}, wantCode: -32002},
		{name: "workspace root violation", err: &uerrors.WorkspaceRootError{Root: "/a", WorkspaceRoot: "/b"}, wantCode: -32602},
		{name: "document not found", err: &uerrors.DocumentNotFoundError{}, wantCode: -32602},
		{name: "plain error", err: fmt.Errorf("boom"), wantCode: -32603},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("should map %s", tt.name), func(t *testing.T) {
			mapped := wireError(tt.err)
			var jerr *jsonrpc2.Error
			require.ErrorAs(t, mapped, &jerr)
			assert.Equal(t, jsonrpc2.Code(tt.wantCode), jerr.Code)
		})
	}
}
