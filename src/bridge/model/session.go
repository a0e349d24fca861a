package model

import (
	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"go.lsp.dev/protocol"
)

// Session is the repository layer model for an individual IDE session.
type Session struct {
	UUID             uuid.UUID
	InitializeParams *protocol.InitializeParams
	Capabilities     *protocol.ServerCapabilities
	Conn             *jsonrpc.Conn
	State            int32
	WorkspaceRoot    string
}
