// Package entity contains the domain types for the bridge daemon.
package entity

import (
	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"go.lsp.dev/protocol"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// SessionState tracks where a session is in the LSP lifecycle handshake.
type SessionState int32

const (
	// StateUninitialized is the state of a freshly accepted connection.
	StateUninitialized SessionState = iota
	// StateInitializing is entered when a valid initialize request arrives.
	StateInitializing
	// StateReady is entered on the initialized notification.
	StateReady
	// StateShuttingDown is entered on the shutdown request.
	StateShuttingDown
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	}
	return "unknown"
}

// Session entity representing a single IDE session.
type Session struct {
	UUID             uuid.UUID                    `json:"uuid" zap:"uuid"`
	InitializeParams *protocol.InitializeParams   `json:"-" zap:"-"`
	Capabilities     *protocol.ServerCapabilities `json:"-" zap:"-"`
	Conn             *jsonrpc.Conn                `json:"-" zap:"-"`
	State            SessionState                 `json:"state" zap:"state"`
	WorkspaceRoot    string                       `json:"workspaceRoot" zap:"workspaceRoot"`
}

// CanServe reports whether the session finished the lifecycle handshake and
// may be served document and language requests.
func (s *Session) CanServe() bool {
	return s.State == StateReady
}

// TextDocumentIdenfitierWithSession is a wrapper around TextDocumentIdentifier to include the session UUID.
type TextDocumentIdenfitierWithSession struct {
	Document    protocol.TextDocumentIdentifier
	SessionUUID uuid.UUID
}
