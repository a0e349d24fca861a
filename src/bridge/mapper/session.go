package mapper

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	"github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/internal/jsonrpc"
	"github.com/idekit/bridge-lsp/src/bridge/model"
)

// SessionToModel maps a Session entity to its model equivalent.
func SessionToModel(f *entity.Session) *model.Session {
	return &model.Session{
		UUID:             f.UUID,
		InitializeParams: f.InitializeParams,
		Capabilities:     f.Capabilities,
		Conn:             f.Conn,
		State:            int32(f.State),
		WorkspaceRoot:    f.WorkspaceRoot,
	}
}

// ModelToSession maps a model Session to its entity equivalent.
func ModelToSession(f *model.Session) (*entity.Session, error) {
	return &entity.Session{
		UUID:             f.UUID,
		InitializeParams: f.InitializeParams,
		Capabilities:     f.Capabilities,
		Conn:             f.Conn,
		State:            entity.SessionState(f.State),
		WorkspaceRoot:    f.WorkspaceRoot,
	}, nil
}

// ConnToSession initializes a new Session entity bound to a connection.
func ConnToSession(c *jsonrpc.Conn) *entity.Session {
	return &entity.Session{
		UUID:  c.UUID(),
		Conn:  c,
		State: entity.StateUninitialized,
	}
}

// ContextToSessionUUID extracts the UUID from a context
func ContextToSessionUUID(c context.Context) (uuid.UUID, error) {
	s, ok := c.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, &errors.NoSessionFoundError{}
	}
	return s, nil
}
