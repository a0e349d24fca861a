// Package factory holds user-defined factories for test data.
package factory

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// SessionContext is a user-defined factory for a context carrying the given session UUID.
func SessionContext(id uuid.UUID) context.Context {
	return context.WithValue(context.Background(), entity.SessionContextKey, id)
}

// Session is a user-defined factory for a session with the given UUID.
func Session(id uuid.UUID) *entity.Session {
	return &entity.Session{UUID: id}
}
