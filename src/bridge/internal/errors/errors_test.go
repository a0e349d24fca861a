package errors

import (
	"fmt"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsBadRequest(t *testing.T) {
	nb := New("not bad request")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "no uuid on wire",
			err:  NoUUIDOnWireError,
			want: true,
		},
		{
			name: "no message on wire",
			err:  NoMessageOnWireError,
			want: true,
		},
		{
			name: "workspace root",
			err:  &WorkspaceRootError{Root: "/other", WorkspaceRoot: "/proj"},
			want: true,
		},
		{
			name: "wrapped workspace root",
			err:  fmt.Errorf("initialize: %w", &WorkspaceRootError{Root: "/other", WorkspaceRoot: "/proj"}),
			want: true,
		},
		{
			name: "not bad request",
			err:  nb,
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBadRequest(tt.err))
		})
	}
}

func TestNotFoundUUID(t *testing.T) {
	id := uuid.Must(uuid.NewV4())

	got, ok := NotFoundUUID(&UUIDNotFoundError{UUID: id})
	assert.True(t, ok)
	assert.Equal(t, id, got)

	got, ok = NotFoundUUID(New("other"))
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, got)
}

func TestCustomErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "document not found",
			err:  &DocumentNotFoundError{},
		},
		{
			name: "document size limit",
			err:  &DocumentSizeLimitError{},
		},
		{
			name: "document outdated",
			err:  &DocumentOutdatedError{},
		},
		{
			name: "no session found",
			err:  &NoSessionFoundError{},
		},
		{
			name: "not initialized",
			err:  &NotInitializedError{Method: "textDocument/hover"},
		},
		{
			name: "port exhausted",
			err:  &PortExhaustedError{BasePort: 2087, Probes: 100},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.err)
			assert.True(t, len(tt.err.Error()) > 0)
		})
	}
}
