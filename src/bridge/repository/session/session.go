// Package session stores the live client sessions of the daemon, keyed by
// connection UUID. Entities are mapped to storage models on the way in and
// back out, so callers always work on copies.
package session

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	"github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"github.com/idekit/bridge-lsp/src/bridge/model"
	tally "github.com/uber-go/tally/v4"
)

// Repository is an entity-scoped repository.
type Repository interface {
	Get(context.Context, uuid.UUID) (*entity.Session, error)
	GetFromContext(ctx context.Context) (*entity.Session, error)
	// GetAllFromWorkspaceRoot returns the sessions serving workspaceRoot.
	// When states are given, only sessions in one of those states match.
	GetAllFromWorkspaceRoot(ctx context.Context, workspaceRoot string, states ...entity.SessionState) ([]*entity.Session, error)
	Set(context.Context, *entity.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	SessionCount(ctx context.Context) (int, error)
}

type repository struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.Session
	stats    tally.Scope
}

// New returns an in-memory session store reporting its size to stats.
func New(stats tally.Scope) Repository {
	return &repository{
		sessions: make(map[uuid.UUID]*model.Session),
		stats:    stats,
	}
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return mapper.ModelToSession(s)
}

func (r *repository) GetFromContext(ctx context.Context) (*entity.Session, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *repository) GetAllFromWorkspaceRoot(ctx context.Context, workspaceRoot string, states ...entity.SessionState) ([]*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make([]*entity.Session, 0)
	for _, s := range r.sessions {
		if s.WorkspaceRoot != workspaceRoot || !stateMatches(entity.SessionState(s.State), states) {
			continue
		}
		sess, err := mapper.ModelToSession(s)
		if err != nil {
			return nil, err
		}
		found = append(found, sess)
	}
	return found, nil
}

func (r *repository) Set(ctx context.Context, s *entity.Session) error {
	if s == nil {
		return errors.New("can't save nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UUID] = mapper.SessionToModel(s)
	r.stats.Gauge("active_connections").Update(float64(len(r.sessions)))
	return nil
}

// Delete removes the session for id. Deleting an unknown id is not an error.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	r.stats.Gauge("active_connections").Update(float64(len(r.sessions)))
	return nil
}

func (r *repository) SessionCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions), nil
}

func stateMatches(state entity.SessionState, states []entity.SessionState) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if state == want {
			return true
		}
	}
	return false
}
