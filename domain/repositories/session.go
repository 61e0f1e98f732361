package repositories

import (
	"context"
	"errors"

	"github.com/adhikara/voicewire/domain/entities"
)

// ErrSessionNotFound is returned by lookups and updates for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists conversation sessions. Persistence is a
// collaborator of the engine: the store flushes through this interface and
// business logic never touches a driver directly.
type SessionRepository interface {
	Create(ctx context.Context, session *entities.ConversationSession) error
	GetByID(ctx context.Context, id string) (*entities.ConversationSession, error)
	GetRecent(ctx context.Context, limit int) ([]*entities.ConversationSession, error)
	Update(ctx context.Context, session *entities.ConversationSession) error
	Delete(ctx context.Context, id string) error
}
