package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

// SessionRepository keeps conversation sessions in process memory. It is the
// default persistence backend; the engine runs without any external store.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.ConversationSession
}

// NewSessionRepository creates an empty in-memory repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*entities.ConversationSession),
	}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *entities.ConversationSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = clone(session)
	return nil
}

// GetByID returns the session with the given id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.ConversationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, repositories.ErrSessionNotFound
	}
	return clone(session), nil
}

// GetRecent returns up to limit sessions, most recently updated first.
func (r *SessionRepository) GetRecent(ctx context.Context, limit int) ([]*entities.ConversationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.ConversationSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, clone(session))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update replaces a stored session.
func (r *SessionRepository) Update(ctx context.Context, session *entities.ConversationSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return repositories.ErrSessionNotFound
	}
	r.sessions[session.ID] = clone(session)
	return nil
}

// Delete removes a stored session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return repositories.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func clone(s *entities.ConversationSession) *entities.ConversationSession {
	cp := *s
	cp.Messages = make([]*entities.Message, len(s.Messages))
	for i, m := range s.Messages {
		mc := *m
		if m.Transcription != nil {
			tr := *m.Transcription
			mc.Transcription = &tr
		}
		cp.Messages[i] = &mc
	}
	return &cp
}
