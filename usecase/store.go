package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

// ErrNoSession is returned by message commands when no session is current.
var ErrNoSession = errors.New("usecase: no current session")

// ErrMessageNotFound is returned when a message id is not in the current session.
var ErrMessageNotFound = errors.New("usecase: message not found")

// MessageStats summarizes the current session's messages.
type MessageStats struct {
	Total        int
	FromUser     int
	FromAgent    int
	WithAudio    int
	Transcribing int
	Failed       int
}

// ConversationStore owns the active conversation session and its message
// sequence. All mutation goes through its command methods; readers get
// snapshot copies. It also carries the connection and transcription flags
// the presentation layer observes.
type ConversationStore struct {
	mu      sync.Mutex
	current *entities.ConversationSession

	currentTranscription string
	isTranscribing       bool

	isConnected  bool
	isConnecting bool
	lastError    string

	sessions repositories.SessionRepository
	logger   *zap.Logger
}

// NewConversationStore creates an empty store. sessions may be nil; when set,
// Flush persists the current session through it.
func NewConversationStore(sessions repositories.SessionRepository, logger *zap.Logger) *ConversationStore {
	return &ConversationStore{
		sessions: sessions,
		logger:   logger,
	}
}

// CreateSession starts a fresh session and makes it current.
func (s *ConversationStore) CreateSession(title string) *entities.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := entities.NewConversationSession(title)
	s.current = session
	s.currentTranscription = ""
	s.isTranscribing = false

	s.logger.Info("Created conversation session",
		zap.String("sessionID", session.ID),
		zap.String("title", title))

	return s.snapshotLocked()
}

// SetCurrentSession replaces the active session wholesale.
func (s *ConversationStore) SetCurrentSession(session *entities.ConversationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = session
	s.currentTranscription = ""
	s.isTranscribing = false
}

// AddMessage appends a message to the current session.
func (s *ConversationStore) AddMessage(msg *entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoSession
	}

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	s.current.AddMessage(msg)
	return nil
}

// UpdateMessage applies mutate to the message with the given id. The mutation
// runs under the store lock; mutate must not call back into the store.
func (s *ConversationStore) UpdateMessage(id string, mutate func(*entities.Message) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoSession
	}

	msg := s.current.MessageByID(id)
	if msg == nil {
		return ErrMessageNotFound
	}

	if err := mutate(msg); err != nil {
		return err
	}

	s.current.Touch()
	return nil
}

// DeleteMessage removes a message from the current session.
func (s *ConversationStore) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoSession
	}
	if !s.current.RemoveMessage(id) {
		return ErrMessageNotFound
	}
	return nil
}

// ClearMessages drops every message from the current session.
func (s *ConversationStore) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Clear()
	}
}

// SetCurrentTranscription publishes the in-flight partial transcript.
func (s *ConversationStore) SetCurrentTranscription(text string, transcribing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentTranscription = text
	s.isTranscribing = transcribing
}

// SetConnecting flips the connecting flag.
func (s *ConversationStore) SetConnecting(connecting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isConnecting = connecting
	if connecting {
		s.isConnected = false
		s.lastError = ""
	}
}

// SetConnected flips the connected flag.
func (s *ConversationStore) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isConnected = connected
	s.isConnecting = false
	if connected {
		s.lastError = ""
	}
}

// SetError records a readable failure reason and clears the connection flags.
func (s *ConversationStore) SetError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = reason
	s.isConnected = false
	s.isConnecting = false
}

// CurrentSession returns a snapshot of the active session, or nil.
func (s *ConversationStore) CurrentSession() *entities.ConversationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Messages returns a snapshot of the current session's messages.
func (s *ConversationStore) Messages() []*entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	return copyMessages(s.current.Messages)
}

// MessagesBySender filters the current messages on sender.
func (s *ConversationStore) MessagesBySender(sender entities.Sender) []*entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}

	var out []*entities.Message
	for _, msg := range s.current.Messages {
		if msg.Sender == sender {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

// MessagesByKind filters the current messages on kind.
func (s *ConversationStore) MessagesByKind(kind entities.MessageKind) []*entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}

	var out []*entities.Message
	for _, msg := range s.current.Messages {
		if msg.Kind == kind {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

// Stats summarizes the current session.
func (s *ConversationStore) Stats() MessageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats MessageStats
	if s.current == nil {
		return stats
	}

	for _, msg := range s.current.Messages {
		stats.Total++
		switch msg.Sender {
		case entities.SenderUser:
			stats.FromUser++
		case entities.SenderAgent:
			stats.FromAgent++
		}
		if msg.HasAudio() {
			stats.WithAudio++
		}
		switch msg.Status {
		case entities.MessageStatusTranscribing:
			stats.Transcribing++
		case entities.MessageStatusError:
			stats.Failed++
		}
	}
	return stats
}

// CurrentTranscription returns the in-flight partial transcript and whether a
// transcription is running.
func (s *ConversationStore) CurrentTranscription() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTranscription, s.isTranscribing
}

// IsConnected reports the connection flag.
func (s *ConversationStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnected
}

// IsConnecting reports the connecting flag.
func (s *ConversationStore) IsConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnecting
}

// LastError returns the recorded failure reason, empty when healthy.
func (s *ConversationStore) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Flush persists the current session through the session repository, if one
// was configured.
func (s *ConversationStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	repo := s.sessions
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if repo == nil || snapshot == nil {
		return nil
	}

	if err := repo.Update(ctx, snapshot); err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return repo.Create(ctx, snapshot)
		}
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// snapshotLocked deep-copies the current session. Callers hold s.mu.
func (s *ConversationStore) snapshotLocked() *entities.ConversationSession {
	if s.current == nil {
		return nil
	}

	cp := *s.current
	cp.Messages = copyMessages(s.current.Messages)
	return &cp
}

func copyMessages(msgs []*entities.Message) []*entities.Message {
	out := make([]*entities.Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		if msg.Transcription != nil {
			tr := *msg.Transcription
			cp.Transcription = &tr
		}
		out[i] = &cp
	}
	return out
}
