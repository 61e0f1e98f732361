package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationSession is the ordered ledger of messages for one conversation.
// At most one session is current at a time; UpdatedAt is refreshed on every
// message mutation.
type ConversationSession struct {
	ID        string     `json:"id" bson:"_id"`
	Title     string     `json:"title" bson:"title"`
	Messages  []*Message `json:"messages" bson:"messages"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	IsActive  bool       `json:"is_active" bson:"is_active"`
}

// NewConversationSession creates an active session with no messages.
func NewConversationSession(title string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  make([]*Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
}

// AddMessage appends a message to the session.
func (s *ConversationSession) AddMessage(m *Message) {
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = time.Now()
}

// RemoveMessage deletes the message with the given id. It reports whether a
// message was removed.
func (s *ConversationSession) RemoveMessage(id string) bool {
	for i, m := range s.Messages {
		if m.ID == id {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			s.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// MessageByID returns the message with the given id, or nil.
func (s *ConversationSession) MessageByID(id string) *Message {
	for _, m := range s.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Touch refreshes UpdatedAt after an in-place message mutation.
func (s *ConversationSession) Touch() {
	s.UpdatedAt = time.Now()
}

// Clear removes all messages from the session.
func (s *ConversationSession) Clear() {
	s.Messages = s.Messages[:0]
	s.UpdatedAt = time.Now()
}

// Deactivate marks the session as no longer current.
func (s *ConversationSession) Deactivate() {
	s.IsActive = false
	s.UpdatedAt = time.Now()
}

// Validate validates the session data.
func (s *ConversationSession) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	for _, m := range s.Messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}
