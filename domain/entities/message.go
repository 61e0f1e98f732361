package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// MessageKind discriminates the message variants.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindAudio MessageKind = "audio"
	MessageKindMixed MessageKind = "mixed"
)

// MessageStatus tracks a message through its delivery/transcription lifecycle.
type MessageStatus string

const (
	MessageStatusPending      MessageStatus = "pending"
	MessageStatusSending      MessageStatus = "sending"
	MessageStatusSent         MessageStatus = "sent"
	MessageStatusReceived     MessageStatus = "received"
	MessageStatusTranscribing MessageStatus = "transcribing"
	MessageStatusError        MessageStatus = "error"
)

// TranscriptionState holds the live transcription progress of an audio message.
// Once FinalText is non-empty, IsTranscribing must be false.
type TranscriptionState struct {
	IsTranscribing bool     `json:"is_transcribing" bson:"is_transcribing"`
	PartialText    string   `json:"partial_text" bson:"partial_text"`
	FinalText      string   `json:"final_text" bson:"final_text"`
	Confidence     *float64 `json:"confidence,omitempty" bson:"confidence,omitempty"`
}

// Message is a single conversation entry. Kind selects which optional fields
// are populated: text messages carry Content only, audio messages carry
// Transcription and optionally raw audio, mixed messages carry both.
// ID and Sender are immutable after creation.
type Message struct {
	ID        string        `json:"id" bson:"_id"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
	Sender    Sender        `json:"sender" bson:"sender"`
	Kind      MessageKind   `json:"kind" bson:"kind"`
	Status    MessageStatus `json:"status" bson:"status"`

	// Content is set for text and mixed messages.
	Content string `json:"content,omitempty" bson:"content,omitempty"`

	// Audio fields, set for audio and mixed messages.
	Transcription *TranscriptionState `json:"transcription,omitempty" bson:"transcription,omitempty"`
	AudioRef      string              `json:"audio_ref,omitempty" bson:"audio_ref,omitempty"`
	DurationMs    int64               `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
}

var (
	// ErrInvalidTransition is returned when a message status change would move
	// backwards through the lifecycle.
	ErrInvalidTransition = errors.New("invalid message status transition")

	// ErrUnsupportedKind is returned for an unrecognized message kind.
	ErrUnsupportedKind = errors.New("unsupported message kind")
)

// NewTextMessage creates a pending text message.
func NewTextMessage(sender Sender, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Sender:    sender,
		Kind:      MessageKindText,
		Status:    MessageStatusPending,
		Content:   content,
	}
}

// NewAudioMessage creates a pending audio message with an empty transcription.
func NewAudioMessage(sender Sender) *Message {
	return &Message{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Sender:        sender,
		Kind:          MessageKindAudio,
		Status:        MessageStatusPending,
		Transcription: &TranscriptionState{},
	}
}

// NewMixedMessage creates a pending message carrying both text and audio.
func NewMixedMessage(sender Sender, content string) *Message {
	m := NewAudioMessage(sender)
	m.Kind = MessageKindMixed
	m.Content = content
	return m
}

// allowed transitions; statuses absent as keys are terminal
var statusTransitions = map[MessageStatus]map[MessageStatus]bool{
	MessageStatusPending: {
		MessageStatusSending:      true,
		MessageStatusTranscribing: true,
		MessageStatusSent:         true,
		MessageStatusReceived:     true,
		MessageStatusError:        true,
	},
	MessageStatusSending: {
		MessageStatusSent:  true,
		MessageStatusError: true,
	},
	MessageStatusTranscribing: {
		MessageStatusTranscribing: true,
		MessageStatusReceived:     true,
		MessageStatusError:        true,
	},
}

// TransitionStatus moves the message to the given status, enforcing the
// monotonic lifecycle. A transition to the current status is a no-op.
func (m *Message) TransitionStatus(next MessageStatus) error {
	if m.Status == next {
		return nil
	}
	if allowed, ok := statusTransitions[m.Status]; !ok || !allowed[next] {
		return ErrInvalidTransition
	}
	m.Status = next
	return nil
}

// SetPartialTranscription records in-flight transcription progress.
func (m *Message) SetPartialTranscription(text string) {
	if m.Transcription == nil {
		m.Transcription = &TranscriptionState{}
	}
	m.Transcription.IsTranscribing = true
	m.Transcription.PartialText = text
}

// FinalizeTranscription records the authoritative transcript and closes the
// transcription state.
func (m *Message) FinalizeTranscription(text string) {
	if m.Transcription == nil {
		m.Transcription = &TranscriptionState{}
	}
	m.Transcription.IsTranscribing = false
	m.Transcription.PartialText = text
	m.Transcription.FinalText = text
}

// HasAudio reports whether the message kind carries audio fields.
func (m *Message) HasAudio() bool {
	return m.Kind == MessageKindAudio || m.Kind == MessageKindMixed
}

// Validate checks the per-kind field shape.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Sender != SenderUser && m.Sender != SenderAgent {
		return errors.New("invalid message sender")
	}
	switch m.Kind {
	case MessageKindText:
		if m.Transcription != nil {
			return errors.New("text message must not carry transcription state")
		}
	case MessageKindAudio, MessageKindMixed:
		if m.Transcription == nil {
			return errors.New("audio message requires transcription state")
		}
	default:
		return ErrUnsupportedKind
	}
	return nil
}
