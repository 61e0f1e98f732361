package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/internal/metrics"
	"github.com/adhikara/voicewire/internal/protocol"
)

// CancelledTranscript is written as the final text of a cancelled message.
const CancelledTranscript = "transcription cancelled"

// speakerTrack is the transient aggregation state for one speaker channel.
// It holds only a back-reference to the message being extended, never a copy
// of message content.
type speakerTrack struct {
	activeMessageID string
	accumulated     string
}

// TranscriptionService turns streaming speech and transcription events into
// message mutations in the conversation store. The user track is driven by
// capture lifecycle plus inbound transcription events; the agent track is
// driven purely by inbound response events addressed by item id. The two
// tracks never share state, so interleaved events cannot cross-write.
type TranscriptionService struct {
	mu    sync.Mutex
	user  speakerTrack
	agent map[string]*speakerTrack

	store   *ConversationStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewTranscriptionService creates an aggregator writing into the given store.
func NewTranscriptionService(store *ConversationStore, logger *zap.Logger, m *metrics.Metrics) *TranscriptionService {
	return &TranscriptionService{
		agent:   make(map[string]*speakerTrack),
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// HandleEvent dispatches one parsed protocol event.
func (t *TranscriptionService) HandleEvent(event interface{}) {
	switch ev := event.(type) {
	case protocol.SpeechStarted:
		t.StartUserTranscription()
	case protocol.SpeechStopped:
		t.HandleSpeechStopped()
	case protocol.TranscriptionDelta:
		t.AppendUserDelta(ev.Delta)
	case protocol.TranscriptionDone:
		t.FinishUserTranscription(ev.Transcript)
	case protocol.ResponseStarted:
		t.StartAgentResponse(ev.ItemID)
	case protocol.ResponseDelta:
		t.AppendAgentDelta(ev.ItemID, ev.Delta)
	case protocol.ResponseDone:
		t.FinishAgentResponse(ev.ItemID, ev.Text)
	case protocol.ServerError:
		t.logger.Error("Server reported error", zap.String("message", ev.Message))
	case protocol.Unknown:
		t.logger.Debug("Ignoring unrecognized event", zap.String("type", ev.Type))
	}
}

// StartUserTranscription opens a new user audio message unless one is already
// in flight.
func (t *TranscriptionService) StartUserTranscription() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.user.activeMessageID != "" {
		return
	}

	msg := entities.NewAudioMessage(entities.SenderUser)
	if err := msg.TransitionStatus(entities.MessageStatusTranscribing); err != nil {
		t.logger.Error("Failed to start transcription", zap.Error(err))
		return
	}
	msg.SetPartialTranscription("")

	if err := t.store.AddMessage(msg); err != nil {
		t.logger.Error("Failed to add user message", zap.Error(err))
		return
	}

	t.user.activeMessageID = msg.ID
	t.user.accumulated = ""
	t.store.SetCurrentTranscription("", true)

	t.logger.Info("User transcription started", zap.String("messageID", msg.ID))
}

// AppendUserDelta extends the in-flight user transcript. A delta with no
// active message is a protocol inconsistency: logged and dropped, not fatal.
func (t *TranscriptionService) AppendUserDelta(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.user.activeMessageID == "" {
		t.metrics.ProtocolInconsistencies.Inc()
		t.logger.Warn("Transcription delta with no active message", zap.String("delta", delta))
		return
	}

	t.user.accumulated += delta
	accumulated := t.user.accumulated

	err := t.store.UpdateMessage(t.user.activeMessageID, func(m *entities.Message) error {
		m.SetPartialTranscription(accumulated)
		return nil
	})
	if err != nil {
		t.logger.Error("Failed to update user message", zap.Error(err))
		return
	}

	t.store.SetCurrentTranscription(accumulated, true)
}

// FinishUserTranscription finalizes the in-flight user message. An empty
// transcript falls back to the accumulated deltas so partial progress is
// never lost.
func (t *TranscriptionService) FinishUserTranscription(transcript string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.user.activeMessageID == "" {
		t.metrics.ProtocolInconsistencies.Inc()
		t.logger.Warn("Transcription done with no active message")
		return
	}

	final := transcript
	if final == "" {
		final = t.user.accumulated
	}

	err := t.store.UpdateMessage(t.user.activeMessageID, func(m *entities.Message) error {
		m.FinalizeTranscription(final)
		return m.TransitionStatus(entities.MessageStatusReceived)
	})
	if err != nil {
		t.logger.Error("Failed to finalize user message", zap.Error(err))
	}

	t.logger.Info("User transcription finished",
		zap.String("messageID", t.user.activeMessageID),
		zap.Int("length", len(final)))

	t.user = speakerTrack{}
	t.store.SetCurrentTranscription("", false)
	t.metrics.TranscriptionsFinished.Inc()
}

// HandleSpeechStopped is informational only. Finalization waits for the
// transcription done event, since end-of-speech and availability of the final
// transcript are asynchronous on the remote side.
func (t *TranscriptionService) HandleSpeechStopped() {
	t.logger.Debug("Speech stopped")
}

// CancelUserTranscription aborts the in-flight user transcription, marking
// its message as failed with a cancellation transcript. A later speech start
// opens a fresh message.
func (t *TranscriptionService) CancelUserTranscription() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.user.activeMessageID == "" {
		return
	}

	err := t.store.UpdateMessage(t.user.activeMessageID, func(m *entities.Message) error {
		m.FinalizeTranscription(CancelledTranscript)
		return m.TransitionStatus(entities.MessageStatusError)
	})
	if err != nil {
		t.logger.Error("Failed to cancel user message", zap.Error(err))
	}

	t.logger.Info("User transcription cancelled", zap.String("messageID", t.user.activeMessageID))

	t.user = speakerTrack{}
	t.store.SetCurrentTranscription("", false)
	t.metrics.TranscriptionsCancelled.Inc()
}

// StartAgentResponse opens a new agent message for the given item id.
func (t *TranscriptionService) StartAgentResponse(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if itemID == "" {
		t.metrics.ProtocolInconsistencies.Inc()
		t.logger.Warn("Response started without item id")
		return
	}
	if _, ok := t.agent[itemID]; ok {
		return
	}

	msg := entities.NewAudioMessage(entities.SenderAgent)
	if err := msg.TransitionStatus(entities.MessageStatusTranscribing); err != nil {
		t.logger.Error("Failed to start agent response", zap.Error(err))
		return
	}
	msg.SetPartialTranscription("")

	if err := t.store.AddMessage(msg); err != nil {
		t.logger.Error("Failed to add agent message", zap.Error(err))
		return
	}

	t.agent[itemID] = &speakerTrack{activeMessageID: msg.ID}

	t.logger.Info("Agent response started",
		zap.String("itemID", itemID),
		zap.String("messageID", msg.ID))
}

// AppendAgentDelta extends the agent message addressed by item id.
func (t *TranscriptionService) AppendAgentDelta(itemID, delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	track, ok := t.agent[itemID]
	if !ok {
		t.metrics.ProtocolInconsistencies.Inc()
		t.logger.Warn("Response delta for unknown item", zap.String("itemID", itemID))
		return
	}

	track.accumulated += delta
	accumulated := track.accumulated

	err := t.store.UpdateMessage(track.activeMessageID, func(m *entities.Message) error {
		m.SetPartialTranscription(accumulated)
		return nil
	})
	if err != nil {
		t.logger.Error("Failed to update agent message", zap.Error(err))
	}
}

// FinishAgentResponse finalizes the agent message addressed by item id,
// falling back to accumulated deltas when no text is provided.
func (t *TranscriptionService) FinishAgentResponse(itemID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	track, ok := t.agent[itemID]
	if !ok {
		t.metrics.ProtocolInconsistencies.Inc()
		t.logger.Warn("Response done for unknown item", zap.String("itemID", itemID))
		return
	}

	final := text
	if final == "" {
		final = track.accumulated
	}

	err := t.store.UpdateMessage(track.activeMessageID, func(m *entities.Message) error {
		m.FinalizeTranscription(final)
		return m.TransitionStatus(entities.MessageStatusReceived)
	})
	if err != nil {
		t.logger.Error("Failed to finalize agent message", zap.Error(err))
	}

	delete(t.agent, itemID)
	t.metrics.TranscriptionsFinished.Inc()

	t.logger.Info("Agent response finished",
		zap.String("itemID", itemID),
		zap.Int("length", len(final)))
}

// UserMessageID returns the id of the in-flight user message, empty when none.
func (t *TranscriptionService) UserMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user.activeMessageID
}

// Close cancels any in-flight user transcription and abandons open agent
// items so no message is left stuck in Transcribing.
func (t *TranscriptionService) Close() {
	t.CancelUserTranscription()

	t.mu.Lock()
	defer t.mu.Unlock()

	for itemID, track := range t.agent {
		err := t.store.UpdateMessage(track.activeMessageID, func(m *entities.Message) error {
			m.FinalizeTranscription(CancelledTranscript)
			return m.TransitionStatus(entities.MessageStatusError)
		})
		if err != nil {
			t.logger.Error("Failed to cancel agent message", zap.Error(err))
		}
		delete(t.agent, itemID)
		t.metrics.TranscriptionsCancelled.Inc()
	}
}
