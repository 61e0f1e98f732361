package usecase

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/internal/capture"
	"github.com/adhikara/voicewire/internal/connection"
	"github.com/adhikara/voicewire/internal/protocol"
)

// VoiceEngine composes the connection session, the capture session, the
// aggregator and the store into the three entry actions a presentation layer
// issues: connect/disconnect, start/stop conversation, send.
type VoiceEngine struct {
	mu       sync.Mutex
	streamID string
	seq      int

	conn        *connection.Session
	capture     *capture.Session
	store       *ConversationStore
	transcriber *TranscriptionService
	logger      *zap.Logger
}

// NewVoiceEngine wires the components together: inbound frames route to the
// aggregator (text) or playback (binary), connection transitions drive the
// store flags, and captured chunks are framed onto the wire.
func NewVoiceEngine(
	conn *connection.Session,
	cap *capture.Session,
	store *ConversationStore,
	transcriber *TranscriptionService,
	logger *zap.Logger,
) *VoiceEngine {
	e := &VoiceEngine{
		conn:        conn,
		capture:     cap,
		store:       store,
		transcriber: transcriber,
		logger:      logger,
	}

	conn.SetHandler(e.handleFrame)
	conn.SetStateListener(e.handleConnectionState)
	cap.SetSink(e.forwardChunk)

	return e
}

// Connect dials the remote endpoint.
func (e *VoiceEngine) Connect(url string) {
	e.conn.Connect(url)
}

// Disconnect tears the connection down.
func (e *VoiceEngine) Disconnect() {
	e.conn.Disconnect()
}

// StartConversation announces a new audio stream and starts recording. A
// conversation session is created if none is current.
func (e *VoiceEngine) StartConversation(ctx context.Context) error {
	if e.store.CurrentSession() == nil {
		e.store.CreateSession("Conversation")
	}

	e.mu.Lock()
	e.streamID = uuid.NewString()
	e.seq = 0
	streamID := e.streamID
	e.mu.Unlock()

	start := protocol.NewAudioStart(streamID, capture.DefaultSampleRate, capture.DefaultChannels)
	if err := e.conn.Send(start); err != nil {
		return fmt.Errorf("failed to announce audio stream: %w", err)
	}

	if err := e.capture.StartRecording(ctx); err != nil {
		// Best effort: the remote drops a stream that never produced chunks.
		if sendErr := e.conn.Send(protocol.NewAudioEnd(streamID)); sendErr != nil {
			e.logger.Warn("Failed to close abandoned stream", zap.Error(sendErr))
		}
		return err
	}

	e.transcriber.StartUserTranscription()

	e.logger.Info("Conversation started", zap.String("streamID", streamID))
	return nil
}

// StopConversation stops recording and closes the audio stream.
func (e *VoiceEngine) StopConversation() {
	e.capture.StopRecording()

	e.mu.Lock()
	streamID := e.streamID
	e.streamID = ""
	e.mu.Unlock()

	if streamID == "" {
		return
	}

	if err := e.conn.Send(protocol.NewAudioEnd(streamID)); err != nil {
		e.logger.Warn("Failed to send audio_end", zap.Error(err))
	}

	e.logger.Info("Conversation stopped", zap.String("streamID", streamID))
}

// SendText sends a typed user message over the connection, tracking its
// delivery status on the stored message.
func (e *VoiceEngine) SendText(content string) error {
	msg := entities.NewTextMessage(entities.SenderUser, content)
	if err := msg.TransitionStatus(entities.MessageStatusSending); err != nil {
		return err
	}
	if err := e.store.AddMessage(msg); err != nil {
		return err
	}

	sendErr := e.conn.Send(protocol.NewUserText(content))

	updateErr := e.store.UpdateMessage(msg.ID, func(m *entities.Message) error {
		if sendErr != nil {
			return m.TransitionStatus(entities.MessageStatusError)
		}
		return m.TransitionStatus(entities.MessageStatusSent)
	})
	if updateErr != nil {
		e.logger.Error("Failed to update text message status", zap.Error(updateErr))
	}

	if sendErr != nil {
		return fmt.Errorf("failed to send text message: %w", sendErr)
	}
	return nil
}

// Close tears everything down: capture stops, in-flight transcription is
// cancelled, the connection closes.
func (e *VoiceEngine) Close() {
	e.capture.Close()
	e.transcriber.Close()
	e.conn.Disconnect()
}

// forwardChunk frames one captured chunk onto the wire. Runs on the capture
// run loop; send is non-blocking so producer order is preserved.
func (e *VoiceEngine) forwardChunk(chunk entities.AudioChunk) {
	e.mu.Lock()
	streamID := e.streamID
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	if streamID == "" {
		return
	}

	data := base64.StdEncoding.EncodeToString(pcm16Bytes(chunk.Samples))
	if err := e.conn.Send(protocol.NewAudioChunk(streamID, data, seq)); err != nil {
		e.logger.Warn("Failed to send audio chunk", zap.Int("seq", seq), zap.Error(err))
	}
}

// handleFrame routes one inbound frame. Runs on the read pump; playback is
// started off-goroutine so the pump never blocks.
func (e *VoiceEngine) handleFrame(frame connection.InboundFrame) {
	if frame.Binary {
		data := make([]byte, len(frame.Data))
		copy(data, frame.Data)
		go func() {
			if err := e.capture.PlayAudio(context.Background(), data); err != nil {
				e.logger.Error("Failed to play agent audio", zap.Error(err))
			}
		}()
		return
	}

	event, err := protocol.Parse(frame.Data)
	if err != nil {
		// The connection log already retains the raw frame.
		e.logger.Warn("Unparseable inbound frame", zap.Error(err))
		return
	}

	e.transcriber.HandleEvent(event)
}

// handleConnectionState mirrors connection transitions into the store. A
// broken connection aborts capture and cancels in-flight transcription; a
// clean disconnect leaves completed messages intact.
func (e *VoiceEngine) handleConnectionState(state entities.ConnectionState, reason string) {
	switch state {
	case entities.ConnectionStateConnecting:
		e.store.SetConnecting(true)

	case entities.ConnectionStateConnected:
		e.store.SetConnected(true)

	case entities.ConnectionStateDisconnected:
		e.store.SetConnected(false)

	case entities.ConnectionStateFailed:
		e.store.SetError(reason)
		e.capture.StopRecording()
		e.transcriber.CancelUserTranscription()
	}
}

// pcm16Bytes converts normalized samples to little-endian 16-bit PCM.
func pcm16Bytes(samples []float32) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(s*32767)))
	}
	return buf
}
