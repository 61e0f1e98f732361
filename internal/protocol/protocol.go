package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged with the remote service.
const (
	// Outbound control frames.
	TypeAudioStart = "audio_start"
	TypeAudioChunk = "audio_chunk"
	TypeAudioEnd   = "audio_end"
	TypeUserText   = "message"

	// Inbound event frames.
	TypeSpeechStarted      = "audio.speech_started"
	TypeSpeechStopped      = "audio.speech_stopped"
	TypeTranscriptionDelta = "transcription.delta"
	TypeTranscriptionDone  = "transcription.done"
	TypeResponseStarted    = "response.started"
	TypeResponseDelta      = "response.delta"
	TypeResponseDone       = "response.done"
	TypeServerError        = "error"
)

// AudioConfig describes the outbound audio format announced in audio_start.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

// AudioStart announces the beginning of an audio stream.
type AudioStart struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Config    AudioConfig `json:"config"`
}

// AudioChunk carries one base64-encoded block of PCM samples.
type AudioChunk struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
	Seq       int    `json:"seq"`
}

// AudioEnd announces the end of an audio stream.
type AudioEnd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// NewAudioStart builds an audio_start frame with the fixed capture format.
func NewAudioStart(sessionID string, sampleRate, channels int) AudioStart {
	return AudioStart{
		Type:      TypeAudioStart,
		SessionID: sessionID,
		Config: AudioConfig{
			SampleRate: sampleRate,
			Channels:   channels,
			Format:     "pcm",
		},
	}
}

// NewAudioChunk builds an audio_chunk frame.
func NewAudioChunk(sessionID, data string, seq int) AudioChunk {
	return AudioChunk{
		Type:      TypeAudioChunk,
		SessionID: sessionID,
		Data:      data,
		Seq:       seq,
	}
}

// NewAudioEnd builds an audio_end frame.
func NewAudioEnd(sessionID string) AudioEnd {
	return AudioEnd{Type: TypeAudioEnd, SessionID: sessionID}
}

// UserText carries a typed text message from the user.
type UserText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewUserText builds a text message frame.
func NewUserText(text string) UserText {
	return UserText{Type: TypeUserText, Text: text}
}

// SpeechStarted signals that the remote detected the start of user speech.
type SpeechStarted struct{}

// SpeechStopped signals that the remote detected the end of user speech.
// Informational only: finalization waits for TranscriptionDone.
type SpeechStopped struct{}

// TranscriptionDelta is an incremental fragment of the user transcript.
type TranscriptionDelta struct {
	Delta string `json:"delta"`
}

// TranscriptionDone carries the authoritative user transcript. Transcript may
// be empty, in which case the consumer falls back to its accumulated text.
type TranscriptionDone struct {
	Transcript string `json:"transcript"`
}

// ResponseStarted opens an agent response addressed by item id.
type ResponseStarted struct {
	ItemID string `json:"item_id"`
}

// ResponseDelta is an incremental fragment of an agent response.
type ResponseDelta struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

// ResponseDone finalizes an agent response.
type ResponseDone struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

// ServerError is a remote-reported error event.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown is any inbound frame with an unrecognized type. It is accepted and
// logged, never silently dropped.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

type envelope struct {
	Type string `json:"type"`
}

// Parse decodes one inbound text frame into its typed event. Frames that are
// not valid JSON return an error; the caller retains the raw bytes.
func Parse(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	switch env.Type {
	case TypeSpeechStarted:
		return SpeechStarted{}, nil

	case TypeSpeechStopped:
		return SpeechStopped{}, nil

	case TypeTranscriptionDelta:
		var ev TranscriptionDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid transcription.delta frame: %w", err)
		}
		return ev, nil

	case TypeTranscriptionDone:
		var ev TranscriptionDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid transcription.done frame: %w", err)
		}
		return ev, nil

	case TypeResponseStarted:
		var ev ResponseStarted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid response.started frame: %w", err)
		}
		return ev, nil

	case TypeResponseDelta:
		var ev ResponseDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid response.delta frame: %w", err)
		}
		return ev, nil

	case TypeResponseDone:
		var ev ResponseDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid response.done frame: %w", err)
		}
		return ev, nil

	case TypeServerError:
		var ev ServerError
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("invalid error frame: %w", err)
		}
		return ev, nil

	default:
		return Unknown{Type: env.Type, Raw: json.RawMessage(data)}, nil
	}
}
