package repositories

import (
	"context"

	"github.com/adhikara/voicewire/domain/entities"
)

// Player abstracts audio output on the host platform.
type Player interface {
	// PlayEncoded decodes and plays an encoded audio buffer (e.g. WAV).
	PlayEncoded(ctx context.Context, data []byte) (Playback, error)
	// PlaySamples plays raw normalized samples at the given format.
	PlaySamples(ctx context.Context, chunk entities.AudioChunk) (Playback, error)
}

// Playback is one in-flight playback handle. Done is closed on natural
// completion; Stop on an already-finished playback is benign.
type Playback interface {
	Done() <-chan struct{}
	Stop() error
}
