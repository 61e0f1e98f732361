// Package playback provides an audio output adapter that decodes WAV buffers
// and models playback timing without touching real output hardware. It
// implements repositories.Player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

// Player plays clips by waiting out their duration, optionally scaled for
// tests. The zero speedup plays in real time.
type Player struct {
	logger *zap.Logger

	// Speedup divides the clip duration; 0 means real time.
	Speedup int
}

// NewPlayer creates a player that honors clip durations in real time.
func NewPlayer(logger *zap.Logger) *Player {
	return &Player{logger: logger}
}

// PlayEncoded implements repositories.Player.
func (p *Player) PlayEncoded(ctx context.Context, data []byte) (repositories.Playback, error) {
	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}

	return p.PlaySamples(ctx, entities.AudioChunk{
		Samples:      samples,
		SampleRate:   sampleRate,
		ChannelCount: 1,
	})
}

// PlaySamples implements repositories.Player.
func (p *Player) PlaySamples(ctx context.Context, chunk entities.AudioChunk) (repositories.Playback, error) {
	if len(chunk.Samples) == 0 {
		return nil, errors.New("playback: empty clip")
	}
	if chunk.SampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", chunk.SampleRate)
	}

	duration := time.Duration(chunk.DurationMs() * float64(time.Millisecond))
	if p.Speedup > 1 {
		duration /= time.Duration(p.Speedup)
	}

	pb := &clipPlayback{
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}

	p.logger.Debug("Playing clip",
		zap.Int("samples", len(chunk.Samples)),
		zap.Duration("duration", duration))

	go func() {
		timer := time.NewTimer(duration)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-pb.stop:
		case <-ctx.Done():
		}
		pb.finish()
	}()

	return pb, nil
}

type clipPlayback struct {
	once sync.Once
	done chan struct{}
	stop chan struct{}
}

func (p *clipPlayback) Done() <-chan struct{} {
	return p.done
}

// Stop ends playback early. Stopping a finished playback is benign.
func (p *clipPlayback) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	return nil
}

func (p *clipPlayback) finish() {
	p.once.Do(func() { close(p.done) })
}
