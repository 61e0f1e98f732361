// Package device provides capture-device adapters. The synthetic device
// stands in for a real microphone on platforms where the demo runs headless
// and in tests that need deterministic chunk streams.
package device

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

// ErrNoDevice simulates a platform with no usable microphone.
var ErrNoDevice = errors.New("device: no capture device available")

// Synthetic produces sine-tone chunks at roughly real-time pacing. It
// implements repositories.AudioDevice.
type Synthetic struct {
	// Frequency of the generated tone in Hz.
	Frequency float64
	// Amplitude of the tone, 0..1.
	Amplitude float64
}

// NewSynthetic returns a tone generator device with speech-like level.
func NewSynthetic() *Synthetic {
	return &Synthetic{Frequency: 440, Amplitude: 0.1}
}

// Acquire opens a synthetic stream producing blocks until closed.
func (d *Synthetic) Acquire(ctx context.Context, config repositories.CaptureConfig) (repositories.DeviceStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &syntheticStream{
		chunks: make(chan entities.AudioChunk),
		done:   make(chan struct{}),
	}

	go s.generate(config, d.Frequency, d.Amplitude)
	return s, nil
}

type syntheticStream struct {
	chunks chan entities.AudioChunk
	done   chan struct{}
}

func (s *syntheticStream) Chunks() <-chan entities.AudioChunk {
	return s.chunks
}

func (s *syntheticStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *syntheticStream) generate(config repositories.CaptureConfig, freq, amp float64) {
	defer close(s.chunks)

	blockDuration := time.Duration(config.BlockSize) * time.Second / time.Duration(config.SampleRate)
	ticker := time.NewTicker(blockDuration)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * freq / float64(config.SampleRate)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			samples := make([]float32, config.BlockSize*config.ChannelCount)
			for i := range samples {
				samples[i] = float32(amp * math.Sin(phase))
				phase += step
			}

			chunk := entities.AudioChunk{
				Samples:      samples,
				SampleRate:   config.SampleRate,
				ChannelCount: config.ChannelCount,
			}

			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
	}
}

// Unavailable always fails acquisition. It implements
// repositories.AudioDevice for failure-path wiring.
type Unavailable struct{}

// Acquire implements repositories.AudioDevice.
func (Unavailable) Acquire(ctx context.Context, config repositories.CaptureConfig) (repositories.DeviceStream, error) {
	return nil, ErrNoDevice
}

// StaticPermissions reports a fixed permission state. It implements
// repositories.PermissionQuerier.
type StaticPermissions struct {
	Permission entities.MicPermission
}

// QueryMicPermission implements repositories.PermissionQuerier.
func (p StaticPermissions) QueryMicPermission(ctx context.Context) (entities.MicPermission, error) {
	return p.Permission, nil
}

// UnsupportedPermissions simulates a platform without a permission API.
type UnsupportedPermissions struct{}

// QueryMicPermission implements repositories.PermissionQuerier.
func (UnsupportedPermissions) QueryMicPermission(ctx context.Context) (entities.MicPermission, error) {
	return entities.MicPermissionUnknown, errors.New("device: permission query not supported")
}
