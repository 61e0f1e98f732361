package repositories

import (
	"context"

	"github.com/adhikara/voicewire/domain/entities"
)

// CaptureConfig is the configuration requested from the capture device.
// These are requests to the platform, not guarantees.
type CaptureConfig struct {
	SampleRate       int
	ChannelCount     int
	BlockSize        int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioDevice abstracts microphone acquisition on the host platform.
type AudioDevice interface {
	// Acquire opens the capture device. It blocks until the device is ready
	// or the context is cancelled.
	Acquire(ctx context.Context, config CaptureConfig) (DeviceStream, error)
}

// DeviceStream is one open capture stream. Chunks are delivered in producer
// order; the channel is closed when the stream ends or Close is called.
type DeviceStream interface {
	Chunks() <-chan entities.AudioChunk
	Close() error
}

// PermissionQuerier reports the platform's microphone authorization state.
type PermissionQuerier interface {
	// QueryMicPermission returns the current permission. Platforms without a
	// permission API return MicPermissionUnknown and no error.
	QueryMicPermission(ctx context.Context) (entities.MicPermission, error)
}
