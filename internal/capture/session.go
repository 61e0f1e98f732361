package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
	"github.com/adhikara/voicewire/internal/metrics"
)

// Fixed capture configuration. Not runtime-negotiable: the remote protocol
// announces exactly this format in audio_start.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBlockSize  = 4096

	// MaxRecordingDuration force-stops a recording through the same teardown
	// path as a manual stop.
	MaxRecordingDuration = 5 * time.Minute

	durationTick = 100 * time.Millisecond
)

var (
	// ErrDeviceUnavailable is returned when microphone acquisition fails.
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")

	// ErrPlaybackFailed is returned on decode or output failure.
	ErrPlaybackFailed = errors.New("capture: playback failed")

	// ErrBusy is returned when a start collides with an active recording or
	// playback.
	ErrBusy = errors.New("capture: session busy")
)

// ChunkSink consumes captured audio chunks in producer order.
type ChunkSink func(entities.AudioChunk)

// Session owns the recording/playback lifecycle. All mutation goes through
// its mutex; the run loop is tagged with a generation so a stopped recording
// cannot write into a newer one.
type Session struct {
	mu         sync.Mutex
	state      entities.CaptureState
	permission entities.MicPermission
	errReason  string

	level      float64
	durationMs int64

	gen    int
	stream repositories.DeviceStream
	stopCh chan struct{}

	playback repositories.Playback

	sink ChunkSink

	device repositories.AudioDevice
	player repositories.Player
	clock  clock.Clock

	maxDuration time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects the clock driving the duration timer.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithMaxDuration overrides the auto-stop threshold.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// NewSession creates an idle capture session and queries the microphone
// permission once. A platform without a permission API yields Unknown, to
// be resolved on the first start attempt.
func NewSession(
	device repositories.AudioDevice,
	player repositories.Player,
	permissions repositories.PermissionQuerier,
	logger *zap.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Session {
	s := &Session{
		state:       entities.CaptureStateIdle,
		permission:  entities.MicPermissionUnknown,
		device:      device,
		player:      player,
		clock:       clock.New(),
		maxDuration: MaxRecordingDuration,
		logger:      logger,
		metrics:     m,
	}
	for _, opt := range opts {
		opt(s)
	}

	if permissions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		perm, err := permissions.QueryMicPermission(ctx)
		if err != nil {
			logger.Warn("Permission query unsupported", zap.Error(err))
			perm = entities.MicPermissionUnknown
		}
		s.permission = perm
	}

	return s
}

// SetSink registers the consumer of captured chunks. It must be called
// before StartRecording.
func (s *Session) SetSink(sink ChunkSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// StartRecording acquires the capture device and begins streaming chunks to
// the sink. Starting while already recording is a no-op; starting while
// playing fails with ErrBusy. A Failed session may be restarted.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case entities.CaptureStateRecording:
		s.mu.Unlock()
		return nil
	case entities.CaptureStatePlaying:
		s.mu.Unlock()
		return ErrBusy
	}

	s.state = entities.CaptureStateRecording
	s.errReason = ""
	gen := s.gen
	s.mu.Unlock()

	config := repositories.CaptureConfig{
		SampleRate:       DefaultSampleRate,
		ChannelCount:     DefaultChannels,
		BlockSize:        DefaultBlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}

	stream, err := s.device.Acquire(ctx, config)

	s.mu.Lock()

	if gen != s.gen {
		// Stopped while acquiring; swallow the outcome either way.
		s.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return nil
	}

	if err != nil {
		s.state = entities.CaptureStateFailed
		s.errReason = fmt.Sprintf("device acquisition failed: %v", err)
		// Conservative: treat any acquisition failure as a denial.
		s.permission = entities.MicPermissionDenied
		s.mu.Unlock()

		s.logger.Error("Failed to acquire capture device", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.permission = entities.MicPermissionGranted
	s.stream = stream
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("Recording started",
		zap.Int("sampleRate", config.SampleRate),
		zap.Int("blockSize", config.BlockSize))

	go s.run(gen, stream, stopCh)
	return nil
}

// StopRecording tears down the stream and the duration timer and resets
// level and duration. Safe to call in any state; this is the single teardown
// path shared by manual stop, auto-stop and Close.
func (s *Session) StopRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRecordingLocked()
}

func (s *Session) stopRecordingLocked() {
	s.gen++

	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}

	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}

	s.level = 0
	s.durationMs = 0
	s.metrics.AudioLevel.Set(0)

	if s.state == entities.CaptureStateRecording {
		s.state = entities.CaptureStateIdle
		s.logger.Info("Recording stopped")
	}
}

// run consumes the chunk stream and drives the duration timer. Chunks and
// ticks are independent event sources; each is ordered within itself.
func (s *Session) run(gen int, stream repositories.DeviceStream, stopCh chan struct{}) {
	ticker := s.clock.Ticker(durationTick)
	defer ticker.Stop()

	start := s.clock.Now()

	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				// Device ended the stream on its own.
				s.mu.Lock()
				if gen == s.gen {
					s.stopRecordingLocked()
				}
				s.mu.Unlock()
				return
			}

			level := Level(chunk.Samples)

			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			s.level = level
			sink := s.sink
			s.mu.Unlock()

			s.metrics.AudioLevel.Set(level)
			s.metrics.ChunksCaptured.Inc()

			if sink != nil {
				sink(chunk)
			}

		case <-ticker.C:
			elapsed := s.clock.Now().Sub(start)

			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			s.durationMs = elapsed.Milliseconds()

			if elapsed >= s.maxDuration {
				s.logger.Info("Max recording duration reached, stopping",
					zap.Duration("elapsed", elapsed))
				s.stopRecordingLocked()
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()

		case <-stopCh:
			return
		}
	}
}

// PlayAudio decodes and plays an encoded audio buffer.
func (s *Session) PlayAudio(ctx context.Context, data []byte) error {
	return s.play(func() (repositories.Playback, error) {
		return s.player.PlayEncoded(ctx, data)
	})
}

// PlayRaw plays raw normalized samples at the fixed capture format.
func (s *Session) PlayRaw(ctx context.Context, samples []float32) error {
	return s.play(func() (repositories.Playback, error) {
		return s.player.PlaySamples(ctx, entities.AudioChunk{
			Samples:      samples,
			SampleRate:   DefaultSampleRate,
			ChannelCount: DefaultChannels,
		})
	})
}

func (s *Session) play(start func() (repositories.Playback, error)) error {
	s.mu.Lock()

	switch s.state {
	case entities.CaptureStateRecording:
		s.mu.Unlock()
		return ErrBusy
	case entities.CaptureStatePlaying:
		s.mu.Unlock()
		return ErrBusy
	}

	s.state = entities.CaptureStatePlaying
	s.errReason = ""
	s.mu.Unlock()

	playback, err := start()

	s.mu.Lock()
	if err != nil {
		s.state = entities.CaptureStateFailed
		s.errReason = fmt.Sprintf("playback failed: %v", err)
		s.mu.Unlock()

		s.logger.Error("Playback failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}

	s.playback = playback
	s.mu.Unlock()

	go func() {
		<-playback.Done()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.playback == playback {
			s.playback = nil
			if s.state == entities.CaptureStatePlaying {
				s.state = entities.CaptureStateIdle
			}
		}
	}()

	return nil
}

// StopPlaying force-stops active playback. Stopping an already-finished
// playback is benign.
func (s *Session) StopPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPlayingLocked()
}

func (s *Session) stopPlayingLocked() {
	if s.playback != nil {
		if err := s.playback.Stop(); err != nil {
			s.logger.Debug("Stopping playback", zap.Error(err))
		}
		s.playback = nil
	}

	if s.state == entities.CaptureStatePlaying {
		s.state = entities.CaptureStateIdle
	}
}

// Close stops any recording and playback. Safe in any state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRecordingLocked()
	s.stopPlayingLocked()
}

// State returns the current capture state.
func (s *Session) State() entities.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Permission returns the cached microphone permission.
func (s *Session) Permission() entities.MicPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Level returns the current normalized audio level.
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// DurationMs returns the elapsed recording duration in milliseconds.
func (s *Session) DurationMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationMs
}

// Err returns the readable failure reason, empty unless state is Failed.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errReason
}
