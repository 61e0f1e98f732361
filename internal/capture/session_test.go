package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
	"github.com/adhikara/voicewire/internal/metrics"
)

// fakeDevice hands out a manually driven stream.
type fakeDevice struct {
	mu      sync.Mutex
	stream  *fakeStream
	failErr error
}

func (d *fakeDevice) Acquire(ctx context.Context, config repositories.CaptureConfig) (repositories.DeviceStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.stream = &fakeStream{chunks: make(chan entities.AudioChunk, 16)}
	return d.stream, nil
}

type fakeStream struct {
	mu     sync.Mutex
	closed bool
	chunks chan entities.AudioChunk
}

func (s *fakeStream) Chunks() <-chan entities.AudioChunk { return s.chunks }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *fakeStream) push(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.chunks <- entities.AudioChunk{Samples: samples, SampleRate: DefaultSampleRate, ChannelCount: DefaultChannels}
	}
}

// fakePlayer returns manually completed playbacks.
type fakePlayer struct {
	mu      sync.Mutex
	failErr error
	last    *fakePlayback
}

func (p *fakePlayer) PlayEncoded(ctx context.Context, data []byte) (repositories.Playback, error) {
	return p.start()
}

func (p *fakePlayer) PlaySamples(ctx context.Context, chunk entities.AudioChunk) (repositories.Playback, error) {
	return p.start()
}

func (p *fakePlayer) start() (repositories.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return nil, p.failErr
	}
	p.last = &fakePlayback{done: make(chan struct{})}
	return p.last, nil
}

type fakePlayback struct {
	once sync.Once
	done chan struct{}
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Stop() error {
	p.finish()
	return nil
}
func (p *fakePlayback) finish() { p.once.Do(func() { close(p.done) }) }

type staticPermissions struct {
	perm entities.MicPermission
	err  error
}

func (p staticPermissions) QueryMicPermission(ctx context.Context) (entities.MicPermission, error) {
	return p.perm, p.err
}

func newTestSession(t *testing.T, device repositories.AudioDevice, player repositories.Player, opts ...Option) *Session {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewSession(device, player, staticPermissions{perm: entities.MicPermissionGranted}, zap.NewNop(), m, opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestPermissionQueriedAtConstruction(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	s := NewSession(&fakeDevice{}, &fakePlayer{}, staticPermissions{perm: entities.MicPermissionDenied}, zap.NewNop(), m)
	if s.Permission() != entities.MicPermissionDenied {
		t.Errorf("Expected denied permission, got %s", s.Permission())
	}

	// Unsupported query falls back to Unknown.
	m2 := metrics.New(prometheus.NewRegistry())
	s2 := NewSession(&fakeDevice{}, &fakePlayer{}, staticPermissions{err: errors.New("unsupported")}, zap.NewNop(), m2)
	if s2.Permission() != entities.MicPermissionUnknown {
		t.Errorf("Expected unknown permission, got %s", s2.Permission())
	}
}

func TestStartAndStopRecording(t *testing.T) {
	device := &fakeDevice{}
	s := newTestSession(t, device, &fakePlayer{})

	var mu sync.Mutex
	var received []entities.AudioChunk
	s.SetSink(func(c entities.AudioChunk) {
		mu.Lock()
		received = append(received, c)
		mu.Unlock()
	})

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	if s.State() != entities.CaptureStateRecording {
		t.Fatalf("Expected recording state, got %s", s.State())
	}

	if s.Permission() != entities.MicPermissionGranted {
		t.Errorf("Successful start should grant permission, got %s", s.Permission())
	}

	loud := make([]float32, 64)
	for i := range loud {
		loud[i] = 0.2
	}
	device.stream.push(loud)

	waitFor(t, "chunk delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	waitFor(t, "level update", func() bool {
		return s.Level() > 0
	})

	s.StopRecording()

	if s.State() != entities.CaptureStateIdle {
		t.Errorf("Expected idle after stop, got %s", s.State())
	}

	if s.Level() != 0 {
		t.Errorf("Stop should reset level to 0, got %f", s.Level())
	}

	if s.DurationMs() != 0 {
		t.Errorf("Stop should reset duration to 0, got %d", s.DurationMs())
	}
}

func TestStartRecordingWhileRecordingIsNoop(t *testing.T) {
	device := &fakeDevice{}
	s := newTestSession(t, device, &fakePlayer{})

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	first := device.stream

	if err := s.StartRecording(context.Background()); err != nil {
		t.Errorf("Second StartRecording should be a no-op, got %v", err)
	}

	if device.stream != first {
		t.Error("Second StartRecording must not acquire a new stream")
	}

	s.StopRecording()
}

func TestAcquisitionFailureSetsFailedAndDenied(t *testing.T) {
	device := &fakeDevice{failErr: errors.New("hardware busy")}
	s := newTestSession(t, device, &fakePlayer{})

	err := s.StartRecording(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}

	if s.State() != entities.CaptureStateFailed {
		t.Errorf("Expected failed state, got %s", s.State())
	}

	if s.Permission() != entities.MicPermissionDenied {
		t.Errorf("Acquisition failure should set permission denied, got %s", s.Permission())
	}

	if s.Err() == "" {
		t.Error("Expected a readable failure reason")
	}

	// Explicit restart clears the failure.
	device.mu.Lock()
	device.failErr = nil
	device.mu.Unlock()

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("Restart after failure should work, got %v", err)
	}

	if s.State() != entities.CaptureStateRecording {
		t.Errorf("Expected recording after restart, got %s", s.State())
	}

	s.StopRecording()
}

func TestAutoStopAtMaxDuration(t *testing.T) {
	device := &fakeDevice{}
	mock := clock.NewMock()
	s := newTestSession(t, device, &fakePlayer{}, WithClock(mock), WithMaxDuration(MaxRecordingDuration))

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	// Let the run loop install its ticker before advancing the clock.
	time.Sleep(50 * time.Millisecond)

	// Each mock ticker fire sleeps 1ms (clock.gosched), so advancing to the
	// 5-minute threshold in 100ms ticks costs ~3s of real time.
	deadline := time.Now().Add(10 * time.Second)
	for s.State() == entities.CaptureStateRecording && time.Now().Before(deadline) {
		mock.Add(30 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}

	if s.State() != entities.CaptureStateIdle {
		t.Fatalf("Auto-stop should transition to idle, got %s", s.State())
	}

	if s.Level() != 0 || s.DurationMs() != 0 {
		t.Errorf("Auto-stop must reset telemetry, level=%f duration=%d", s.Level(), s.DurationMs())
	}
}

func TestStopRecordingSafeWhenIdle(t *testing.T) {
	s := newTestSession(t, &fakeDevice{}, &fakePlayer{})

	// Must not panic or change state.
	s.StopRecording()
	if s.State() != entities.CaptureStateIdle {
		t.Errorf("Expected idle, got %s", s.State())
	}
}

func TestPlayAudioLifecycle(t *testing.T) {
	player := &fakePlayer{}
	s := newTestSession(t, &fakeDevice{}, player)

	if err := s.PlayRaw(context.Background(), make([]float32, 160)); err != nil {
		t.Fatalf("PlayRaw failed: %v", err)
	}

	if s.State() != entities.CaptureStatePlaying {
		t.Fatalf("Expected playing state, got %s", s.State())
	}

	player.mu.Lock()
	pb := player.last
	player.mu.Unlock()
	pb.finish()

	waitFor(t, "playback completion", func() bool {
		return s.State() == entities.CaptureStateIdle
	})
}

func TestStopPlaying(t *testing.T) {
	player := &fakePlayer{}
	s := newTestSession(t, &fakeDevice{}, player)

	if err := s.PlayRaw(context.Background(), make([]float32, 160)); err != nil {
		t.Fatalf("PlayRaw failed: %v", err)
	}

	s.StopPlaying()

	if s.State() != entities.CaptureStateIdle {
		t.Errorf("Expected idle after StopPlaying, got %s", s.State())
	}

	// StopPlaying with nothing active is benign.
	s.StopPlaying()
}

func TestPlaybackFailureSetsFailed(t *testing.T) {
	player := &fakePlayer{failErr: errors.New("decode error")}
	s := newTestSession(t, &fakeDevice{}, player)

	err := s.PlayAudio(context.Background(), []byte("junk"))
	if !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("Expected ErrPlaybackFailed, got %v", err)
	}

	if s.State() != entities.CaptureStateFailed {
		t.Errorf("Expected failed state, got %s", s.State())
	}
}

func TestPlayWhileRecordingIsRejected(t *testing.T) {
	device := &fakeDevice{}
	s := newTestSession(t, device, &fakePlayer{})

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	if err := s.PlayRaw(context.Background(), make([]float32, 16)); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	s.StopRecording()
}

func TestLevelMeter(t *testing.T) {
	if got := Level(nil); got != 0 {
		t.Errorf("Empty block should have level 0, got %f", got)
	}

	// A constant 0.05 block has RMS 0.05, level 0.5.
	block := make([]float32, 128)
	for i := range block {
		block[i] = 0.05
	}
	got := Level(block)
	if got < 0.49 || got > 0.51 {
		t.Errorf("Expected level near 0.5, got %f", got)
	}

	// Loud blocks saturate at 1.
	for i := range block {
		block[i] = 0.9
	}
	if got := Level(block); got != 1 {
		t.Errorf("Expected saturated level 1, got %f", got)
	}
}
