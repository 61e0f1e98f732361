package entities

// ConnectionState is the lifecycle state of the duplex connection session.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateFailed       ConnectionState = "failed"
)

// CaptureState is the lifecycle state of the audio capture session.
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateRecording CaptureState = "recording"
	CaptureStatePlaying   CaptureState = "playing"
	CaptureStateFailed    CaptureState = "failed"
)

// MicPermission is the cached microphone authorization state. It is advisory:
// the platform is re-queried at capture session construction.
type MicPermission string

const (
	MicPermissionUnknown MicPermission = "unknown"
	MicPermissionPrompt  MicPermission = "prompt"
	MicPermissionGranted MicPermission = "granted"
	MicPermissionDenied  MicPermission = "denied"
)

// AudioChunk is one fixed-size block of normalized samples delivered by the
// capture device. Chunk order is producer order and must be preserved.
type AudioChunk struct {
	Samples      []float32
	SampleRate   int
	ChannelCount int
}

// DurationMs returns the chunk length in milliseconds.
func (c AudioChunk) DurationMs() float64 {
	if c.SampleRate <= 0 || c.ChannelCount <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.ChannelCount
	return float64(frames) * 1000 / float64(c.SampleRate)
}
