package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	// Connection
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	ParseErrors    prometheus.Counter
	Connects       prometheus.Counter
	Disconnects    prometheus.Counter

	// Capture
	ChunksCaptured prometheus.Counter
	AudioLevel     prometheus.Gauge

	// Aggregation
	TranscriptionsFinished  prometheus.Counter
	TranscriptionsCancelled prometheus.Counter
	ProtocolInconsistencies prometheus.Counter
}

// New creates and registers all metrics with the given registerer. Tests pass
// a private prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_frames_sent_total",
			Help: "Total number of frames written to the duplex connection",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_frames_received_total",
			Help: "Total number of frames read from the duplex connection",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_frame_parse_errors_total",
			Help: "Total number of inbound frames that failed to parse as JSON",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_connects_total",
			Help: "Total number of successful connection establishments",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_disconnects_total",
			Help: "Total number of connection teardowns",
		}),
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_audio_chunks_captured_total",
			Help: "Total number of audio chunks produced by the capture session",
		}),
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewire_audio_level",
			Help: "Current normalized microphone level (0..1)",
		}),
		TranscriptionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_transcriptions_finished_total",
			Help: "Total number of finalized transcriptions",
		}),
		TranscriptionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_transcriptions_cancelled_total",
			Help: "Total number of cancelled in-flight transcriptions",
		}),
		ProtocolInconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewire_protocol_inconsistencies_total",
			Help: "Total number of transcription events received with no active message",
		}),
	}
}
