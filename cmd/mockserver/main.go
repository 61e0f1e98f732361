// The mockserver scripts the remote side of the voice protocol so the engine
// can run a full round trip without a real backend: it acknowledges audio
// streams, emits transcription events for the received audio, and answers
// with an agent response including synthesized tone audio.
package main

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/adapters/playback"
	"github.com/adhikara/voicewire/internal/auth"
	"github.com/adhikara/voicewire/internal/capture"
	"github.com/adhikara/voicewire/internal/config"
	"github.com/adhikara/voicewire/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type mockServer struct {
	signer *auth.Signer
	logger *zap.Logger
}

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	s := &mockServer{logger: logger}
	if cfg.AuthSecret != "" {
		s.signer = auth.NewSigner(cfg.AuthSecret, 24*time.Hour)
	}

	e := echo.New()
	e.Use(middleware.Recover())
	e.GET("/ws", s.handleWS)

	logger.Info("Mock voice server listening", zap.String("port", cfg.Port))
	if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func (s *mockServer) handleWS(c echo.Context) error {
	if s.signer != nil {
		header := c.Request().Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := s.signer.ValidateToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		s.logger.Info("Client authenticated", zap.String("clientID", claims.ClientID))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var chunks int

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil
		}

		event, err := protocol.Parse(message)
		if err != nil {
			s.logger.Warn("Unparseable client frame", zap.Error(err))
			continue
		}

		switch ev := event.(type) {
		case protocol.Unknown:
			switch ev.Type {
			case protocol.TypeAudioStart:
				chunks = 0
				s.writeJSON(conn, map[string]string{"type": protocol.TypeSpeechStarted})

			case protocol.TypeAudioChunk:
				chunks++

			case protocol.TypeAudioEnd:
				s.writeJSON(conn, map[string]string{"type": protocol.TypeSpeechStopped})
				s.scriptTranscription(conn, chunks)
				s.scriptAgentResponse(conn, "You said something over "+fmt.Sprint(chunks)+" chunks.")

			case protocol.TypeUserText:
				s.scriptAgentResponse(conn, "Echoing your message back.")

			default:
				s.logger.Info("Ignoring frame", zap.String("type", ev.Type))
			}
		}
	}
}

// scriptTranscription plays out a delta/done sequence for the finished
// user stream.
func (s *mockServer) scriptTranscription(conn *websocket.Conn, chunks int) {
	transcript := fmt.Sprintf("I heard %d chunks of audio.", chunks)

	half := len(transcript) / 2
	for _, delta := range []string{transcript[:half], transcript[half:]} {
		s.writeJSON(conn, map[string]string{
			"type":  protocol.TypeTranscriptionDelta,
			"delta": delta,
		})
		time.Sleep(50 * time.Millisecond)
	}

	s.writeJSON(conn, map[string]string{
		"type":       protocol.TypeTranscriptionDone,
		"transcript": transcript,
	})
}

// scriptAgentResponse emits a full agent item followed by a short tone as
// binary WAV audio.
func (s *mockServer) scriptAgentResponse(conn *websocket.Conn, text string) {
	itemID := fmt.Sprintf("item-%d", time.Now().UnixNano())

	s.writeJSON(conn, map[string]string{
		"type":    protocol.TypeResponseStarted,
		"item_id": itemID,
	})

	for _, word := range strings.SplitAfter(text, " ") {
		s.writeJSON(conn, map[string]string{
			"type":    protocol.TypeResponseDelta,
			"item_id": itemID,
			"delta":   word,
		})
		time.Sleep(30 * time.Millisecond)
	}

	s.writeJSON(conn, map[string]string{
		"type":    protocol.TypeResponseDone,
		"item_id": itemID,
		"text":    text,
	})

	if wav, err := playback.EncodeWAV(tone(220, 300*time.Millisecond), capture.DefaultSampleRate); err == nil {
		if err := conn.WriteMessage(websocket.BinaryMessage, wav); err != nil {
			s.logger.Warn("Failed to send agent audio", zap.Error(err))
		}
	}
}

func (s *mockServer) writeJSON(conn *websocket.Conn, frame map[string]string) {
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Warn("Failed to write frame", zap.Error(err))
	}
}

// tone generates a sine wave clip at the capture sample rate.
func tone(freq float64, d time.Duration) []float32 {
	n := int(float64(capture.DefaultSampleRate) * d.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*freq*float64(i)/capture.DefaultSampleRate))
	}
	return samples
}
