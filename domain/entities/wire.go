package entities

import (
	"time"

	"github.com/google/uuid"
)

// Direction indicates which way a wire message travelled.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// WireMessage is one logged frame on the duplex connection. Payload holds the
// parsed structured value when the frame was valid JSON, otherwise Raw holds
// the frame verbatim. No inbound frame is dropped from the log.
type WireMessage struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Direction Direction   `json:"direction"`
	Payload   interface{} `json:"payload,omitempty"`
	Raw       string      `json:"raw,omitempty"`
}

// NewWireMessage creates a log entry with a generated id and current time.
func NewWireMessage(direction Direction, payload interface{}, raw string) WireMessage {
	return WireMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Direction: direction,
		Payload:   payload,
		Raw:       raw,
	}
}
