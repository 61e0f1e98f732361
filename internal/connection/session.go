package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio frames

	// Outbound buffer size before Send reports backpressure.
	sendBuffer = 256

	// DefaultLogCap bounds the wire message log.
	DefaultLogCap = 512
)

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrSendBufferFull is returned when the outbound queue is saturated.
	ErrSendBufferFull = errors.New("connection: send buffer full")
)

// InboundFrame is one frame delivered to the registered handler.
type InboundFrame struct {
	Binary bool
	Data   []byte
}

// Handler consumes inbound frames. It runs on the read pump goroutine and
// must not block.
type Handler func(InboundFrame)

// StateListener observes connection state transitions. reason is non-empty
// only for Failed.
type StateListener func(state entities.ConnectionState, reason string)

type writeData struct {
	messageType int
	payload     []byte
}

// Session owns one duplex websocket channel to the remote endpoint. All
// lifecycle transitions go through its mutex; the read and write pumps are
// tagged with a generation number so a superseded socket can never fire
// events against current state.
type Session struct {
	mu        sync.Mutex
	state     entities.ConnectionState
	url       string
	errReason string

	conn *websocket.Conn
	gen  int
	send chan writeData

	// userClosed marks the current generation as torn down by an explicit
	// Disconnect, so its close is reported as Disconnected rather than Failed.
	userClosed bool

	handler  Handler
	listener StateListener
	log      []entities.WireMessage
	logCap   int

	dialer *websocket.Dialer
	header http.Header

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithLogCap overrides the wire log capacity.
func WithLogCap(cap int) Option {
	return func(s *Session) {
		if cap > 0 {
			s.logCap = cap
		}
	}
}

// WithAuthToken attaches a bearer token to the websocket dial.
func WithAuthToken(token string) Option {
	return func(s *Session) {
		s.header.Set("Authorization", "Bearer "+token)
	}
}

// NewSession creates a disconnected session.
func NewSession(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Session {
	s := &Session{
		state:   entities.ConnectionStateDisconnected,
		logCap:  DefaultLogCap,
		dialer:  websocket.DefaultDialer,
		header:  http.Header{},
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler registers the consumer of inbound frames. It must be called
// before Connect.
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetStateListener registers an observer of state transitions. It must be
// called before Connect.
func (s *Session) SetStateListener(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Session) notify(state entities.ConnectionState, reason string) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l(state, reason)
	}
}

// Connect dials the endpoint. It is idempotent while already connected to the
// same url; otherwise any existing channel is torn down first. The call
// returns immediately and the outcome is observed through State.
func (s *Session) Connect(url string) {
	s.mu.Lock()

	if s.state == entities.ConnectionStateConnected && s.url == url {
		s.mu.Unlock()
		s.logger.Debug("Already connected", zap.String("url", url))
		return
	}

	s.teardownLocked()

	s.state = entities.ConnectionStateConnecting
	s.url = url
	s.errReason = ""
	s.userClosed = false
	gen := s.gen
	s.mu.Unlock()

	s.logger.Info("Connecting", zap.String("url", url))
	s.notify(entities.ConnectionStateConnecting, "")

	go s.dial(gen, url)
}

// Disconnect tears down any channel and forces Disconnected, clearing the
// error and url.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.userClosed = true
	s.teardownLocked()
	s.state = entities.ConnectionStateDisconnected
	s.url = ""
	s.errReason = ""
	s.mu.Unlock()

	s.logger.Info("Disconnected")
	s.notify(entities.ConnectionStateDisconnected, "")
}

// Send serializes the payload and queues it for delivery. Strings pass
// through verbatim; structured values are JSON-encoded. Delivery is
// fire-and-forget: the remote protocol carries its own acks as inbound
// events.
func (s *Session) Send(payload interface{}) error {
	var (
		data   []byte
		parsed interface{}
		raw    string
	)

	switch v := payload.(type) {
	case string:
		data = []byte(v)
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		data = encoded
		parsed = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.ConnectionStateConnected || s.conn == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- writeData{messageType: websocket.TextMessage, payload: data}:
	default:
		return ErrSendBufferFull
	}

	s.appendLogLocked(entities.NewWireMessage(entities.DirectionSent, parsed, raw))
	s.metrics.FramesSent.Inc()
	return nil
}

// SendBinary queues one binary frame for delivery.
func (s *Session) SendBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.ConnectionStateConnected || s.conn == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- writeData{messageType: websocket.BinaryMessage, payload: data}:
	default:
		return ErrSendBufferFull
	}

	s.appendLogLocked(entities.NewWireMessage(entities.DirectionSent, nil, fmt.Sprintf("binary:%d bytes", len(data))))
	s.metrics.FramesSent.Inc()
	return nil
}

// State returns the current connection state.
func (s *Session) State() entities.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the readable failure reason, empty unless state is Failed.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errReason
}

// URL returns the active endpoint url.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Log returns a copy of the wire message log.
func (s *Session) Log() []entities.WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.WireMessage, len(s.log))
	copy(out, s.log)
	return out
}

// dial runs off the caller goroutine; gen pins it to the generation that
// started it.
func (s *Session) dial(gen int, url string) {
	conn, resp, err := s.dialer.Dial(url, s.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s.mu.Lock()

	if gen != s.gen {
		// Superseded or disconnected while dialing; swallow the outcome.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.state = entities.ConnectionStateFailed
		s.errReason = fmt.Sprintf("connection failed: %v", err)
		reason := s.errReason
		s.mu.Unlock()
		s.logger.Error("WebSocket dial failed", zap.String("url", url), zap.Error(err))
		s.notify(entities.ConnectionStateFailed, reason)
		return
	}

	s.conn = conn
	s.send = make(chan writeData, sendBuffer)
	s.state = entities.ConnectionStateConnected
	s.errReason = ""
	sendCh := s.send
	s.mu.Unlock()

	s.metrics.Connects.Inc()
	s.logger.Info("Connected", zap.String("url", url))
	s.notify(entities.ConnectionStateConnected, "")

	go s.writePump(gen, conn, sendCh)
	go s.readPump(gen, conn)
}

// readPump pumps frames from the websocket into the log and the handler.
func (s *Session) readPump(gen int, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}

		s.metrics.FramesReceived.Inc()

		var frame InboundFrame
		switch messageType {
		case websocket.BinaryMessage:
			frame = InboundFrame{Binary: true, Data: message}
			s.appendLogLocked(entities.NewWireMessage(entities.DirectionReceived, nil, fmt.Sprintf("binary:%d bytes", len(message))))
		default:
			frame = InboundFrame{Data: message}
			var parsed interface{}
			if jsonErr := json.Unmarshal(message, &parsed); jsonErr == nil {
				s.appendLogLocked(entities.NewWireMessage(entities.DirectionReceived, parsed, ""))
			} else {
				// Unparseable frames are retained verbatim, never dropped.
				s.metrics.ParseErrors.Inc()
				s.appendLogLocked(entities.NewWireMessage(entities.DirectionReceived, nil, string(message)))
			}
		}
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			handler(frame)
		}
	}
}

// writePump pumps queued frames to the websocket and keeps the connection
// alive with pings.
func (s *Session) writePump(gen int, conn *websocket.Conn, send <-chan writeData) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(message.messageType, message.payload); err != nil {
				s.logger.Error("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClose maps a read failure onto the session state: a clean or
// user-initiated close yields Disconnected, anything else Failed.
func (s *Session) handleClose(gen int, err error) {
	s.mu.Lock()

	if gen != s.gen {
		// A stale pump observing its own teardown; the current generation
		// already owns the state.
		s.mu.Unlock()
		return
	}

	s.teardownLocked()
	s.metrics.Disconnects.Inc()

	if s.userClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		s.state = entities.ConnectionStateDisconnected
		s.errReason = ""
		s.mu.Unlock()
		s.logger.Info("Connection closed")
		s.notify(entities.ConnectionStateDisconnected, "")
		return
	}

	s.state = entities.ConnectionStateFailed
	if closeErr, ok := err.(*websocket.CloseError); ok && closeErr.Text != "" {
		s.errReason = fmt.Sprintf("connection closed: %s", closeErr.Text)
	} else {
		s.errReason = fmt.Sprintf("connection closed: %v", err)
	}
	reason := s.errReason
	s.mu.Unlock()
	s.logger.Error("Connection lost", zap.Error(err))
	s.notify(entities.ConnectionStateFailed, reason)
}

// teardownLocked detaches the pumps and closes the socket. The generation is
// bumped before the close call so a closing socket cannot fire events into
// freed state. Callers hold s.mu.
func (s *Session) teardownLocked() {
	s.gen++

	if s.send != nil {
		close(s.send)
		s.send = nil
	}

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) appendLogLocked(msg entities.WireMessage) {
	s.log = append(s.log, msg)
	if len(s.log) > s.logCap {
		s.log = s.log[len(s.log)-s.logCap:]
	}
}
