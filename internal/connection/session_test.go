package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/internal/metrics"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestServer runs handler for every websocket upgrade and returns the
// ws:// url.
func newTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, *httptest.Server) {
	t.Helper()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		conn, err := testUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		handler(conn)
		return nil
	})

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", server
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	return NewSession(zap.NewNop(), metrics.New(prometheus.NewRegistry()), opts...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// echoHandler reads frames and writes them back until the peer goes away.
func echoHandler(conn *websocket.Conn) {
	defer conn.Close()
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(messageType, message); err != nil {
			return
		}
	}
}

// holdHandler keeps the connection open without sending anything.
func holdHandler(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	url, _ := newTestServer(t, holdHandler)
	s := newTestSession(t)

	if s.State() != entities.ConnectionStateDisconnected {
		t.Fatalf("New session should be disconnected, got %s", s.State())
	}

	s.Connect(url)
	waitFor(t, "connected state", func() bool {
		return s.State() == entities.ConnectionStateConnected
	})

	if s.URL() != url {
		t.Errorf("Expected url %s, got %s", url, s.URL())
	}

	s.Disconnect()

	if s.State() != entities.ConnectionStateDisconnected {
		t.Errorf("Disconnect should force Disconnected, got %s", s.State())
	}

	if s.URL() != "" {
		t.Errorf("Disconnect should clear the url, got %s", s.URL())
	}

	if s.Err() != "" {
		t.Errorf("Disconnect should clear the error, got %s", s.Err())
	}
}

func TestConnectIdempotentSameURL(t *testing.T) {
	url, _ := newTestServer(t, holdHandler)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := NewSession(zap.NewNop(), m)

	s.Connect(url)
	waitFor(t, "connected state", func() bool {
		return s.State() == entities.ConnectionStateConnected
	})

	s.Connect(url)

	// A second connect to the same url must not create a new transport.
	time.Sleep(100 * time.Millisecond)
	if s.State() != entities.ConnectionStateConnected {
		t.Errorf("State should stay Connected, got %s", s.State())
	}

	if got := testutil.ToFloat64(m.Connects); got != 1 {
		t.Errorf("Expected exactly 1 connect, got %v", got)
	}
}

func TestConnectSupersedesExistingChannel(t *testing.T) {
	url1, _ := newTestServer(t, holdHandler)
	url2, _ := newTestServer(t, holdHandler)
	s := newTestSession(t)

	s.Connect(url1)
	waitFor(t, "first connection", func() bool {
		return s.State() == entities.ConnectionStateConnected
	})

	s.Connect(url2)
	waitFor(t, "second connection", func() bool {
		return s.State() == entities.ConnectionStateConnected && s.URL() == url2
	})

	// The superseded channel must not flip the state afterwards.
	time.Sleep(100 * time.Millisecond)
	if s.State() != entities.ConnectionStateConnected {
		t.Errorf("Superseded channel leaked a state change: %s", s.State())
	}
}

func TestSendWhileNotConnected(t *testing.T) {
	s := newTestSession(t)

	err := s.Send(map[string]string{"type": "ping"})
	if err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	if len(s.Log()) != 0 {
		t.Errorf("Failed send must not append a wire message, log has %d entries", len(s.Log()))
	}
}

func TestSendAppendsSentWireMessage(t *testing.T) {
	received := make(chan string, 2)
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(message)
		}
	})

	s := newTestSession(t)
	s.Connect(url)
	waitFor(t, "connected state", func() bool {
		return s.State() == entities.ConnectionStateConnected
	})

	if err := s.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Strings pass through verbatim.
	if err := s.Send("raw payload"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("Server did not receive the frame")
		}
	}

	log := s.Log()
	if len(log) != 2 {
		t.Fatalf("Expected 2 wire messages, got %d", len(log))
	}

	if log[0].Direction != entities.DirectionSent || log[1].Direction != entities.DirectionSent {
		t.Error("Both log entries should have direction=sent")
	}

	if log[1].Raw != "raw payload" {
		t.Errorf("String payload should be logged verbatim, got '%s'", log[1].Raw)
	}
}

func TestInboundFramesAlwaysLogged(t *testing.T) {
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcription.delta","delta":"He"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		holdHandler(conn)
	})

	var mu sync.Mutex
	var frames []InboundFrame

	s := newTestSession(t)
	s.SetHandler(func(f InboundFrame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})

	s.Connect(url)
	waitFor(t, "two inbound frames", func() bool {
		return len(s.Log()) == 2
	})

	log := s.Log()
	if log[0].Direction != entities.DirectionReceived {
		t.Error("First entry should be received")
	}
	if log[0].Payload == nil {
		t.Error("Parseable frame should be logged with its parsed payload")
	}
	if log[1].Payload != nil || log[1].Raw != "not json at all" {
		t.Error("Unparseable frame should be retained as an opaque string")
	}

	// The handler sees the same frames independently of the log.
	waitFor(t, "handler invocations", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	})
}

func TestAbnormalCloseSetsFailed(t *testing.T) {
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend exploded"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})

	s := newTestSession(t)
	s.Connect(url)

	waitFor(t, "failed state", func() bool {
		return s.State() == entities.ConnectionStateFailed
	})

	if !strings.Contains(s.Err(), "backend exploded") {
		t.Errorf("Failure reason should carry the close text, got '%s'", s.Err())
	}
}

func TestCleanRemoteCloseSetsDisconnected(t *testing.T) {
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})

	s := newTestSession(t)
	s.Connect(url)

	waitFor(t, "disconnected state", func() bool {
		return s.State() == entities.ConnectionStateDisconnected
	})

	if s.Err() != "" {
		t.Errorf("Clean close should not set an error, got '%s'", s.Err())
	}
}

func TestDialFailureSetsFailed(t *testing.T) {
	s := newTestSession(t)
	s.Connect("ws://127.0.0.1:1/ws")

	waitFor(t, "failed state", func() bool {
		return s.State() == entities.ConnectionStateFailed
	})

	if s.Err() == "" {
		t.Error("Dial failure should set a readable reason")
	}

	// Failure keeps the log intact and does not auto-retry.
	time.Sleep(100 * time.Millisecond)
	if s.State() != entities.ConnectionStateFailed {
		t.Errorf("No auto-reconnect expected, got %s", s.State())
	}
}

func TestWireLogBounded(t *testing.T) {
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 10; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"noop"}`))
		}
		holdHandler(conn)
	})

	s := newTestSession(t, WithLogCap(4))
	s.Connect(url)

	waitFor(t, "log at capacity", func() bool {
		return len(s.Log()) == 4
	})

	time.Sleep(100 * time.Millisecond)
	if got := len(s.Log()); got != 4 {
		t.Errorf("Log should stay at its cap of 4, got %d", got)
	}
}

func TestBinaryInboundLogged(t *testing.T) {
	url, _ := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		holdHandler(conn)
	})

	var mu sync.Mutex
	var gotBinary bool

	s := newTestSession(t)
	s.SetHandler(func(f InboundFrame) {
		mu.Lock()
		gotBinary = f.Binary
		mu.Unlock()
	})

	s.Connect(url)
	waitFor(t, "binary frame logged", func() bool {
		return len(s.Log()) == 1
	})

	if s.Log()[0].Raw != "binary:4 bytes" {
		t.Errorf("Binary frame should be logged opaquely, got '%s'", s.Log()[0].Raw)
	}

	waitFor(t, "binary handler", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotBinary
	})
}
