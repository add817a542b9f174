package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.retry), "retry %d", tt.retry)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := backoffDelay(0)
	for retry := 1; retry < 20; retry++ {
		d := backoffDelay(retry)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
}

func TestRelayURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", RelayURL("http://localhost:8080"))
	assert.Equal(t, "wss://gema.example.com/api/ws", RelayURL("https://gema.example.com/"))
}

// relayStub upgrades incoming connections and exposes frames both ways.
type relayStub struct {
	t      *testing.T
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	stub := &relayStub{t: t, conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		stub.conns <- conn
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *relayStub) accept() *websocket.Conn {
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(5 * time.Second):
		s.t.Fatal("no connection arrived")
		return nil
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DecodeFromClient(data)
	require.NoError(t, err)
	return env
}

func writeRaw(t *testing.T, conn *websocket.Conn, data string) {
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func TestConnectSendsJoinOnOpen(t *testing.T) {
	stub := newRelayStub(t)

	client := NewClient(Options{
		URL:    stub.url(),
		Room:   "classroom-1",
		PeerID: "peer-1",
		Role:   protocol.RoleHost,
		Log:    testLog(),
	})
	client.Connect()
	defer client.Close()

	conn := stub.accept()
	join := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeJoin, join.Type)
	assert.Equal(t, "classroom-1", join.Room)
	assert.Equal(t, "peer-1", join.PeerID)
	assert.Equal(t, protocol.RoleHost, join.Role)
}

func TestPingAnsweredWithPongNotForwarded(t *testing.T) {
	stub := newRelayStub(t)

	received := make(chan *protocol.Envelope, 4)
	client := NewClient(Options{
		URL:        stub.url(),
		Room:       "r",
		PeerID:     "p",
		Role:       protocol.RoleViewer,
		OnEnvelope: func(env *protocol.Envelope) { received <- env },
		Log:        testLog(),
	})
	client.Connect()
	defer client.Close()

	conn := stub.accept()
	readEnvelope(t, conn) // join

	writeRaw(t, conn, `{"type":"ping","timestamp":42}`)

	pong := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypePong, pong.Type)

	select {
	case env := <-received:
		t.Fatalf("ping must not be forwarded, got %s", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFrameIsDroppedWithoutClosing(t *testing.T) {
	stub := newRelayStub(t)

	received := make(chan *protocol.Envelope, 4)
	client := NewClient(Options{
		URL:        stub.url(),
		Room:       "r",
		PeerID:     "p",
		Role:       protocol.RoleViewer,
		OnEnvelope: func(env *protocol.Envelope) { received <- env },
		Log:        testLog(),
	})
	client.Connect()
	defer client.Close()

	conn := stub.accept()
	readEnvelope(t, conn) // join

	writeRaw(t, conn, `not json at all`)
	writeRaw(t, conn, `{"type":"hijack"}`)
	// Tags the client itself sends are equally invalid inbound.
	writeRaw(t, conn, `{"type":"join","room":"r","peerId":"p3"}`)
	writeRaw(t, conn, `{"type":"joined","room":"r","peerId":"p2","participants":2}`)

	select {
	case env := <-received:
		// Only the valid frame made it through, on the same connection.
		assert.Equal(t, protocol.TypeJoined, env.Type)
		assert.Equal(t, "p2", env.PeerID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame after malformed ones was not delivered")
	}
}

func TestSendWithoutConnectionIsNoOp(t *testing.T) {
	client := NewClient(Options{URL: "ws://localhost:1/api/ws", Log: testLog()})

	assert.NotPanics(t, func() {
		client.Send(&protocol.Envelope{Type: protocol.TypeLeave, Room: "r", PeerID: "p"})
	})
}

func TestCloseSuppressesReconnect(t *testing.T) {
	stub := newRelayStub(t)

	statuses := make(chan Status, 16)
	client := NewClient(Options{
		URL:      stub.url(),
		Room:     "r",
		PeerID:   "p",
		Role:     protocol.RoleViewer,
		OnStatus: func(s Status) { statuses <- s },
		Log:      testLog(),
	})
	client.Connect()

	conn := stub.accept()
	readEnvelope(t, conn) // join

	client.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-statuses:
			assert.NotEqual(t, StatusReconnecting, s, "manual close must not trigger reconnect")
			if s == StatusClosed {
				return
			}
		case <-deadline:
			t.Fatal("closed status never reported")
		}
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	stub := newRelayStub(t)

	statuses := make(chan Status, 16)
	client := NewClient(Options{
		URL:      stub.url(),
		Room:     "r",
		PeerID:   "p",
		Role:     protocol.RoleViewer,
		OnStatus: func(s Status) { statuses <- s },
		Log:      testLog(),
	})
	client.Connect()
	defer client.Close()

	conn := stub.accept()
	readEnvelope(t, conn) // join
	conn.Close()

	sawReconnecting := false
	deadline := time.After(5 * time.Second)
	for !sawReconnecting {
		select {
		case s := <-statuses:
			if s == StatusReconnecting {
				sawReconnecting = true
			}
		case <-deadline:
			t.Fatal("client never attempted to reconnect")
		}
	}

	// First retry fires after the base delay and joins again.
	conn2 := stub.accept()
	join := readEnvelope(t, conn2)
	assert.Equal(t, protocol.TypeJoin, join.Type)
}
