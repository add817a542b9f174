// Package signaling maintains the websocket connection to the relay and the
// join/leave/signal protocol on top of it.
package signaling

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

// Status reports transport-level transitions to the caller. Advisory only;
// protocol correctness never depends on it.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
)

const (
	baseBackoff  = time.Second
	maxBackoff   = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Options configures a Client. OnEnvelope receives every validated inbound
// envelope except ping, which is answered internally.
type Options struct {
	URL    string
	Room   string
	PeerID string
	Role   protocol.Role

	OnEnvelope func(*protocol.Envelope)
	OnStatus   func(Status)

	Log    *logrus.Entry
	Dialer *websocket.Dialer
}

// Client is a reconnecting websocket client. It joins the room on every
// successful open and retries indefinitely with capped exponential backoff
// until Close is called.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	retries int
	closed  bool
	timer   *time.Timer
}

func NewClient(opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{opts: opts, dialer: dialer}
}

// RelayURL derives the websocket endpoint from the platform's base URL,
// upgrading the scheme to its websocket variant.
func RelayURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}

// Connect dials the relay and joins the room. On failure it schedules a
// reconnect and returns; the caller observes progress via OnStatus.
func (c *Client) Connect() {
	c.setStatus(StatusConnecting)

	conn, _, err := c.dialer.Dial(c.opts.URL, nil)
	if err != nil {
		c.opts.Log.WithError(err).Warn("relay dial failed")
		c.setStatus(StatusError)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.retries = 0
	c.mu.Unlock()

	c.setStatus(StatusOpen)
	c.Send(&protocol.Envelope{
		Type:   protocol.TypeJoin,
		Room:   c.opts.Room,
		PeerID: c.opts.PeerID,
		Role:   c.opts.Role,
	})

	go c.readLoop(conn)
}

// Send serializes and transmits an envelope. If the socket is not open the
// envelope is dropped with a diagnostic log; callers must not assume
// delivery.
func (c *Client) Send(env *protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		c.opts.Log.WithField("type", env.Type).Debug("socket not open, dropping envelope")
		return
	}

	data, err := env.Marshal()
	if err != nil {
		c.opts.Log.WithError(err).Error("marshal envelope")
		return
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.opts.Log.WithError(err).Warn("write envelope")
	}
}

// Close stops reconnection and closes the socket. After Close the client is
// permanently inert.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	c.setStatus(StatusClosed)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()
		conn.Close()

		if !closed {
			c.scheduleReconnect()
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.opts.Log.WithError(err).Warn("relay connection lost")
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.handleFrame(data)
	}
}

// handleFrame validates one inbound frame and dispatches it. Malformed or
// unrecognized frames are logged and dropped; they never reach the caller
// and never close the connection.
func (c *Client) handleFrame(data []byte) {
	env, err := protocol.DecodeFromRelay(data)
	if err != nil {
		c.opts.Log.WithError(err).Warn("dropping invalid frame")
		return
	}

	if env.Type == protocol.TypePing {
		c.Send(&protocol.Envelope{Type: protocol.TypePong})
		return
	}

	if c.opts.OnEnvelope != nil {
		c.opts.OnEnvelope(env)
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay := backoffDelay(c.retries)
	c.retries++
	c.timer = time.AfterFunc(delay, c.Connect)
	c.mu.Unlock()

	c.opts.Log.WithField("delay", delay).Info("reconnecting to relay")
	c.setStatus(StatusReconnecting)
}

// backoffDelay is min(30s, 1s·2^retry). Retries are unbounded; only an
// explicit Close stops the cycle.
func backoffDelay(retry int) time.Duration {
	if retry > 5 {
		return maxBackoff
	}
	d := baseBackoff << uint(retry)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) setStatus(s Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}
