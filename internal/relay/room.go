// Package relay implements the live-classroom signaling relay: it forwards
// join/leave/signal envelopes between the peers of a room and keeps presence
// in redis. Rooms are implicit; one is created in memory on the first join
// and dropped when the last peer leaves.
package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	sendBuffer = 256
)

type room struct {
	id    string
	mu    sync.RWMutex
	peers map[string]*client
}

type client struct {
	id   string
	role protocol.Role
	room string
	conn *websocket.Conn
	send chan []byte
	log  *logrus.Entry
}

func (r *room) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[c.id] = c
}

func (r *room) remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *room) peerList() []protocol.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]protocol.PeerInfo, 0, len(r.peers))
	for _, c := range r.peers {
		infos = append(infos, protocol.PeerInfo{PeerID: c.id, Role: c.role})
	}
	return infos
}

// broadcast sends an envelope to every peer except excludeID.
func (r *room) broadcast(env *protocol.Envelope, excludeID string) {
	data, err := env.Marshal()
	if err != nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.peers {
		if id == excludeID {
			continue
		}
		c.enqueue(data)
	}
}

// sendTo delivers an envelope to one peer. Returns false when the peer is
// not in the room.
func (r *room) sendTo(env *protocol.Envelope, peerID string) bool {
	data, err := env.Marshal()
	if err != nil {
		return false
	}

	r.mu.RLock()
	c, ok := r.peers[peerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(data)
	return true
}

func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

// writePump drains the send channel and emits JSON ping envelopes on a
// ticker. One per client goroutine.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			ping := &protocol.Envelope{
				Type:      protocol.TypePing,
				Timestamp: time.Now().UnixMilli(),
			}
			data, err := ping.Marshal()
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
