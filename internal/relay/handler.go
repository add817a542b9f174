package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware.
		return true
	},
}

// Relay owns the in-memory room registry and the websocket endpoint.
type Relay struct {
	store      *Store
	hostSecret string
	log        *logrus.Entry

	mu    sync.RWMutex
	rooms map[string]*room
}

func New(store *Store, hostSecret string, log *logrus.Entry) *Relay {
	return &Relay{
		store:      store,
		hostSecret: hostSecret,
		log:        log,
		rooms:      make(map[string]*room),
	}
}

// HandleWS upgrades the connection and runs the signaling protocol. The
// first frame must be a join envelope naming the room, peer id, and role.
func (rl *Relay) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rl.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	env, err := protocol.DecodeFromClient(data)
	if err != nil || env.Type != protocol.TypeJoin || env.Room == "" || env.PeerID == "" {
		rl.rejectAndClose(conn, "first frame must be a join envelope")
		return
	}

	role := env.Role
	if role == "" {
		role = protocol.RoleViewer
	}
	if role == protocol.RoleHost && rl.hostSecret != "" {
		token := c.Query("token")
		if _, err := VerifyHostToken(rl.hostSecret, token, env.Room); err != nil {
			rl.log.WithError(err).WithField("peer", env.PeerID).Warn("host token rejected")
			rl.rejectAndClose(conn, "host token required")
			return
		}
	}

	cl := &client{
		id:   env.PeerID,
		role: role,
		room: env.Room,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  rl.log.WithFields(logrus.Fields{"peer": env.PeerID, "room": env.Room}),
	}

	rm := rl.getOrCreateRoom(env.Room)
	rm.add(cl)

	ctx := context.Background()
	if err := rl.store.AddPeer(ctx, env.Room, env.PeerID); err != nil {
		cl.log.WithError(err).Warn("record presence")
	}

	participants := rm.size()
	cl.log.WithFields(logrus.Fields{"role": role, "participants": participants}).Info("peer joined")

	go cl.writePump()

	// Confirm to the joiner, including who is already here.
	confirm := &protocol.Envelope{
		Type:         protocol.TypeJoined,
		Room:         env.Room,
		PeerID:       env.PeerID,
		Role:         role,
		Participants: participants,
		Peers:        rm.peerList(),
	}
	if data, err := confirm.Marshal(); err == nil {
		cl.enqueue(data)
	}

	// Announce to everyone else.
	rm.broadcast(&protocol.Envelope{
		Type:         protocol.TypeJoined,
		Room:         env.Room,
		PeerID:       env.PeerID,
		Role:         role,
		Participants: participants,
	}, env.PeerID)

	rl.readPump(rm, cl)
}

func (rl *Relay) readPump(rm *room, cl *client) {
	defer func() {
		rl.dropClient(rm, cl)
	}()

	cl.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.WithError(err).Debug("read error")
			}
			return
		}

		env, err := protocol.DecodeFromClient(data)
		if err != nil {
			cl.log.WithError(err).Warn("dropping invalid frame")
			continue
		}

		switch env.Type {
		case protocol.TypePong:
			cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		case protocol.TypeSignal:
			forward := &protocol.Envelope{
				Type:    protocol.TypePeer,
				From:    cl.id,
				Payload: env.Payload,
			}
			if env.To != "" {
				if !rm.sendTo(forward, env.To) {
					cl.log.WithField("target", env.To).Debug("signal target not in room")
				}
			} else {
				rm.broadcast(forward, cl.id)
			}

		case protocol.TypeLeave:
			return

		default:
			cl.log.WithField("type", env.Type).Debug("unexpected envelope from client")
		}
	}
}

// dropClient removes the peer everywhere and tells the room. Idempotent at
// the registry level; the second call finds nothing to remove.
func (rl *Relay) dropClient(rm *room, cl *client) {
	rm.remove(cl.id)
	cl.conn.Close()

	ctx := context.Background()
	if err := rl.store.RemovePeer(ctx, cl.room, cl.id); err != nil {
		cl.log.WithError(err).Warn("remove presence")
	}

	participants := rm.size()
	rm.broadcast(&protocol.Envelope{
		Type:         protocol.TypeLeft,
		Room:         cl.room,
		PeerID:       cl.id,
		Role:         cl.role,
		Participants: participants,
	}, cl.id)

	if participants == 0 {
		rl.mu.Lock()
		delete(rl.rooms, cl.room)
		rl.mu.Unlock()
		rl.log.WithField("room", cl.room).Info("room emptied")
	}

	cl.log.Info("peer left")
}

func (rl *Relay) getOrCreateRoom(id string) *room {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rm, ok := rl.rooms[id]
	if !ok {
		rm = &room{id: id, peers: make(map[string]*client)}
		rl.rooms[id] = rm
		rl.log.WithField("room", id).Info("room created")
	}
	return rm
}

func (rl *Relay) rejectAndClose(conn *websocket.Conn, msg string) {
	env := &protocol.Envelope{Type: protocol.TypeError, Message: msg}
	if data, err := env.Marshal(); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
}
