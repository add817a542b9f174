package session

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

// Host fans the local stream out to every viewer in the room, one
// independently negotiated peer connection each.
type Host struct {
	room    string
	selfID  string
	signal  Signaler
	ice     []webrtc.ICEServer
	media   TrackSource
	log     *logrus.Entry
	factory PeerConnectionFactory

	// OnViewerCount, when set, is invoked with the registry size after
	// every viewer arrival or departure.
	OnViewerCount func(int)

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

func NewHost(room, selfID string, signal Signaler, ice []webrtc.ICEServer, media TrackSource, log *logrus.Entry) *Host {
	return &Host{
		room:    room,
		selfID:  selfID,
		signal:  signal,
		ice:     ice,
		media:   media,
		log:     log,
		factory: defaultFactory,
		peers:   make(map[string]*webrtc.PeerConnection),
	}
}

// SetPeerConnectionFactory overrides how peer connections are built, e.g.
// with an API carrying the capture pipeline's media engine.
func (h *Host) SetPeerConnectionFactory(f PeerConnectionFactory) {
	h.factory = f
}

// SetSignaler wires the outbound transport. Must be called before the first
// envelope is handled; split from the constructor because the signaling
// client and the manager reference each other.
func (h *Host) SetSignaler(s Signaler) {
	h.signal = s
}

// HandleEnvelope dispatches one validated relay envelope.
func (h *Host) HandleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoined:
		if env.PeerID == h.selfID {
			// Own join confirmation: the room may already hold viewers
			// who were waiting for a host. Offer to each of them.
			for _, p := range env.Peers {
				if p.PeerID != h.selfID && p.Role != protocol.RoleHost {
					h.handleViewerJoin(p.PeerID)
				}
			}
			return
		}
		if env.Role != protocol.RoleHost {
			h.handleViewerJoin(env.PeerID)
		}
	case protocol.TypeLeft:
		h.CleanupPeer(env.PeerID)
	case protocol.TypePeer:
		h.handleSignal(env.From, env.Payload)
	case protocol.TypeError:
		h.log.WithField("message", env.Message).Warn("relay error")
	}
}

// handleViewerJoin creates the viewer's peer connection and sends it an
// offer. A second join notification for a known viewer reuses the existing
// connection.
func (h *Host) handleViewerJoin(peerID string) {
	h.mu.Lock()
	if _, ok := h.peers[peerID]; ok {
		h.mu.Unlock()
		h.log.WithField("peer", peerID).Debug("viewer already connected, ignoring join")
		return
	}
	h.mu.Unlock()

	pc, err := h.createPeer(peerID)
	if err != nil {
		h.log.WithError(err).WithField("peer", peerID).Error("create viewer connection")
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		h.log.WithError(err).WithField("peer", peerID).Error("create offer")
		h.CleanupPeer(peerID)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		h.log.WithError(err).WithField("peer", peerID).Error("set local description")
		h.CleanupPeer(peerID)
		return
	}

	h.signal.Send(&protocol.Envelope{
		Type: protocol.TypeSignal,
		Room: h.room,
		From: h.selfID,
		To:   peerID,
		Payload: &protocol.SignalPayload{
			Type:   protocol.PayloadOffer,
			Target: peerID,
			SDP:    &offer,
		},
	})
	h.log.WithField("peer", peerID).Info("offer sent to viewer")
}

func (h *Host) createPeer(peerID string) (*webrtc.PeerConnection, error) {
	pc, err := h.factory(webrtc.Configuration{ICEServers: h.ice})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if h.media != nil {
		if err := h.media.Attach(peerID, pc); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach local tracks: %w", err)
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		h.signal.Send(&protocol.Envelope{
			Type: protocol.TypeSignal,
			Room: h.room,
			From: h.selfID,
			To:   peerID,
			Payload: &protocol.SignalPayload{
				Type:      protocol.PayloadICE,
				Target:    peerID,
				Candidate: &init,
			},
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.log.WithFields(logrus.Fields{"peer": peerID, "state": state}).Debug("viewer connection state")
		if terminal(state) {
			h.CleanupPeer(peerID)
		}
	})

	h.mu.Lock()
	h.peers[peerID] = pc
	count := len(h.peers)
	h.mu.Unlock()

	h.notifyViewerCount(count)
	return pc, nil
}

func (h *Host) handleSignal(from string, payload *protocol.SignalPayload) {
	if payload == nil {
		return
	}

	h.mu.Lock()
	pc, ok := h.peers[from]
	h.mu.Unlock()
	if !ok {
		h.log.WithField("peer", from).Debug("signal from unknown peer, ignoring")
		return
	}

	switch payload.Type {
	case protocol.PayloadAnswer:
		if err := pc.SetRemoteDescription(*payload.SDP); err != nil {
			h.log.WithError(err).WithField("peer", from).Warn("apply answer")
		}
	case protocol.PayloadICE:
		// Candidate races are expected over a relay; drop late or
		// malformed ones without tearing anything down.
		if err := pc.AddICECandidate(*payload.Candidate); err != nil {
			h.log.WithError(err).WithField("peer", from).Debug("dropping ice candidate")
		}
	default:
		h.log.WithFields(logrus.Fields{"peer": from, "payload": payload.Type}).Debug("unexpected payload for host")
	}
}

// CleanupPeer closes and forgets one viewer. Safe to call repeatedly for the
// same id.
func (h *Host) CleanupPeer(peerID string) {
	h.mu.Lock()
	pc, ok := h.peers[peerID]
	if ok {
		delete(h.peers, peerID)
	}
	count := len(h.peers)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.media != nil {
		h.media.Detach(peerID)
	}
	if err := pc.Close(); err != nil {
		h.log.WithError(err).WithField("peer", peerID).Debug("close viewer connection")
	}
	h.log.WithField("peer", peerID).Info("viewer removed")
	h.notifyViewerCount(count)
}

// ViewerCount reports the number of connected viewers.
func (h *Host) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Peers lists the viewer ids currently in the registry.
func (h *Host) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down every viewer connection.
func (h *Host) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*webrtc.PeerConnection)
	h.mu.Unlock()

	for id, pc := range peers {
		if h.media != nil {
			h.media.Detach(id)
		}
		pc.Close()
	}
	h.notifyViewerCount(0)
}

func (h *Host) notifyViewerCount(n int) {
	if h.OnViewerCount != nil {
		h.OnViewerCount(n)
	}
}
