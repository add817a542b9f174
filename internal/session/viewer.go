package session

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

// Viewer negotiates and maintains exactly one session with the host. The
// peer connection is created lazily on the first offer; when the host leaves
// the viewer reverts to waiting and can resume on a later offer from a new
// host without rejoining the room.
type Viewer struct {
	room    string
	selfID  string
	signal  Signaler
	ice     []webrtc.ICEServer
	log     *logrus.Entry
	factory PeerConnectionFactory

	// OnRemoteTrack receives the host's media as it arrives. All tracks
	// belong to the host's single combined stream.
	OnRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	// OnStatus reports waiting/connected transitions for the preview UI.
	OnStatus func(Status)

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	hostID string
}

func NewViewer(room, selfID string, signal Signaler, ice []webrtc.ICEServer, log *logrus.Entry) *Viewer {
	return &Viewer{
		room:    room,
		selfID:  selfID,
		signal:  signal,
		ice:     ice,
		log:     log,
		factory: defaultFactory,
	}
}

// SetPeerConnectionFactory overrides how the peer connection is built.
func (v *Viewer) SetPeerConnectionFactory(f PeerConnectionFactory) {
	v.factory = f
}

// SetSignaler wires the outbound transport. Must be called before the first
// envelope is handled.
func (v *Viewer) SetSignaler(s Signaler) {
	v.signal = s
}

// HandleEnvelope dispatches one validated relay envelope.
func (v *Viewer) HandleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypePeer:
		v.handleSignal(env.From, env.Payload)
	case protocol.TypeLeft:
		v.handleLeft(env.PeerID)
	case protocol.TypeError:
		v.log.WithField("message", env.Message).Warn("relay error")
	}
}

func (v *Viewer) handleSignal(from string, payload *protocol.SignalPayload) {
	if payload == nil {
		return
	}
	switch payload.Type {
	case protocol.PayloadOffer:
		v.handleOffer(from, payload.SDP)
	case protocol.PayloadICE:
		v.handleCandidate(from, payload.Candidate)
	default:
		v.log.WithFields(logrus.Fields{"peer": from, "payload": payload.Type}).Debug("unexpected payload for viewer")
	}
}

func (v *Viewer) handleOffer(from string, sdp *webrtc.SessionDescription) {
	v.mu.Lock()
	pc := v.pc
	v.hostID = from
	v.mu.Unlock()

	if pc == nil {
		created, err := v.createPeer()
		if err != nil {
			v.log.WithError(err).Error("create host connection")
			return
		}
		pc = created
	}

	if err := pc.SetRemoteDescription(*sdp); err != nil {
		v.log.WithError(err).Warn("apply offer")
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		v.log.WithError(err).Error("create answer")
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		v.log.WithError(err).Error("set local description")
		return
	}

	v.signal.Send(&protocol.Envelope{
		Type: protocol.TypeSignal,
		Room: v.room,
		From: v.selfID,
		To:   from,
		Payload: &protocol.SignalPayload{
			Type:   protocol.PayloadAnswer,
			Target: from,
			SDP:    &answer,
		},
	})
	v.log.WithField("host", from).Info("answer sent to host")
}

func (v *Viewer) createPeer() (*webrtc.PeerConnection, error) {
	pc, err := v.factory(webrtc.Configuration{ICEServers: v.ice})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		v.mu.Lock()
		host := v.hostID
		v.mu.Unlock()

		init := cand.ToJSON()
		v.signal.Send(&protocol.Envelope{
			Type: protocol.TypeSignal,
			Room: v.room,
			From: v.selfID,
			To:   host,
			Payload: &protocol.SignalPayload{
				Type:      protocol.PayloadICE,
				Target:    host,
				Candidate: &init,
			},
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		v.log.WithFields(logrus.Fields{"kind": track.Kind(), "stream": track.StreamID()}).Info("remote track received")
		if v.OnRemoteTrack != nil {
			v.OnRemoteTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		v.log.WithField("state", state).Debug("host connection state")
		switch {
		case state == webrtc.PeerConnectionStateConnected:
			v.setStatus(StatusConnected)
		case terminal(state):
			v.teardown()
		}
	})

	v.mu.Lock()
	v.pc = pc
	v.mu.Unlock()
	return pc, nil
}

func (v *Viewer) handleCandidate(from string, cand *webrtc.ICECandidateInit) {
	v.mu.Lock()
	pc := v.pc
	v.mu.Unlock()

	if pc == nil {
		// Candidate arrived ahead of the offer; delivery order over the
		// relay is not guaranteed.
		v.log.WithField("peer", from).Debug("dropping early ice candidate")
		return
	}
	if err := pc.AddICECandidate(*cand); err != nil {
		v.log.WithError(err).WithField("peer", from).Debug("dropping ice candidate")
	}
}

// handleLeft reacts only to the tracked host leaving; other departures are
// irrelevant to a viewer.
func (v *Viewer) handleLeft(peerID string) {
	v.mu.Lock()
	isHost := peerID != "" && peerID == v.hostID
	v.mu.Unlock()

	if !isHost {
		return
	}
	v.log.WithField("host", peerID).Info("host left, waiting for a new offer")
	v.teardown()
}

// teardown closes the current connection and reverts to waiting. Idempotent:
// a second call with no connection is a no-op.
func (v *Viewer) teardown() {
	v.mu.Lock()
	pc := v.pc
	v.pc = nil
	v.hostID = ""
	v.mu.Unlock()

	if pc == nil {
		return
	}
	pc.Close()
	v.setStatus(StatusWaiting)
}

// HostID reports the peer id of the current host, empty while waiting.
func (v *Viewer) HostID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hostID
}

// Connected reports whether a peer connection currently exists.
func (v *Viewer) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pc != nil
}

// Close tears the session down for good.
func (v *Viewer) Close() {
	v.teardown()
}

func (v *Viewer) setStatus(s Status) {
	if v.OnStatus != nil {
		v.OnStatus(s)
	}
}
