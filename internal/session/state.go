// Package session negotiates and tracks the WebRTC sessions of a live
// classroom: the host fans its stream out to every viewer, a viewer holds a
// single connection to the host.
package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

// Status is the UI-facing connection state. It is derived from signaling and
// peer-connection transitions, never set from remote data.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"

	// StatusWaiting is the viewer sub-state between host departures:
	// still joined at the transport level, no remote stream.
	StatusWaiting Status = "waiting"
)

// Signaler sends envelopes toward the relay. *signaling.Client satisfies it.
type Signaler interface {
	Send(env *protocol.Envelope)
}

// TrackSource attaches the local media tracks to a peer connection and
// releases the per-connection state again on teardown. *media.Controller
// satisfies it.
type TrackSource interface {
	Attach(peerID string, pc *webrtc.PeerConnection) error
	Detach(peerID string)
}

// PeerConnectionFactory builds peer connections; tests substitute it to
// observe construction.
type PeerConnectionFactory func(webrtc.Configuration) (*webrtc.PeerConnection, error)

func defaultFactory(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(cfg)
}

func terminal(state webrtc.PeerConnectionState) bool {
	switch state {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}
