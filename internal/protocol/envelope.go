// Package protocol defines the signaling envelopes exchanged between live
// classroom peers and the relay. Every inbound frame is validated against the
// closed tag set here before any other code sees it.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// EnvelopeType tags a signaling envelope.
type EnvelopeType string

const (
	// Client → relay.
	TypeJoin   EnvelopeType = "join"
	TypeLeave  EnvelopeType = "leave"
	TypeSignal EnvelopeType = "signal"
	TypePong   EnvelopeType = "pong"

	// Relay → client.
	TypeJoined EnvelopeType = "joined"
	TypeLeft   EnvelopeType = "left"
	TypePeer   EnvelopeType = "peer"
	TypeError  EnvelopeType = "error"
	TypePing   EnvelopeType = "ping"
)

// Role distinguishes the single broadcasting host from viewers.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// PayloadType tags the inner WebRTC negotiation payload.
type PayloadType string

const (
	PayloadOffer  PayloadType = "offer"
	PayloadAnswer PayloadType = "answer"
	PayloadICE    PayloadType = "ice"
)

// PeerInfo describes a peer already present in a room, reported in the
// joined envelope so a late joiner can see who it will hear from.
type PeerInfo struct {
	PeerID string `json:"peerId"`
	Role   Role   `json:"role,omitempty"`
}

// SignalPayload is the tagged union carried inside signal and peer
// envelopes: an SDP offer, an SDP answer, or an ICE candidate.
type SignalPayload struct {
	Type      PayloadType                `json:"type"`
	Target    string                     `json:"target,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Envelope is the top-level signaling message. Fields are populated per
// type; unset fields are omitted on the wire.
type Envelope struct {
	Type         EnvelopeType   `json:"type"`
	Room         string         `json:"room,omitempty"`
	PeerID       string         `json:"peerId,omitempty"`
	Role         Role           `json:"role,omitempty"`
	From         string         `json:"from,omitempty"`
	To           string         `json:"to,omitempty"`
	Participants int            `json:"participants,omitempty"`
	Peers        []PeerInfo     `json:"peers,omitempty"`
	Payload      *SignalPayload `json:"payload,omitempty"`
	Message      string         `json:"message,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`
}

// ErrUnknownType reports a frame whose tag is outside the recognized set.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown envelope type %q", e.Type)
}

// The wire protocol is directional: each side accepts only the tags the
// other side is allowed to send. A relay tag arriving at the relay (or the
// reverse) is rejected exactly like a made-up one.
var (
	clientTypes = map[EnvelopeType]bool{
		TypeJoin:   true,
		TypeLeave:  true,
		TypeSignal: true,
		TypePong:   true,
	}
	relayTypes = map[EnvelopeType]bool{
		TypeJoined: true,
		TypeLeft:   true,
		TypePeer:   true,
		TypeError:  true,
		TypePing:   true,
	}
)

// DecodeFromClient parses and validates a frame the relay received from a
// peer. Only client-originated tags are accepted.
func DecodeFromClient(data []byte) (*Envelope, error) {
	return decode(data, clientTypes)
}

// DecodeFromRelay parses and validates a frame a peer received from the
// relay. Only relay-originated tags are accepted.
func DecodeFromRelay(data []byte) (*Envelope, error) {
	return decode(data, relayTypes)
}

// decode rejects frames with a tag outside the given set or a malformed
// signal payload, so downstream code never inspects untyped data.
func decode(data []byte, accepted map[EnvelopeType]bool) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if !accepted[env.Type] {
		return nil, &ErrUnknownType{Type: string(env.Type)}
	}
	if env.Type == TypeSignal || env.Type == TypePeer {
		if err := env.Payload.validate(); err != nil {
			return nil, err
		}
	}
	return &env, nil
}

func (p *SignalPayload) validate() error {
	if p == nil {
		return fmt.Errorf("signal envelope without payload")
	}
	switch p.Type {
	case PayloadOffer, PayloadAnswer:
		if p.SDP == nil {
			return fmt.Errorf("%s payload without sdp", p.Type)
		}
	case PayloadICE:
		if p.Candidate == nil {
			return fmt.Errorf("ice payload without candidate")
		}
	default:
		return fmt.Errorf("unknown payload type %q", p.Type)
	}
	return nil
}

// Marshal serializes an envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
