package session

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gema-platform/live-classroom/internal/protocol"
)

// makeOffer builds a real SDP offer with one video section, standing in for
// the host side.
func makeOffer(t *testing.T) webrtc.SessionDescription {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "classroom")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer
}

func offerEnvelope(t *testing.T, from string) *protocol.Envelope {
	offer := makeOffer(t)
	return &protocol.Envelope{
		Type: protocol.TypePeer,
		From: from,
		Payload: &protocol.SignalPayload{
			Type:   protocol.PayloadOffer,
			Target: "viewer-1",
			SDP:    &offer,
		},
	}
}

func newTestViewer(t *testing.T) (*Viewer, *captureSignaler) {
	signaler := &captureSignaler{}
	viewer := NewViewer("classroom-1", "viewer-1", signaler, nil, testLog())
	t.Cleanup(viewer.Close)
	return viewer, signaler
}

func (c *captureSignaler) answers() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range c.sent {
		if env.Payload != nil && env.Payload.Type == protocol.PayloadAnswer {
			out = append(out, env)
		}
	}
	return out
}

func TestOfferProducesAnswer(t *testing.T) {
	viewer, signaler := newTestViewer(t)

	viewer.HandleEnvelope(offerEnvelope(t, "host-1"))

	assert.True(t, viewer.Connected())
	assert.Equal(t, "host-1", viewer.HostID())

	answers := signaler.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "host-1", answers[0].To)
	assert.Equal(t, "host-1", answers[0].Payload.Target)
	require.NotNil(t, answers[0].Payload.SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, answers[0].Payload.SDP.Type)
}

func TestHostLeftRevertsToWaiting(t *testing.T) {
	viewer, _ := newTestViewer(t)
	var statuses []Status
	viewer.OnStatus = func(s Status) { statuses = append(statuses, s) }

	viewer.HandleEnvelope(offerEnvelope(t, "host-1"))
	require.True(t, viewer.Connected())

	viewer.HandleEnvelope(&protocol.Envelope{Type: protocol.TypeLeft, Room: "classroom-1", PeerID: "host-1"})

	assert.False(t, viewer.Connected())
	assert.Empty(t, viewer.HostID())
	assert.Contains(t, statuses, StatusWaiting)
}

func TestOtherPeerLeavingIsIgnored(t *testing.T) {
	viewer, _ := newTestViewer(t)

	viewer.HandleEnvelope(offerEnvelope(t, "host-1"))
	viewer.HandleEnvelope(&protocol.Envelope{Type: protocol.TypeLeft, Room: "classroom-1", PeerID: "viewer-9"})

	assert.True(t, viewer.Connected())
	assert.Equal(t, "host-1", viewer.HostID())
}

func TestResumesWithNewHostAfterLeft(t *testing.T) {
	viewer, signaler := newTestViewer(t)

	viewer.HandleEnvelope(offerEnvelope(t, "host-1"))
	viewer.HandleEnvelope(&protocol.Envelope{Type: protocol.TypeLeft, Room: "classroom-1", PeerID: "host-1"})
	require.False(t, viewer.Connected())

	// A substitute teacher takes over without the viewer rejoining.
	viewer.HandleEnvelope(offerEnvelope(t, "host-2"))

	assert.True(t, viewer.Connected())
	assert.Equal(t, "host-2", viewer.HostID())

	answers := signaler.answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "host-2", answers[1].To)
}

func TestEarlyCandidateIsDropped(t *testing.T) {
	viewer, _ := newTestViewer(t)

	// Candidate arrives before any offer; relay order is not guaranteed.
	assert.NotPanics(t, func() {
		viewer.HandleEnvelope(&protocol.Envelope{
			Type: protocol.TypePeer,
			From: "host-1",
			Payload: &protocol.SignalPayload{
				Type:      protocol.PayloadICE,
				Target:    "viewer-1",
				Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 1.2.3.4 5000 typ host"},
			},
		})
	})
	assert.False(t, viewer.Connected())
}

func TestViewerTeardownIsIdempotent(t *testing.T) {
	viewer, _ := newTestViewer(t)

	viewer.HandleEnvelope(offerEnvelope(t, "host-1"))
	viewer.Close()
	assert.NotPanics(t, viewer.Close)
	assert.False(t, viewer.Connected())
}
