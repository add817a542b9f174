// Package media owns the local capture stream of a live classroom host:
// camera/microphone acquisition, live screen-share swapping via in-place
// sender track replacement, and the recording pipeline.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Track is the local media track contract the controller works with.
// mediadevices tracks satisfy it.
type Track interface {
	webrtc.TrackLocal
	OnEnded(handler func(error))
	Close() error
}

// CaptureSource acquires local media. DeviceSource implements it on real
// hardware; tests substitute fakes.
type CaptureSource interface {
	UserMedia() (audio Track, video Track, err error)
	DisplayMedia() (video Track, err error)
}

// VideoSender is the part of *webrtc.RTPSender used for track replacement.
type VideoSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Recorder is the external recording collaborator.
type Recorder interface {
	Start() error
	Stop() (io.ReadCloser, error)
}

// Uploader stores a finished recording and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

var (
	ErrNotInitialized = errors.New("local stream not initialized")
	ErrNoRecording    = errors.New("no recording in progress")
)

// Controller holds the session's local media state. Exactly one outgoing
// video track exists at any time; toggling screen share swaps the source on
// every attached peer connection without renegotiation. The camera track is
// retained while sharing so it can be restored without reacquiring the
// device.
type Controller struct {
	capture  CaptureSource
	uploader Uploader
	log      *logrus.Entry

	mu       sync.Mutex
	audio    Track
	camera   Track
	screen   Track
	live     Track
	sharing  bool
	senders  map[string]VideoSender
	recorder Recorder
}

func NewController(capture CaptureSource, uploader Uploader, log *logrus.Entry) *Controller {
	return &Controller{
		capture:  capture,
		uploader: uploader,
		log:      log,
		senders:  make(map[string]VideoSender),
	}
}

// InitializeLocalStream acquires the camera and microphone. The camera track
// is kept separately from the live slot so screen sharing can restore it.
func (c *Controller) InitializeLocalStream() error {
	audio, video, err := c.capture.UserMedia()
	if err != nil {
		return fmt.Errorf("acquire camera/microphone: %w", err)
	}

	c.mu.Lock()
	c.audio = audio
	c.camera = video
	c.live = video
	c.mu.Unlock()

	c.log.Info("local stream initialized")
	return nil
}

// Attach adds the local tracks to a peer connection and remembers its video
// sender for later replacement. One call per peer id.
func (c *Controller) Attach(peerID string, pc *webrtc.PeerConnection) error {
	c.mu.Lock()
	audio, live := c.audio, c.live
	c.mu.Unlock()

	if live == nil {
		return ErrNotInitialized
	}

	if audio != nil {
		if _, err := pc.AddTrack(audio); err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	sender, err := pc.AddTrack(live)
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}

	c.mu.Lock()
	c.senders[peerID] = sender
	c.mu.Unlock()
	return nil
}

// Detach forgets the peer's sender. Idempotent.
func (c *Controller) Detach(peerID string) {
	c.mu.Lock()
	delete(c.senders, peerID)
	c.mu.Unlock()
}

// Sharing reports whether the screen is the current video source.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// LiveTrack returns the currently outgoing video track.
func (c *Controller) LiveTrack() Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// ToggleScreenShare switches the outgoing video between screen and camera.
// The swap replaces the track on every attached sender in place; no SDP
// renegotiation happens. When the OS-level share UI stops the capture, the
// track's ended handler reverts to the camera through the same path.
func (c *Controller) ToggleScreenShare() error {
	c.mu.Lock()
	if c.live == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.sharing {
		c.mu.Unlock()
		c.revertToCamera()
		return nil
	}
	c.mu.Unlock()

	screen, err := c.capture.DisplayMedia()
	if err != nil {
		return fmt.Errorf("acquire screen capture: %w", err)
	}

	c.mu.Lock()
	c.screen = screen
	c.live = screen
	c.sharing = true
	c.mu.Unlock()

	screen.OnEnded(func(err error) {
		c.log.WithError(err).Info("screen capture ended by user")
		c.revertToCamera()
	})

	c.replaceAll(screen)
	c.log.Info("screen share started")
	return nil
}

// revertToCamera stops the screen capture and restores the saved camera
// track on the live slot and every sender. Idempotent: a second call while
// not sharing does nothing.
func (c *Controller) revertToCamera() {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return
	}
	screen := c.screen
	c.screen = nil
	c.live = c.camera
	c.sharing = false
	camera := c.camera
	c.mu.Unlock()

	if screen != nil {
		if err := screen.Close(); err != nil {
			c.log.WithError(err).Debug("close screen track")
		}
	}
	c.replaceAll(camera)
	c.log.Info("reverted to camera")
}

func (c *Controller) replaceAll(track Track) {
	c.mu.Lock()
	senders := make(map[string]VideoSender, len(c.senders))
	for id, s := range c.senders {
		senders[id] = s
	}
	c.mu.Unlock()

	for id, sender := range senders {
		if err := sender.ReplaceTrack(track); err != nil {
			// One broken sender must not stop the swap for the rest.
			c.log.WithError(err).WithField("peer", id).Warn("replace outgoing track")
		}
	}
}

// StartRecording begins recording through the given collaborator.
func (c *Controller) StartRecording(rec Recorder) error {
	if err := rec.Start(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	c.mu.Lock()
	c.recorder = rec
	c.mu.Unlock()
	c.log.Info("recording started")
	return nil
}

// StopRecording finalizes the recording and uploads it, returning the
// durable URL. Any failure is returned for the caller to surface; nothing is
// retried here.
func (c *Controller) StopRecording(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if rec == nil {
		return "", ErrNoRecording
	}

	artifact, err := rec.Stop()
	if err != nil {
		return "", fmt.Errorf("finalize recording: %w", err)
	}
	defer artifact.Close()

	url, err := c.uploader.Upload(ctx, name, artifact)
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	c.log.WithField("url", url).Info("recording uploaded")
	return url, nil
}

// Close stops every local track.
func (c *Controller) Close() {
	c.mu.Lock()
	tracks := []Track{c.audio, c.camera, c.screen}
	c.audio, c.camera, c.screen, c.live = nil, nil, nil, nil
	c.sharing = false
	c.senders = make(map[string]VideoSender)
	c.mu.Unlock()

	for _, t := range tracks {
		if t != nil {
			t.Close()
		}
	}
}
