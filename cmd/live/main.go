// Command live joins a classroom as the broadcasting host or as a viewer.
// The host captures camera and microphone, fans the stream out to every
// viewer, and can toggle screen share from stdin; a viewer can record the
// received stream and upload it when the class ends.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/config"
	"github.com/gema-platform/live-classroom/internal/classroom"
	"github.com/gema-platform/live-classroom/internal/ice"
	"github.com/gema-platform/live-classroom/internal/logging"
	"github.com/gema-platform/live-classroom/internal/media"
	"github.com/gema-platform/live-classroom/internal/protocol"
	"github.com/gema-platform/live-classroom/internal/session"
	"github.com/gema-platform/live-classroom/internal/signaling"
)

func main() {
	var (
		role      = flag.String("role", "viewer", "host or viewer")
		room      = flag.String("room", "", "classroom id to join")
		relayBase = flag.String("relay", "http://localhost:8080", "relay base URL")
		token     = flag.String("token", "", "host token (required by the relay for hosts)")
		record    = flag.Bool("record", false, "record the class; a host attaches the upload URL when the class ends")
	)
	flag.Parse()

	cfg := config.Load()
	log := logging.New(cfg.Log)

	if *room == "" {
		log.Fatal("-room is required")
	}

	peerID := uuid.New().String()
	resolver := ice.NewResolver(cfg.ICE, logging.Component(log, "ice"))

	switch *role {
	case "host":
		if err := runHost(cfg, log, *room, peerID, *relayBase, *token, *record, resolver); err != nil {
			log.WithError(err).Error("class ended with an error")
			os.Exit(1)
		}
	case "viewer":
		runViewer(cfg, log, *room, peerID, *relayBase, *record, resolver)
	default:
		log.Fatalf("unknown role %q", *role)
	}
}

func relayURL(base, token string) string {
	u := signaling.RelayURL(base)
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func runHost(cfg *config.Config, log *logrus.Logger, room, peerID, relayBase, token string, record bool, resolver *ice.Resolver) error {
	ctx := context.Background()
	status := func(s session.Status) {
		log.WithField("status", s).Info("class status")
	}
	status(session.StatusInitializing)

	api := classroom.NewClient(cfg.Classroom.APIBase, logging.Component(log, "classroom"))
	sessionID, err := api.StartSession(ctx, room)
	if err != nil {
		status(session.StatusError)
		return fmt.Errorf("start class session: %w", err)
	}

	// The platform now believes a class is running, so every exit path from
	// here on must finalize the session, recording URL or not.
	fail := func(err error) error {
		status(session.StatusError)
		if endErr := api.EndSession(ctx, room, sessionID, ""); endErr != nil {
			log.WithError(endErr).Error("could not finalize the session")
		}
		return err
	}

	source, err := media.NewDeviceSource()
	if err != nil {
		return fail(fmt.Errorf("capture pipeline setup: %w", err))
	}
	uploader := media.NewHTTPUploader(cfg.Classroom.UploadURL, logging.Component(log, "upload"))
	controller := media.NewController(source, uploader, logging.Component(log, "media"))
	if err := controller.InitializeLocalStream(); err != nil {
		return fail(fmt.Errorf("camera/microphone access: %w", err))
	}
	defer controller.Close()

	mediaEngine := &webrtc.MediaEngine{}
	source.CodecSelector().Populate(mediaEngine)
	webrtcAPI := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	host := session.NewHost(room, peerID, nil, resolver.Servers(), controller, logging.Component(log, "host"))
	host.SetPeerConnectionFactory(func(c webrtc.Configuration) (*webrtc.PeerConnection, error) {
		return webrtcAPI.NewPeerConnection(c)
	})
	host.OnViewerCount = func(n int) {
		log.WithField("viewers", n).Info("viewer count changed")
		if n > 0 {
			status(session.StatusConnected)
		}
	}

	client := signaling.NewClient(signaling.Options{
		URL:        relayURL(relayBase, token),
		Room:       room,
		PeerID:     peerID,
		Role:       protocol.RoleHost,
		OnEnvelope: host.HandleEnvelope,
		OnStatus: func(s signaling.Status) {
			log.WithField("status", s).Info("signaling status")
		},
		Log: logging.Component(log, "signaling"),
	})
	host.SetSignaler(client)
	status(session.StatusConnecting)
	client.Connect()
	defer client.Close()
	defer host.Close()

	if record {
		if src, ok := controller.LiveTrack().(media.RTPSource); ok {
			rec := media.NewLocalTrackRecorder(src, logging.Component(log, "recorder"))
			if err := controller.StartRecording(rec); err != nil {
				log.WithError(err).Error("recording failed to start")
			}
		} else {
			log.Warn("camera track does not expose its rtp stream; recording disabled")
		}
	}

	finish := func() {
		recordingURL := ""
		url, err := controller.StopRecording(ctx, "class-"+room+".ivf")
		switch {
		case errors.Is(err, media.ErrNoRecording):
			// Nothing was recorded; finalize without a URL.
		case err != nil:
			log.WithError(err).Error("recording upload failed; finalizing without a URL")
		default:
			recordingURL = url
		}
		endClass(ctx, log, api, client, room, peerID, sessionID, recordingURL)
		status(session.StatusIdle)
	}

	log.Info("class is live; commands: share | end")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	commands := readCommands()
	for {
		select {
		case cmd := <-commands:
			switch cmd {
			case "share":
				if err := controller.ToggleScreenShare(); err != nil {
					log.WithError(err).Error("screen share failed")
				}
			case "end":
				finish()
				return nil
			default:
				fmt.Println("commands: share | end")
			}
		case <-quit:
			finish()
			return nil
		}
	}
}

func runViewer(cfg *config.Config, log *logrus.Logger, room, peerID, relayBase string, record bool, resolver *ice.Resolver) {
	uploader := media.NewHTTPUploader(cfg.Classroom.UploadURL, logging.Component(log, "upload"))
	controller := media.NewController(nil, uploader, logging.Component(log, "media"))

	viewer := session.NewViewer(room, peerID, nil, resolver.Servers(), logging.Component(log, "viewer"))
	viewer.OnStatus = func(s session.Status) {
		log.WithField("status", s).Info("class status")
	}
	viewer.OnRemoteTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if record && track.Kind() == webrtc.RTPCodecTypeVideo {
			rec := media.NewTrackRecorder(track, logging.Component(log, "recorder"))
			if err := controller.StartRecording(rec); err != nil {
				log.WithError(err).Error("recording failed to start")
			}
		}
	}

	client := signaling.NewClient(signaling.Options{
		URL:        relayURL(relayBase, ""),
		Room:       room,
		PeerID:     peerID,
		Role:       protocol.RoleViewer,
		OnEnvelope: viewer.HandleEnvelope,
		OnStatus: func(s signaling.Status) {
			log.WithField("status", s).Info("signaling status")
		},
		Log: logging.Component(log, "signaling"),
	})
	viewer.SetSignaler(client)
	client.Connect()
	defer client.Close()
	defer viewer.Close()

	log.Info("joined class, waiting for the host")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	if record {
		url, err := controller.StopRecording(context.Background(), "class-"+room+".ivf")
		if err != nil {
			log.WithError(err).Error("recording upload failed")
		} else {
			log.WithField("url", url).Info("recording saved")
		}
	}
}

// endClass finalizes the session server-side. Failures are reported but
// never block the local teardown that follows.
func endClass(ctx context.Context, log *logrus.Logger, api *classroom.Client, client *signaling.Client, room, peerID, sessionID, recordingURL string) {
	client.Send(&protocol.Envelope{Type: protocol.TypeLeave, Room: room, PeerID: peerID})
	if err := api.EndSession(ctx, room, sessionID, recordingURL); err != nil {
		log.WithError(err).Error("could not finalize the session; tearing down anyway")
	}
	log.Info("class ended")
}

func readCommands() <-chan string {
	out := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			out <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
	}()
	return out
}
