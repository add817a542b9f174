package media

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/sirupsen/logrus"
)

// TrackRecorder writes a remote VP8 track's RTP stream to an IVF file as it
// arrives. Stop closes the file and hands it back as the recording artifact.
type TrackRecorder struct {
	track *webrtc.TrackRemote
	log   *logrus.Entry

	mu      sync.Mutex
	file    *os.File
	writer  *ivfwriter.IVFWriter
	stopped bool
}

func NewTrackRecorder(track *webrtc.TrackRemote, log *logrus.Entry) *TrackRecorder {
	return &TrackRecorder{track: track, log: log}
}

func (r *TrackRecorder) Start() error {
	file, err := os.CreateTemp("", "classroom-recording-*.ivf")
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	writer, err := ivfwriter.NewWith(file)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("open ivf writer: %w", err)
	}

	r.mu.Lock()
	r.file = file
	r.writer = writer
	r.stopped = false
	r.mu.Unlock()

	go r.pump()
	return nil
}

func (r *TrackRecorder) pump() {
	for {
		packet, _, err := r.track.ReadRTP()
		if err != nil {
			// Track ended or the connection went away.
			return
		}

		r.mu.Lock()
		if r.stopped || r.writer == nil {
			r.mu.Unlock()
			return
		}
		if err := r.writer.WriteRTP(packet); err != nil {
			r.log.WithError(err).Debug("write rtp packet")
		}
		r.mu.Unlock()
	}
}

// Stop finalizes the file and returns it positioned at the start. The caller
// owns the returned handle; the temp file is unlinked so it disappears once
// closed.
func (r *TrackRecorder) Stop() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil, ErrNoRecording
	}
	r.stopped = true

	if err := r.writer.Close(); err != nil {
		r.log.WithError(err).Debug("close ivf writer")
	}
	r.writer = nil

	file := r.file
	r.file = nil
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewind recording: %w", err)
	}
	os.Remove(file.Name())
	return file, nil
}

const (
	recorderCodec = "VP8"
	recorderMTU   = 1200
)

// RTPSource yields the encoded RTP stream of a local track without touching
// the outgoing senders. mediadevices tracks satisfy it.
type RTPSource interface {
	NewRTPReader(codecName string, ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error)
}

// LocalTrackRecorder records the host's own camera track to an IVF file by
// pulling packets straight off the encoder, so the recording keeps running
// whether or not any viewer is connected.
type LocalTrackRecorder struct {
	source RTPSource
	log    *logrus.Entry

	mu      sync.Mutex
	reader  mediadevices.RTPReadCloser
	file    *os.File
	writer  *ivfwriter.IVFWriter
	stopped bool
}

func NewLocalTrackRecorder(source RTPSource, log *logrus.Entry) *LocalTrackRecorder {
	return &LocalTrackRecorder{source: source, log: log}
}

func (r *LocalTrackRecorder) Start() error {
	reader, err := r.source.NewRTPReader(recorderCodec, rand.Uint32(), recorderMTU)
	if err != nil {
		return fmt.Errorf("open rtp reader: %w", err)
	}

	file, err := os.CreateTemp("", "classroom-recording-*.ivf")
	if err != nil {
		reader.Close()
		return fmt.Errorf("create recording file: %w", err)
	}
	writer, err := ivfwriter.NewWith(file)
	if err != nil {
		reader.Close()
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("open ivf writer: %w", err)
	}

	r.mu.Lock()
	r.reader = reader
	r.file = file
	r.writer = writer
	r.stopped = false
	r.mu.Unlock()

	go r.pump(reader)
	return nil
}

func (r *LocalTrackRecorder) pump(reader mediadevices.RTPReadCloser) {
	for {
		packets, release, err := reader.Read()
		if err != nil {
			// Reader closed by Stop, or the track ended.
			return
		}

		r.mu.Lock()
		if r.stopped || r.writer == nil {
			r.mu.Unlock()
			release()
			return
		}
		for _, packet := range packets {
			if err := r.writer.WriteRTP(packet); err != nil {
				r.log.WithError(err).Debug("write rtp packet")
			}
		}
		r.mu.Unlock()
		release()
	}
}

// Stop finalizes the file and returns it positioned at the start, unlinked
// like TrackRecorder's artifact.
func (r *LocalTrackRecorder) Stop() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil, ErrNoRecording
	}
	r.stopped = true

	if err := r.reader.Close(); err != nil {
		r.log.WithError(err).Debug("close rtp reader")
	}
	r.reader = nil

	if err := r.writer.Close(); err != nil {
		r.log.WithError(err).Debug("close ivf writer")
	}
	r.writer = nil

	file := r.file
	r.file = nil
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewind recording: %w", err)
	}
	os.Remove(file.Name())
	return file, nil
}
