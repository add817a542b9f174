package media

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRTPReader struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeRTPReader) Read() ([]*rtp.Packet, func(), error) {
	// Nothing to deliver; the pump exits immediately.
	return nil, func() {}, io.EOF
}

func (f *fakeRTPReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRTPReader) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRTPSource struct {
	reader *fakeRTPReader
	codec  string
	mtu    int
	err    error
}

func (f *fakeRTPSource) NewRTPReader(codecName string, ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error) {
	f.codec = codecName
	f.mtu = mtu
	if f.err != nil {
		return nil, f.err
	}
	return f.reader, nil
}

func recorderLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestLocalRecorderLifecycle(t *testing.T) {
	source := &fakeRTPSource{reader: &fakeRTPReader{}}
	rec := NewLocalTrackRecorder(source, recorderLog())

	require.NoError(t, rec.Start())
	assert.Equal(t, "VP8", source.codec)
	assert.Equal(t, recorderMTU, source.mtu)

	artifact, err := rec.Stop()
	require.NoError(t, err)
	defer artifact.Close()

	assert.True(t, source.reader.isClosed(), "stopping must release the encoder reader")

	// The artifact is readable from the start.
	_, err = io.ReadAll(artifact)
	assert.NoError(t, err)
}

func TestLocalRecorderStopWithoutStart(t *testing.T) {
	rec := NewLocalTrackRecorder(&fakeRTPSource{reader: &fakeRTPReader{}}, recorderLog())

	artifact, err := rec.Stop()
	assert.Nil(t, artifact)
	assert.ErrorIs(t, err, ErrNoRecording)
}

func TestLocalRecorderStartFailure(t *testing.T) {
	source := &fakeRTPSource{err: errors.New("encoder busy")}
	rec := NewLocalTrackRecorder(source, recorderLog())

	require.Error(t, rec.Start())

	_, err := rec.Stop()
	assert.ErrorIs(t, err, ErrNoRecording, "a failed start must leave no recording state")
}
