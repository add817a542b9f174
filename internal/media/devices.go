package media

import (
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	// Driver registration side effects, required for device discovery.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// DeviceSource captures from the machine's camera, microphone, and screen
// through mediadevices, encoding video as VP8 and audio as Opus.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// CodecSelector exposes the selector so the caller can register the codecs
// on its webrtc MediaEngine.
func (d *DeviceSource) CodecSelector() *mediadevices.CodecSelector {
	return d.selector
}

func (d *DeviceSource) UserMedia() (Track, Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormat(frame.FormatI420)
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, nil, err
	}

	audioTracks := stream.GetAudioTracks()
	videoTracks := stream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, nil, errors.New("no camera track available")
	}

	var audio Track
	if len(audioTracks) > 0 {
		audio = audioTracks[0].(Track)
	}
	return audio, videoTracks[0].(Track), nil
}

func (d *DeviceSource) DisplayMedia() (Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormat(frame.FormatI420)
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, err
	}

	videoTracks := stream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, errors.New("no screen track available")
	}
	return videoTracks[0].(Track), nil
}
