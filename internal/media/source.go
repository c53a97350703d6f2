package media

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// DeviceSource abstracts the OS capture layer. The real browser or
// desktop runtime sits behind this interface; tests and the headless CLI
// inject their own.
type DeviceSource interface {
	// OpenMicrophone starts audio capture. Fails with ErrPermissionDenied
	// or ErrDeviceUnavailable.
	OpenMicrophone() (*Track, error)

	// OpenCamera starts video capture. Same failure modes as the mic.
	OpenCamera() (*Track, error)

	// OpenScreen shows the OS screen picker and starts capture. Fails
	// with ErrUserCancelled when the picker is dismissed.
	OpenScreen() (*Track, error)
}

// SyntheticSource produces silent/blank sample tracks. It backs the CLI
// session, where there is no OS capture, and doubles as the test source.
type SyntheticSource struct{}

func (SyntheticSource) OpenMicrophone() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(), "huddle")
	if err != nil {
		return nil, newError("open microphone", err)
	}
	return NewTrack(KindAudio, local, nil), nil
}

func (SyntheticSource) OpenCamera() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+uuid.NewString(), "huddle")
	if err != nil {
		return nil, newError("open camera", err)
	}
	return NewTrack(KindVideo, local, nil), nil
}

func (SyntheticSource) OpenScreen() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen-"+uuid.NewString(), "huddle")
	if err != nil {
		return nil, newError("open screen", err)
	}
	return NewTrack(KindScreen, local, nil), nil
}

// WriteBlankSample pushes one empty sample into a synthetic track, enough
// to keep a demo session's RTP flowing. No-op for non-sample tracks.
func WriteBlankSample(t *Track, s media.Sample) error {
	sample, ok := t.Local().(*webrtc.TrackLocalStaticSample)
	if !ok {
		return nil
	}
	return sample.WriteSample(s)
}
