package media

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// failingSource fails selected devices to exercise acquisition rollback.
type failingSource struct {
	SyntheticSource
	failMic    error
	failCamera error
	failScreen error

	mu     sync.Mutex
	opened []*Track
}

func (s *failingSource) OpenMicrophone() (*Track, error) {
	if s.failMic != nil {
		return nil, newError("open microphone", s.failMic)
	}
	t, err := s.SyntheticSource.OpenMicrophone()
	s.record(t)
	return t, err
}

func (s *failingSource) OpenCamera() (*Track, error) {
	if s.failCamera != nil {
		return nil, newError("open camera", s.failCamera)
	}
	t, err := s.SyntheticSource.OpenCamera()
	s.record(t)
	return t, err
}

func (s *failingSource) OpenScreen() (*Track, error) {
	if s.failScreen != nil {
		return nil, newError("open screen", s.failScreen)
	}
	t, err := s.SyntheticSource.OpenScreen()
	s.record(t)
	return t, err
}

func (s *failingSource) record(t *Track) {
	s.mu.Lock()
	s.opened = append(s.opened, t)
	s.mu.Unlock()
}

// flagRecorder captures presence fan-out calls.
type flagRecorder struct {
	mu    sync.Mutex
	calls [][3]bool
}

func (r *flagRecorder) SendFlags(audio, video, screen bool) {
	r.mu.Lock()
	r.calls = append(r.calls, [3]bool{audio, video, screen})
	r.mu.Unlock()
}

func (r *flagRecorder) last(t *testing.T) [3]bool {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("no flags were sent")
	}
	return r.calls[len(r.calls)-1]
}

func TestAcquireBoth(t *testing.T) {
	c := NewController(SyntheticSource{})
	stream, err := c.Acquire(AcquireOptions{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	if stream.Audio == nil || stream.Video == nil {
		t.Fatal("both tracks should be open")
	}
	if stream.Audio.Kind() != KindAudio || stream.Video.Kind() != KindVideo {
		t.Error("track kinds mismatch")
	}
	if !stream.Audio.Enabled() || !stream.Video.Enabled() {
		t.Error("fresh tracks start enabled")
	}
}

func TestAcquireRollsBackOnPartialFailure(t *testing.T) {
	src := &failingSource{failCamera: ErrDeviceUnavailable}
	c := NewController(src)

	_, err := c.Acquire(AcquireOptions{Audio: true, Video: true})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}

	// The mic that briefly opened must be stopped, not leaked.
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.opened) != 1 {
		t.Fatalf("expected 1 opened track, got %d", len(src.opened))
	}
	if !src.opened[0].Stopped() {
		t.Error("partially acquired track must be stopped on failure")
	}

	if stream := c.Stream(); stream.Audio != nil || stream.Video != nil {
		t.Error("no partial acquisition may be left behind")
	}
}

func TestToggleFlipsFlagAndNotifies(t *testing.T) {
	c := NewController(SyntheticSource{})
	stream, err := c.Acquire(AcquireOptions{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	rec := &flagRecorder{}
	c.SetNotifier(rec)

	c.ToggleAudio(false)
	if stream.Audio.Enabled() {
		t.Error("audio should be disabled")
	}
	if got := rec.last(t); got != [3]bool{false, true, false} {
		t.Errorf("flags = %v, want audio off", got)
	}

	c.ToggleAudio(true)
	c.ToggleVideo(false)
	if stream.Video.Enabled() {
		t.Error("video should be disabled")
	}
	if got := rec.last(t); got != [3]bool{true, false, false} {
		t.Errorf("flags = %v, want video off", got)
	}

	// A toggle never replaces the track object.
	if now := c.Stream(); now.Audio != stream.Audio || now.Video != stream.Video {
		t.Error("toggling must not swap tracks")
	}
}

func TestScreenShareParksCameraUntilCompleteSwap(t *testing.T) {
	c := NewController(SyntheticSource{})
	stream, err := c.Acquire(AcquireOptions{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	camera := stream.Video
	rec := &flagRecorder{}
	c.SetNotifier(rec)

	screen, err := c.StartScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	if c.Stream().Video != screen {
		t.Error("screen must become the active video")
	}
	if camera.Stopped() {
		t.Error("camera must keep producing until the swap completes")
	}
	if got := rec.last(t); got != [3]bool{true, false, true} {
		t.Errorf("flags during share = %v, want screen on and video off", got)
	}

	c.CompleteSwap()
	if !camera.Stopped() {
		t.Error("camera must stop after CompleteSwap")
	}
	c.CompleteSwap() // idempotent
}

func TestSecondScreenShareRejected(t *testing.T) {
	c := NewController(SyntheticSource{})
	if _, err := c.Acquire(AcquireOptions{Video: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartScreenShare(); err != nil {
		t.Fatal(err)
	}

	if _, err := c.StartScreenShare(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("second share should fail with ErrDeviceUnavailable, got %v", err)
	}
}

func TestScreenPickerCancelled(t *testing.T) {
	c := NewController(&failingSource{failScreen: ErrUserCancelled})
	if _, err := c.Acquire(AcquireOptions{Video: true}); err != nil {
		t.Fatal(err)
	}
	camera := c.Stream().Video

	if _, err := c.StartScreenShare(); !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	// A cancelled picker leaves the camera exactly as it was.
	if c.Sharing() {
		t.Error("cancelled picker must not enter sharing state")
	}
	if c.Stream().Video != camera || camera.Stopped() {
		t.Error("camera must be untouched after a cancelled picker")
	}
}

func TestStopScreenShareParksScreen(t *testing.T) {
	c := NewController(SyntheticSource{})
	if _, err := c.Acquire(AcquireOptions{Video: true}); err != nil {
		t.Fatal(err)
	}
	screen, err := c.StartScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	c.CompleteSwap()

	camera, err := c.StopScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	if c.Sharing() {
		t.Error("sharing flag must clear")
	}
	if c.Stream().Video != camera {
		t.Error("camera must become the active video again")
	}
	if screen.Stopped() {
		t.Error("screen keeps producing until the swap back completes")
	}
	c.CompleteSwap()
	if !screen.Stopped() {
		t.Error("screen must stop after CompleteSwap")
	}
}

func TestStopScreenShareWithoutSharing(t *testing.T) {
	c := NewController(SyntheticSource{})
	if _, err := c.StopScreenShare(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestReleaseStopsEverythingOnce(t *testing.T) {
	c := NewController(SyntheticSource{})
	stream, err := c.Acquire(AcquireOptions{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartScreenShare(); err != nil {
		t.Fatal(err)
	}
	screen := c.Stream().Video

	c.Release()
	c.Release()

	for _, tr := range []*Track{stream.Audio, stream.Video, screen} {
		if !tr.Stopped() {
			t.Errorf("track %s (%s) not stopped on release", tr.ID(), tr.Kind())
		}
	}

	if _, err := c.Acquire(AcquireOptions{Audio: true}); !errors.Is(err, ErrReleased) {
		t.Errorf("acquire after release should fail with ErrReleased, got %v", err)
	}
	if _, err := c.StartScreenShare(); !errors.Is(err, ErrReleased) {
		t.Errorf("share after release should fail with ErrReleased, got %v", err)
	}
}

func TestWriteBlankSample(t *testing.T) {
	tr, err := SyntheticSource{}.OpenCamera()
	if err != nil {
		t.Fatal(err)
	}
	sample := pionmedia.Sample{Data: []byte{0}, Duration: 100 * time.Millisecond}
	// Unbound tracks accept samples without error; they go nowhere yet.
	if err := WriteBlankSample(tr, sample); err != nil {
		t.Fatalf("write sample: %v", err)
	}
}

func TestTrackStopIdempotent(t *testing.T) {
	var stops int
	tr := NewTrack(KindAudio, mustSample(t), func() { stops++ })
	tr.Stop()
	tr.Stop()
	if stops != 1 {
		t.Errorf("onStop ran %d times, want 1", stops)
	}
	if !tr.Stopped() {
		t.Error("track should report stopped")
	}
}

func mustSample(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	tr, err := SyntheticSource{}.OpenMicrophone()
	if err != nil {
		t.Fatal(err)
	}
	return tr.Local()
}
