package media

import (
	"log/slog"
	"sync"
)

// FlagsNotifier receives local mute/share state changes so they can be
// fanned out as presence updates. Toggles never renegotiate; this is the
// only side effect they have beyond the track flag itself.
type FlagsNotifier interface {
	SendFlags(audio, video, screen bool)
}

// AcquireOptions selects which local devices to open.
type AcquireOptions struct {
	Audio bool
	Video bool
}

// LocalStream is the set of currently-acquired local tracks, handed to
// peer links by reference.
type LocalStream struct {
	Audio *Track
	Video *Track
}

// Controller owns local media. It is constructed once per session and
// shared by the peer supervisor and the UI layer.
type Controller struct {
	source DeviceSource

	mu       sync.Mutex
	notifier FlagsNotifier
	audio    *Track
	video    *Track // camera, or the screen track while sharing
	retiring *Track // old camera kept alive until every peer swapped
	sharing  bool
	released bool
}

// NewController creates a controller over the given capture source.
func NewController(source DeviceSource) *Controller {
	return &Controller{source: source}
}

// SetNotifier wires the presence fan-out. May be set after construction,
// once the session has joined a room.
func (c *Controller) SetNotifier(n FlagsNotifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// Acquire opens the requested devices and returns the local stream. A
// device failure releases anything opened so far; partial acquisition is
// never left behind.
func (c *Controller) Acquire(opts AcquireOptions) (*LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, newError("acquire", ErrReleased)
	}

	if opts.Audio && c.audio == nil {
		t, err := c.source.OpenMicrophone()
		if err != nil {
			return nil, err
		}
		c.audio = t
	}
	if opts.Video && c.video == nil {
		t, err := c.source.OpenCamera()
		if err != nil {
			if c.audio != nil {
				c.audio.Stop()
				c.audio = nil
			}
			return nil, err
		}
		c.video = t
	}
	return &LocalStream{Audio: c.audio, Video: c.video}, nil
}

// Stream returns the current local stream without acquiring anything.
func (c *Controller) Stream() *LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &LocalStream{Audio: c.audio, Video: c.video}
}

// ToggleAudio flips the mic's enabled flag and notifies presence. No
// renegotiation.
func (c *Controller) ToggleAudio(enabled bool) {
	c.mu.Lock()
	if c.audio != nil {
		c.audio.SetEnabled(enabled)
	}
	c.notifyLocked()
	c.mu.Unlock()
}

// ToggleVideo flips the camera's enabled flag and notifies presence. No
// renegotiation.
func (c *Controller) ToggleVideo(enabled bool) {
	c.mu.Lock()
	if c.video != nil && !c.sharing {
		c.video.SetEnabled(enabled)
	}
	c.notifyLocked()
	c.mu.Unlock()
}

// StartScreenShare opens the screen source and swaps it in as the
// outgoing video track reference. The previous camera track is parked,
// not stopped: it keeps producing frames until CompleteSwap, so no peer
// sees a black-frame gap mid-renegotiation. The caller (the peer
// supervisor) renegotiates every connected peer and then calls
// CompleteSwap.
func (c *Controller) StartScreenShare() (*Track, error) {
	screen, err := c.source.OpenScreen()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		screen.Stop()
		return nil, newError("start screen share", ErrReleased)
	}
	if c.sharing {
		c.mu.Unlock()
		screen.Stop()
		return nil, newError("start screen share", ErrDeviceUnavailable)
	}
	c.retiring = c.video
	c.video = screen
	c.sharing = true
	c.notifyLocked()
	c.mu.Unlock()

	slog.Debug("screen share started", "track", screen.ID())
	return screen, nil
}

// CompleteSwap stops the parked track once every peer has acknowledged
// the replacement. Idempotent.
func (c *Controller) CompleteSwap() {
	c.mu.Lock()
	retiring := c.retiring
	c.retiring = nil
	c.mu.Unlock()
	if retiring != nil {
		retiring.Stop()
	}
}

// StopScreenShare swaps the camera back in. The returned track is the
// fresh camera track the supervisor must renegotiate onto every peer;
// the screen track is parked until CompleteSwap, mirroring the start
// path.
func (c *Controller) StopScreenShare() (*Track, error) {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return nil, newError("stop screen share", ErrDeviceUnavailable)
	}
	c.mu.Unlock()

	camera, err := c.source.OpenCamera()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.retiring = c.video
	c.video = camera
	c.sharing = false
	c.notifyLocked()
	c.mu.Unlock()
	return camera, nil
}

// Sharing reports whether the screen track is the active video.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// Release stops every local track. Called unconditionally on room leave;
// idempotent, and it never fails.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	tracks := []*Track{c.audio, c.video, c.retiring}
	c.audio, c.video, c.retiring = nil, nil, nil
	c.sharing = false
	c.mu.Unlock()

	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}

// notifyLocked fans the current flags out to presence. Caller holds c.mu.
func (c *Controller) notifyLocked() {
	if c.notifier == nil {
		return
	}
	audio := c.audio != nil && c.audio.Enabled()
	video := c.video != nil && c.video.Enabled() && !c.sharing
	c.notifier.SendFlags(audio, video, c.sharing)
}
