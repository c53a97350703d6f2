// Package media owns local media acquisition and mutation, independent of
// any peer connection. Tracks are shared by reference across all active
// peer links; the links attach them read-only and never mutate them.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// TrackKind distinguishes what a track carries.
type TrackKind string

const (
	KindAudio  TrackKind = "audio"
	KindVideo  TrackKind = "video"
	KindScreen TrackKind = "screen"
)

// Track wraps a local pion track with the enabled flag and stop semantics
// the controller needs. Enabled is a pure local flag: flipping it never
// triggers renegotiation, the track simply goes silent.
type Track struct {
	kind    TrackKind
	local   webrtc.TrackLocal
	enabled atomic.Bool
	stopped atomic.Bool
	once    sync.Once
	onStop  func()
}

// NewTrack wraps a pion track. onStop releases the capture source and may
// be nil.
func NewTrack(kind TrackKind, local webrtc.TrackLocal, onStop func()) *Track {
	t := &Track{kind: kind, local: local, onStop: onStop}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() TrackKind           { return t.kind }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }
func (t *Track) Enabled() bool             { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *Track) Stopped() bool             { return t.stopped.Load() }

// Stop releases the capture source. Idempotent.
func (t *Track) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.onStop != nil {
			t.onStop()
		}
	})
}
