// Package peer owns the per-remote-participant connection state machines
// and translates UI-level intents into signaling exchanges.
package peer

// State is the lifecycle of one peer link.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting-answer"
	StateNegotiated     State = "negotiated"
	StateConnected      State = "connected"
	StateRenegotiating  State = "renegotiating"
	StateClosed         State = "closed"
	StateFailed         State = "failed"
)

// EventKind discriminates supervisor events.
type EventKind string

const (
	// EventStateChanged fires on every link state transition, for UI
	// status indicators.
	EventStateChanged EventKind = "state-changed"

	// EventTrackAdded fires when a remote media track becomes available
	// for rendering.
	EventTrackAdded EventKind = "track-added"

	// EventPeerFailed reports an irrecoverable transport error on one
	// link. Never fatal to the room or to other links.
	EventPeerFailed EventKind = "peer-failed"
)

// Event is a UI-facing notification. Events are best-effort: a slow
// consumer drops them rather than stalling the state machines.
type Event struct {
	Kind      EventKind
	PeerID    string
	State     State
	TrackID   string
	TrackKind string
	Err       error
}
