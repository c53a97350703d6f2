package peer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lowkeylabs/huddle/internal/model"
)

// link is the connection state for one (local, remote) participant pair.
// All fields are guarded by the owning supervisor's mutex; session
// callbacks re-enter through supervisor methods, never directly.
type link struct {
	sup    *Supervisor
	remote string

	state       State
	session     Session
	offerer     bool
	retried     bool
	remoteReady bool // a remote description has been applied

	// pendingCandidates buffers remote ICE candidates that arrived
	// before the remote description, in received order.
	pendingCandidates []json.RawMessage

	// lastRemoteOffer distinguishes a renegotiation offer from a
	// duplicate of one already applied.
	lastRemoteOffer string

	lastActivity time.Time
}

func (l *link) setState(s State) {
	if l.state == s {
		return
	}
	l.state = s
	l.lastActivity = time.Now()
	l.sup.emit(Event{Kind: EventStateChanged, PeerID: l.remote, State: s})
}

// startOffer opens a session and runs one Offering cycle. Called for the
// side with the lexicographically smaller participant id, and once more
// on a bounded retry after transport failure.
func (l *link) startOffer() {
	session, err := l.sup.newSession(l.remote)
	if err != nil {
		l.failLocked(err)
		return
	}
	l.session = session
	l.offerer = true
	l.setState(StateOffering)

	sdp, err := session.CreateOffer()
	if err != nil {
		l.failLocked(err)
		return
	}
	l.sup.sendSignal(l.remote, model.SignalPayload{Kind: model.SignalOffer, SDP: sdp})
	l.setState(StateAwaitingAnswer)
}

// handleOffer processes a remote offer according to the current state.
func (l *link) handleOffer(sdp string) {
	switch l.state {
	case StateIdle:
		l.answer(sdp)

	case StateOffering, StateAwaitingAnswer:
		// Glare: both sides discovered each other and offered at once.
		// The lower id keeps its offer; the higher id abandons and
		// answers instead.
		if l.sup.selfID < l.remote {
			slog.Debug("offer glare, keeping own offer", "peer", l.remote)
			return
		}
		slog.Debug("offer glare, abandoning own offer", "peer", l.remote)
		if l.session != nil {
			l.session.Close()
			l.session = nil
		}
		l.offerer = false
		l.remoteReady = false
		l.answer(sdp)

	case StateNegotiated, StateConnected:
		// Negotiated is reachable here on the answerer side: the remote
		// can reach Connected and start renegotiating before our
		// transport callback fires.
		if sdp == l.lastRemoteOffer {
			slog.Warn("duplicate offer for established peer, dropping", "peer", l.remote)
			return
		}
		// Remote renegotiation, e.g. the peer started a screen share.
		answerSDP, err := l.session.CreateAnswer(sdp)
		if err != nil {
			l.failLocked(err)
			return
		}
		l.lastRemoteOffer = sdp
		l.sup.sendSignal(l.remote, model.SignalPayload{Kind: model.SignalAnswer, SDP: answerSDP})

	default:
		slog.Warn("offer in unexpected state, dropping", "peer", l.remote, "state", l.state)
	}
}

// answer creates a session if needed, applies the offer, and replies.
func (l *link) answer(sdp string) {
	if l.session == nil {
		session, err := l.sup.newSession(l.remote)
		if err != nil {
			l.failLocked(err)
			return
		}
		l.session = session
	}

	answerSDP, err := l.session.CreateAnswer(sdp)
	if err != nil {
		l.failLocked(err)
		return
	}
	l.lastRemoteOffer = sdp
	l.remoteReady = true
	l.setState(StateNegotiated)
	l.sup.sendSignal(l.remote, model.SignalPayload{Kind: model.SignalAnswer, SDP: answerSDP})
	l.flushCandidates()
}

// handleAnswer processes a remote answer according to the current state.
func (l *link) handleAnswer(sdp string) {
	switch l.state {
	case StateAwaitingAnswer:
		if err := l.session.AcceptAnswer(sdp); err != nil {
			l.failLocked(err)
			return
		}
		l.remoteReady = true
		l.setState(StateConnected)
		l.flushCandidates()

	case StateRenegotiating:
		if err := l.session.AcceptAnswer(sdp); err != nil {
			l.failLocked(err)
			return
		}
		l.setState(StateConnected)
		l.sup.renegotiationDone()

	case StateConnected:
		slog.Warn("duplicate answer for connected peer, dropping", "peer", l.remote)

	default:
		slog.Warn("answer in unexpected state, dropping", "peer", l.remote, "state", l.state)
	}
}

// handleCandidate applies a remote ICE candidate, buffering it until the
// remote description exists.
func (l *link) handleCandidate(candidate json.RawMessage) {
	if !l.remoteReady {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return
	}
	if err := l.session.AddCandidate(candidate); err != nil {
		slog.Warn("add candidate failed", "peer", l.remote, "err", err)
	}
}

// flushCandidates applies buffered candidates in received order. None are
// lost: a candidate that fails to apply is logged, not retried.
func (l *link) flushCandidates() {
	for _, c := range l.pendingCandidates {
		if err := l.session.AddCandidate(c); err != nil {
			slog.Warn("flush candidate failed", "peer", l.remote, "err", err)
		}
	}
	l.pendingCandidates = nil
}

// renegotiate replaces the outgoing video track and runs a fresh offer
// cycle on an established link.
func (l *link) renegotiate() {
	if l.state != StateConnected {
		return
	}
	// The link is already counted into the pending swap; every early
	// return below must give its count back or the parked track leaks.
	stream := l.sup.media.Stream()
	if stream.Video == nil {
		l.sup.renegotiationDone()
		return
	}
	if err := l.session.ReplaceVideoTrack(stream.Video); err != nil {
		l.sup.renegotiationDone()
		l.failLocked(err)
		return
	}
	l.setState(StateRenegotiating)
	sdp, err := l.session.CreateOffer()
	if err != nil {
		l.failLocked(err)
		return
	}
	l.sup.sendSignal(l.remote, model.SignalPayload{Kind: model.SignalOffer, SDP: sdp})
}

// transportConnected is the answerer's path to Connected: the signaling
// exchange finished at Negotiated and the transport callback completes it.
func (l *link) transportConnected() {
	if l.state == StateNegotiated {
		l.setState(StateConnected)
	}
}

// failLocked marks the link Failed and retries one fresh Offering cycle
// at most once. Bounded on purpose: endless retries against a dead peer
// are a signaling storm.
func (l *link) failLocked(err error) {
	slog.Warn("peer link failed", "peer", l.remote, "err", err)
	if l.state == StateRenegotiating {
		// A failed link must not leave the track swap waiting forever.
		l.sup.renegotiationDone()
	}
	if l.session != nil {
		l.session.Close()
		l.session = nil
	}
	l.pendingCandidates = nil
	l.remoteReady = false
	l.setState(StateFailed)
	l.sup.emit(Event{Kind: EventPeerFailed, PeerID: l.remote, Err: err})

	if l.retried {
		return
	}
	l.retried = true
	l.startOffer()
}

// close tears the link down. Best-effort: a failing transport close never
// propagates, so sibling teardowns are not blocked.
func (l *link) close() {
	if l.state == StateClosed {
		return
	}
	if l.state == StateRenegotiating {
		l.sup.renegotiationDone()
	}
	if l.session != nil {
		if err := l.session.Close(); err != nil {
			slog.Warn("session close failed", "peer", l.remote, "err", err)
		}
		l.session = nil
	}
	l.pendingCandidates = nil
	l.setState(StateClosed)
}
