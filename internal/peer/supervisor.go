package peer

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lowkeylabs/huddle/internal/media"
	"github.com/lowkeylabs/huddle/internal/model"
	"github.com/lowkeylabs/huddle/internal/signaling"
)

// Sender is the slice of the signaling channel the supervisor needs.
type Sender interface {
	Send(env model.Envelope)
}

// Supervisor owns one link per remote participant in the room and drives
// each link's state machine from roster events and relayed signals. UI
// intents (screen share, leave) enter through its methods; everything
// else arrives as messages.
type Supervisor struct {
	selfID  string
	sender  Sender
	media   *media.Controller
	factory SessionFactory

	mu           sync.Mutex
	links        map[string]*link
	pendingSwaps int

	events      chan Event
	releaseOnce sync.Once
}

// NewSupervisor creates a supervisor for the local participant.
func NewSupervisor(selfID string, sender Sender, mc *media.Controller, factory SessionFactory) *Supervisor {
	return &Supervisor{
		selfID:  selfID,
		sender:  sender,
		media:   mc,
		factory: factory,
		links:   make(map[string]*link),
		events:  make(chan Event, 64),
	}
}

// Events is the UI-facing notification stream.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// AddPeers seeds links for a roster snapshot, typically right after
// joining. The offerer rule applies to each pair independently.
func (s *Supervisor) AddPeers(room *model.Room) {
	for _, p := range room.Participants {
		if p.ID != s.selfID {
			s.HandlePeerJoined(p.ID)
		}
	}
}

// HandlePeerJoined reacts to a participant:joined roster event. The side
// with the lexicographically smaller id offers; the other waits for the
// offer, which avoids duplicate simultaneous offers in the common case.
func (s *Supervisor) HandlePeerJoined(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[remoteID]; ok {
		return
	}
	l := &link{sup: s, remote: remoteID, state: StateIdle}
	s.links[remoteID] = l

	if s.selfID < remoteID {
		l.startOffer()
	}
}

// HandlePeerLeft tears down the link for a departed participant and
// discards its buffered candidates.
func (s *Supervisor) HandlePeerLeft(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[remoteID]
	if !ok {
		return
	}
	l.close()
	delete(s.links, remoteID)
}

// HandleSignal dispatches one relayed webrtc:signal to its link. An offer
// from an unknown participant creates the link on the spot: the offer can
// outrun the roster broadcast.
func (s *Supervisor) HandleSignal(sig signaling.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[sig.From]
	if !ok {
		if sig.Payload.Kind != model.SignalOffer {
			slog.Warn("signal for unknown peer, dropping", "peer", sig.From, "kind", sig.Payload.Kind)
			return
		}
		l = &link{sup: s, remote: sig.From, state: StateIdle}
		s.links[sig.From] = l
	}

	switch sig.Payload.Kind {
	case model.SignalOffer:
		l.handleOffer(sig.Payload.SDP)
	case model.SignalAnswer:
		l.handleAnswer(sig.Payload.SDP)
	case model.SignalCandidate:
		l.handleCandidate(sig.Payload.Candidate)
	default:
		slog.Warn("unknown signal kind", "peer", sig.From, "kind", sig.Payload.Kind)
	}
}

// HandleDisconnected reacts to the signaling channel dropping: every link
// is driven to Closed. After reconnecting the owner re-joins the room,
// which rebuilds the mesh from a fresh roster snapshot.
func (s *Supervisor) HandleDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.links {
		l.close()
		delete(s.links, id)
	}
}

// StartScreenShare swaps the screen track in and renegotiates every
// connected link. The retired camera track stops only after the last
// connected peer answers, so no peer renders a black-frame gap.
func (s *Supervisor) StartScreenShare() error {
	track, err := s.media.StartScreenShare()
	if err != nil {
		return err
	}
	slog.Info("renegotiating screen share", "track", track.ID())
	s.renegotiateAll()
	return nil
}

// StopScreenShare swaps the camera back and renegotiates the same way.
func (s *Supervisor) StopScreenShare() error {
	if _, err := s.media.StopScreenShare(); err != nil {
		return err
	}
	s.renegotiateAll()
	return nil
}

func (s *Supervisor) renegotiateAll() {
	s.mu.Lock()
	connected := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		if l.state == StateConnected {
			connected = append(connected, l)
		}
	}
	s.pendingSwaps = len(connected)
	for _, l := range connected {
		l.renegotiate()
	}
	done := s.pendingSwaps == 0
	s.mu.Unlock()

	if done {
		s.media.CompleteSwap()
	}
}

// renegotiationDone is called by a link when its renegotiation answer
// lands (or the link dies mid-swap). Caller holds s.mu.
func (s *Supervisor) renegotiationDone() {
	if s.pendingSwaps == 0 {
		return
	}
	s.pendingSwaps--
	if s.pendingSwaps == 0 {
		// CompleteSwap only touches the media controller; safe to call
		// while holding s.mu.
		s.media.CompleteSwap()
	}
}

// Leave is the universal cancellation point: every link is driven to
// Closed best-effort and local media is released exactly once. No
// teardown step can block or abort the others.
func (s *Supervisor) Leave() {
	s.mu.Lock()
	for id, l := range s.links {
		l.close()
		delete(s.links, id)
	}
	s.mu.Unlock()

	s.releaseOnce.Do(s.media.Release)
}

// States reports each link's lifecycle state, keyed by remote id.
// Connection status per participant is always derivable from this.
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.links))
	for id, l := range s.links {
		out[id] = l.state
	}
	return out
}

// newSession builds a transport for a remote peer with callbacks routed
// back through the supervisor. Candidates bypass the mutex: they carry no
// state-machine relevance on the way out.
func (s *Supervisor) newSession(remoteID string) (Session, error) {
	return s.factory(remoteID, s.media.Stream(), SessionEvents{
		OnCandidate: func(candidate json.RawMessage) {
			s.sendSignal(remoteID, model.SignalPayload{Kind: model.SignalCandidate, Candidate: candidate})
		},
		OnConnected: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if l, ok := s.links[remoteID]; ok {
				l.transportConnected()
			}
		},
		OnFailed: func(err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if l, ok := s.links[remoteID]; ok && l.state != StateClosed {
				l.failLocked(err)
			}
		},
		OnRemoteTrack: func(trackID, kind string) {
			s.emit(Event{Kind: EventTrackAdded, PeerID: remoteID, TrackID: trackID, TrackKind: kind})
		},
	})
}

// sendSignal relays a signaling payload to one peer through the hub.
func (s *Supervisor) sendSignal(remoteID string, payload model.SignalPayload) {
	s.sender.Send(model.Encode(model.Envelope{
		Type: model.TypeWebRTCSignal,
		To:   remoteID,
	}, payload))
}

// emit pushes a UI event without ever blocking a state machine.
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Debug("event dropped, slow consumer", "kind", ev.Kind, "peer", ev.PeerID)
	}
}
