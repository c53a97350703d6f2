package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/lowkeylabs/huddle/internal/config"
	"github.com/lowkeylabs/huddle/internal/media"
)

// Session is the transport under one peer link. The production
// implementation wraps a pion PeerConnection; tests substitute a fake.
type Session interface {
	// CreateOffer generates a local description and returns its SDP.
	CreateOffer() (string, error)

	// CreateAnswer applies the remote offer and returns the answer SDP.
	CreateAnswer(offerSDP string) (string, error)

	// AcceptAnswer applies the remote answer.
	AcceptAnswer(answerSDP string) error

	// AddCandidate applies one remote ICE candidate. The caller has
	// already ordered and buffered candidates; by the time this is
	// called a remote description is set.
	AddCandidate(candidate json.RawMessage) error

	// ReplaceVideoTrack swaps the outgoing video track reference without
	// touching the audio sender.
	ReplaceVideoTrack(t *media.Track) error

	// Close tears the transport down. Must be safe to call twice.
	Close() error
}

// SessionEvents are the transport's asynchronous callbacks into the link.
type SessionEvents struct {
	// OnCandidate fires for each locally-gathered ICE candidate, already
	// JSON-encoded for the wire.
	OnCandidate func(candidate json.RawMessage)

	// OnConnected fires when the transport reaches its connected state.
	OnConnected func()

	// OnFailed fires on irrecoverable transport failure.
	OnFailed func(err error)

	// OnRemoteTrack fires when a remote media track starts arriving.
	OnRemoteTrack func(trackID, kind string)
}

// SessionFactory builds a transport for one remote participant with the
// current local stream attached.
type SessionFactory func(remoteID string, stream *media.LocalStream, ev SessionEvents) (Session, error)

// NewPionFactory returns a SessionFactory backed by pion PeerConnections
// using the configured ICE servers.
func NewPionFactory(cfg *config.Config) SessionFactory {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}
	if turn := cfg.GetTURNServers(); turn != nil {
		user, pass := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turn,
			Username:   user,
			Credential: pass,
		})
	}

	return func(remoteID string, stream *media.LocalStream, ev SessionEvents) (Session, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		s := &pionSession{pc: pc}
		if stream != nil {
			if stream.Audio != nil {
				if _, err := pc.AddTrack(stream.Audio.Local()); err != nil {
					pc.Close()
					return nil, fmt.Errorf("attach audio track: %w", err)
				}
			}
			if stream.Video != nil {
				sender, err := pc.AddTrack(stream.Video.Local())
				if err != nil {
					pc.Close()
					return nil, fmt.Errorf("attach video track: %w", err)
				}
				s.videoSender = sender
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || ev.OnCandidate == nil {
				return
			}
			data, err := json.Marshal(c.ToJSON())
			if err != nil {
				return
			}
			ev.OnCandidate(data)
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateConnected:
				if ev.OnConnected != nil {
					ev.OnConnected()
				}
			case webrtc.PeerConnectionStateFailed:
				if ev.OnFailed != nil {
					ev.OnFailed(fmt.Errorf("transport failed for peer %s", remoteID))
				}
			}
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if ev.OnRemoteTrack != nil {
				ev.OnRemoteTrack(track.ID(), track.Kind().String())
			}
		})

		return s, nil
	}
}

type pionSession struct {
	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender
}

func (s *pionSession) CreateOffer() (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (s *pionSession) CreateAnswer(offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (s *pionSession) AcceptAnswer(answerSDP string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *pionSession) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (s *pionSession) ReplaceVideoTrack(t *media.Track) error {
	if s.videoSender == nil {
		return fmt.Errorf("no video sender on this session")
	}
	if err := s.videoSender.ReplaceTrack(t.Local()); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}
