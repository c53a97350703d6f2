package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowkeylabs/huddle/internal/model"
)

// ErrRequestTimeout is returned when the hub does not answer a request.
var ErrRequestTimeout = errors.New("hub did not reply in time")

// RequestError carries the hub's error code for a failed room request.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// RosterEvent is a membership change observed from the hub.
type RosterEvent struct {
	Kind          string // "joined", "left", "updated"
	RoomID        string
	Participant   *model.Participant // joined, updated
	ParticipantID string             // left
}

// Signal is a relayed webrtc:signal addressed to us.
type Signal struct {
	From    string
	Payload model.SignalPayload
}

// ChatEvent is a relayed ephemeral chat line.
type ChatEvent struct {
	From string
	Text string
}

// CursorEvent is a relayed cursor position, last-write-wins per sender.
type CursorEvent struct {
	From string
	X, Y float64
}

// Handler routes incoming envelopes to typed channels and matches
// request/reply pairs by sequence number. Run once per connection; when
// the connection drops it emits a single Disconnected signal and returns.
type Handler struct {
	channel *Channel

	Ready        chan model.SessionReadyPayload
	Roster       chan RosterEvent
	Signals      chan Signal
	Chat         chan ChatEvent
	Cursor       chan CursorEvent
	Disconnected chan struct{}

	seq     atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan model.Envelope
}

// NewHandler creates a handler for the given channel.
func NewHandler(channel *Channel) *Handler {
	return &Handler{
		channel:      channel,
		Ready:        make(chan model.SessionReadyPayload, 1),
		Roster:       make(chan RosterEvent, 32),
		Signals:      make(chan Signal, 64),
		Chat:         make(chan ChatEvent, 32),
		Cursor:       make(chan CursorEvent, 64),
		Disconnected: make(chan struct{}, 1),
	}
}

// Start consumes the current connection's incoming channel until it
// closes, then signals Disconnected. Call again after a Reconnect.
func (h *Handler) Start() {
	for env := range h.channel.Incoming() {
		h.route(env)
	}
	h.failPending()
	select {
	case h.Disconnected <- struct{}{}:
	default:
	}
}

func (h *Handler) route(env model.Envelope) {
	// Reply to an in-flight request wins over type-based routing.
	if env.Seq != 0 {
		h.mu.Lock()
		ch, ok := h.pending[env.Seq]
		if ok {
			delete(h.pending, env.Seq)
		}
		h.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}

	switch env.Type {
	case model.TypeSessionReady:
		var p model.SessionReadyPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("malformed session:ready", "err", err)
			return
		}
		h.Ready <- p

	case model.TypeParticipantJoined, model.TypeParticipantUpdated:
		var p model.ParticipantPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("malformed roster event", "type", env.Type, "err", err)
			return
		}
		kind := "joined"
		if env.Type == model.TypeParticipantUpdated {
			kind = "updated"
		}
		h.Roster <- RosterEvent{Kind: kind, RoomID: env.RoomID, Participant: p.Participant}

	case model.TypeParticipantLeft:
		var p model.ParticipantLeftPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("malformed roster event", "type", env.Type, "err", err)
			return
		}
		h.Roster <- RosterEvent{Kind: "left", RoomID: env.RoomID, ParticipantID: p.ParticipantID}

	case model.TypeWebRTCSignal:
		var p model.SignalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("malformed signal payload", "from", env.From, "err", err)
			return
		}
		h.Signals <- Signal{From: env.From, Payload: p}

	case model.TypeChatMessage:
		var p model.ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.Chat <- ChatEvent{From: env.From, Text: p.Text}

	case model.TypeCursorPosition:
		var p model.CursorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.Cursor <- CursorEvent{From: env.From, X: p.X, Y: p.Y}

	default:
		slog.Debug("unhandled envelope", "type", env.Type)
	}
}

// request sends an envelope with a fresh sequence number and waits for
// the matching reply.
func (h *Handler) request(env model.Envelope, payload any, timeout time.Duration) (model.Envelope, error) {
	seq := h.seq.Add(1)
	env.Seq = seq
	reply := make(chan model.Envelope, 1)

	h.mu.Lock()
	if h.pending == nil {
		h.pending = make(map[int64]chan model.Envelope)
	}
	h.pending[seq] = reply
	h.mu.Unlock()

	h.channel.Send(model.Encode(env, payload))

	select {
	case r, ok := <-reply:
		if !ok {
			return model.Envelope{}, ErrRequestTimeout
		}
		if r.Type == model.TypeError {
			var p model.ErrorPayload
			if err := json.Unmarshal(r.Payload, &p); err != nil {
				return model.Envelope{}, errors.New("hub rejected request")
			}
			return model.Envelope{}, &RequestError{Code: p.Code, Message: p.Message}
		}
		return r, nil
	case <-time.After(timeout):
		h.mu.Lock()
		delete(h.pending, seq)
		h.mu.Unlock()
		return model.Envelope{}, ErrRequestTimeout
	}
}

// failPending closes every in-flight request when the connection drops.
func (h *Handler) failPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for seq, ch := range h.pending {
		close(ch)
		delete(h.pending, seq)
	}
}

const requestTimeout = 10 * time.Second

// CreateRoom asks the hub for a new room and returns the initial roster.
func (h *Handler) CreateRoom(name string) (*model.Room, error) {
	reply, err := h.request(model.Envelope{Type: model.TypeRoomCreate},
		model.CreateRoomPayload{Name: name}, requestTimeout)
	if err != nil {
		return nil, err
	}
	return decodeRoom(reply)
}

// JoinRoom joins an existing room and returns the roster snapshot taken
// at the instant of join.
func (h *Handler) JoinRoom(roomID string) (*model.Room, error) {
	reply, err := h.request(model.Envelope{Type: model.TypeRoomJoin},
		model.JoinRoomPayload{RoomID: roomID}, requestTimeout)
	if err != nil {
		return nil, err
	}
	return decodeRoom(reply)
}

// LeaveRoom tells the hub we are gone. Fire-and-forget; leaving twice is
// harmless.
func (h *Handler) LeaveRoom(roomID string) {
	h.channel.Send(model.Envelope{Type: model.TypeRoomLeave, RoomID: roomID})
}

func decodeRoom(env model.Envelope) (*model.Room, error) {
	var p model.RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, errors.New("malformed room payload from hub")
	}
	return p.Room, nil
}
