package model

import "encoding/json"

// Envelope is the JSON frame for every message on the signaling channel,
// in both directions. Payload stays opaque until the type is known;
// webrtc:signal payloads are never parsed by the hub at all.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants. Requests (client to hub) carry a Seq that the hub
// echoes on the matching reply; broadcasts and relays carry none.
const (
	// client -> hub requests and their replies
	TypeRoomCreate  = "room:create"
	TypeRoomJoin    = "room:join"
	TypeRoomLeave   = "room:leave"
	TypeRoomCreated = "room:created"
	TypeRoomJoined  = "room:joined"
	TypeError       = "error"

	// hub -> client, sent once after the WebSocket upgrade
	TypeSessionReady = "session:ready"

	// hub -> room broadcasts
	TypeParticipantJoined  = "participant:joined"
	TypeParticipantLeft    = "participant:left"
	TypeParticipantUpdated = "participant:updated"

	// relayed through the hub without inspection
	TypeWebRTCSignal   = "webrtc:signal"
	TypeChatMessage    = "chat:message"
	TypeCursorPosition = "cursor:position"
)

// Error codes carried in ErrorPayload.
const (
	CodeRoomNotFound = "room_not_found"
	CodeRoomFull     = "room_full"
	CodeNameInvalid  = "name_invalid"
)

// SessionReadyPayload announces the hub-assigned participant id.
type SessionReadyPayload struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId"`
	Name          string `json:"name"`
}

// CreateRoomPayload is the body of a room:create request.
type CreateRoomPayload struct {
	Name string `json:"name"`
}

// JoinRoomPayload is the body of a room:join request.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RoomPayload carries a roster snapshot on room:created / room:joined.
type RoomPayload struct {
	Room *Room `json:"room"`
}

// ParticipantPayload carries the affected participant on roster broadcasts.
type ParticipantPayload struct {
	Participant *Participant `json:"participant"`
}

// ParticipantLeftPayload identifies who left.
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

// UpdatePayload patches a participant's media flags. Nil fields are left
// unchanged.
type UpdatePayload struct {
	AudioEnabled  *bool `json:"audioEnabled,omitempty"`
	VideoEnabled  *bool `json:"videoEnabled,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
}

// SignalKind discriminates webrtc:signal payloads between peers.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// SignalPayload is the peer-to-peer signaling body. The hub relays it
// verbatim; only the two endpoints interpret it.
type SignalPayload struct {
	Kind      SignalKind      `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ChatPayload is an ephemeral chat line. Not persisted anywhere.
type ChatPayload struct {
	Text string `json:"text"`
}

// CursorPayload is a cursor position update, last-write-wins per sender.
type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ErrorPayload is the body of an error reply.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals a payload into an Envelope, panicking only on
// unmarshalable values, which would be a programming error.
func Encode(env Envelope, payload any) Envelope {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic("model: encode payload: " + err.Error())
		}
		env.Payload = data
	}
	return env
}
