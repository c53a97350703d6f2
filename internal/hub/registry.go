// Package hub implements the signaling hub: the authoritative room
// registry, the per-connection WebSocket pumps, and the HTTP surface.
package hub

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowkeylabs/huddle/internal/model"
)

// Registry-level errors, returned synchronously to the requesting call.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrNameInvalid  = errors.New("room name is invalid")
)

// Outbox is where the registry pushes envelopes for one connected member.
// Deliver must never block; a full outbox drops the envelope. A member that
// misses a broadcast resynchronizes with a fresh room:join on reconnect.
type Outbox interface {
	Deliver(env model.Envelope)
}

// Registry is the single source of truth for room existence and
// membership. Membership mutations are serialized per room; signaling
// payloads pass through without inspection.
type Registry struct {
	cap    int
	mirror Mirror

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu        sync.Mutex
	id        string
	name      string
	ownerID   string
	createdAt time.Time
	order     []string // participant ids in join order
	members   map[string]*member

	// destroyed is set when the last member leaves. A join that looked
	// the room up before destruction must re-check it under mu, or it
	// would succeed into a room no relay can ever reach again.
	destroyed bool
}

type member struct {
	p   *model.Participant
	out Outbox
}

// NewRegistry creates a registry with the given per-room participant cap.
// A nil mirror disables roster mirroring.
func NewRegistry(cap int, mirror Mirror) *Registry {
	if mirror == nil {
		mirror = NopMirror{}
	}
	return &Registry{
		cap:    cap,
		mirror: mirror,
		rooms:  make(map[string]*room),
	}
}

// CreateRoom allocates a room and registers the creator as its host.
func (r *Registry) CreateRoom(name string, creator *model.Participant, out Outbox) (*model.Room, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameInvalid
	}

	creator.Role = model.RoleHost
	creator.JoinedAt = time.Now()

	rm := &room{
		id:        uuid.New().String(),
		name:      name,
		ownerID:   creator.ID,
		createdAt: time.Now(),
		order:     []string{creator.ID},
		members:   map[string]*member{creator.ID: {p: creator, out: out}},
	}

	r.mu.Lock()
	r.rooms[rm.id] = rm
	r.mu.Unlock()

	r.mirror.Add(rm.id, creator.ID)
	slog.Info("room created", "room", rm.id, "name", name, "owner", creator.ID)
	return rm.snapshot(), nil
}

// JoinRoom adds a participant and broadcasts participant:joined to the
// members that were already present. The returned snapshot is the roster
// at the instant of join.
func (r *Registry) JoinRoom(roomID string, p *model.Participant, out Outbox) (*model.Room, error) {
	rm := r.get(roomID)
	if rm == nil {
		return nil, ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.destroyed {
		return nil, ErrRoomNotFound
	}
	if len(rm.members) >= r.cap {
		return nil, ErrRoomFull
	}
	if _, ok := rm.members[p.ID]; ok {
		// Rejoin after reconnect: refresh the outbox, keep roster position.
		rm.members[p.ID].out = out
		return rm.snapshotLocked(), nil
	}

	if p.Role == "" {
		p.Role = model.RoleParticipant
	}
	p.JoinedAt = time.Now()
	rm.members[p.ID] = &member{p: p, out: out}
	rm.order = append(rm.order, p.ID)

	rm.broadcastLocked(model.Encode(model.Envelope{
		Type:   model.TypeParticipantJoined,
		RoomID: rm.id,
	}, model.ParticipantPayload{Participant: p}), p.ID)

	r.mirror.Add(rm.id, p.ID)
	slog.Info("participant joined", "room", rm.id, "participant", p.ID, "count", len(rm.members))
	return rm.snapshotLocked(), nil
}

// LeaveRoom removes a participant and broadcasts participant:left. Leaving
// a room you are not in, or a room that no longer exists, is a no-op. The
// room is destroyed when its last member leaves.
func (r *Registry) LeaveRoom(roomID, participantID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}

	rm.mu.Lock()
	if _, ok := rm.members[participantID]; !ok {
		rm.mu.Unlock()
		r.mu.Unlock()
		return
	}
	delete(rm.members, participantID)
	for i, id := range rm.order {
		if id == participantID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	empty := len(rm.members) == 0
	if empty {
		rm.destroyed = true
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if !empty {
		rm.broadcastLocked(model.Encode(model.Envelope{
			Type:   model.TypeParticipantLeft,
			RoomID: rm.id,
		}, model.ParticipantLeftPayload{ParticipantID: participantID}), participantID)
	}
	rm.mu.Unlock()

	r.mirror.Remove(roomID, participantID)
	if empty {
		slog.Info("room destroyed", "room", roomID)
	} else {
		slog.Info("participant left", "room", roomID, "participant", participantID)
	}
}

// UpdateParticipant applies a media-flag patch to the authoritative roster
// and broadcasts participant:updated to the rest of the room. Presence
// flags live on the roster so a late joiner's snapshot reflects current
// mute state.
func (r *Registry) UpdateParticipant(roomID, participantID string, patch model.UpdatePayload) {
	rm := r.get(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, ok := rm.members[participantID]
	if !ok {
		return
	}
	if patch.AudioEnabled != nil {
		m.p.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		m.p.VideoEnabled = *patch.VideoEnabled
	}
	if patch.ScreenSharing != nil {
		m.p.ScreenSharing = *patch.ScreenSharing
	}

	rm.broadcastLocked(model.Encode(model.Envelope{
		Type:   model.TypeParticipantUpdated,
		RoomID: rm.id,
		From:   participantID,
	}, model.ParticipantPayload{Participant: m.p}), participantID)
}

// Relay forwards a signaling envelope. webrtc:signal goes to the addressed
// participant only; chat and cursor fan out to everyone but the sender.
// The payload is never parsed. A missing target is logged and dropped;
// the sender is never blocked on delivery.
func (r *Registry) Relay(roomID string, env model.Envelope) {
	rm := r.get(roomID)
	if rm == nil {
		slog.Warn("relay dropped, room gone", "room", roomID, "type", env.Type)
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	env.RoomID = rm.id

	if env.Type == model.TypeWebRTCSignal {
		m, ok := rm.members[env.To]
		if !ok {
			slog.Warn("relay dropped, target gone", "room", roomID, "to", env.To)
			return
		}
		m.out.Deliver(env)
		return
	}
	rm.broadcastLocked(env, env.From)
}

// RoomInfo is the read-only view served by the HTTP API.
type RoomInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants int       `json:"participants"`
}

// Rooms lists all live rooms.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]RoomInfo, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rm.mu.Lock()
		infos = append(infos, RoomInfo{
			ID:           rm.id,
			Name:         rm.name,
			CreatedAt:    rm.createdAt,
			Participants: len(rm.members),
		})
		rm.mu.Unlock()
	}
	return infos
}

// Room returns the info for one room.
func (r *Registry) Room(roomID string) (RoomInfo, bool) {
	rm := r.get(roomID)
	if rm == nil {
		return RoomInfo{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return RoomInfo{
		ID:           rm.id,
		Name:         rm.name,
		CreatedAt:    rm.createdAt,
		Participants: len(rm.members),
	}, true
}

func (r *Registry) get(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// broadcastLocked delivers env to every member except exclude. Caller
// holds rm.mu, which is what makes "exactly one broadcast per mutation"
// hold under concurrent joins and leaves.
func (rm *room) broadcastLocked(env model.Envelope, exclude string) {
	for id, m := range rm.members {
		if id == exclude {
			continue
		}
		m.out.Deliver(env)
	}
}

func (rm *room) snapshot() *model.Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshotLocked()
}

// snapshotLocked copies the roster in join order.
func (rm *room) snapshotLocked() *model.Room {
	ps := make([]*model.Participant, 0, len(rm.order))
	for _, id := range rm.order {
		if m, ok := rm.members[id]; ok {
			cp := *m.p
			ps = append(ps, &cp)
		}
	}
	return &model.Room{
		ID:           rm.id,
		Name:         rm.name,
		OwnerID:      rm.ownerID,
		CreatedAt:    rm.createdAt,
		Participants: ps,
	}
}
