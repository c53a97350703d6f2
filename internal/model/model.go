// Package model holds the room, participant, and wire message types shared
// by the hub and the client.
package model

import "time"

// Role describes what a participant may do in a room.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

// Participant is one member of a room. The ID is assigned by the hub when
// the connection is established and stays stable for the session; UserID
// comes from the identity provider and may repeat across sessions.
type Participant struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	AudioEnabled  bool      `json:"audioEnabled"`
	VideoEnabled  bool      `json:"videoEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// Room is the hub's view of a room: metadata plus the roster ordered by
// join time. The hub owns the participants; a Room value sent to clients
// is always a snapshot.
type Room struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	OwnerID      string         `json:"ownerId"`
	CreatedAt    time.Time      `json:"createdAt"`
	Participants []*Participant `json:"participants"`
}

// Find returns the participant with the given id, or nil.
func (r *Room) Find(id string) *Participant {
	for _, p := range r.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}
