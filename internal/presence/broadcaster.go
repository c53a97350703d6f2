// Package presence fans out ephemeral, non-authoritative state: cursor
// positions, mute flags, chat lines. Everything here is best-effort and
// last-write-wins per sender; a lost update self-corrects on the next
// one, so nothing is ever retried.
package presence

import (
	"log/slog"

	"github.com/lowkeylabs/huddle/internal/model"
)

// Sender is the slice of the signaling channel the broadcaster needs.
type Sender interface {
	Send(env model.Envelope)
}

// Broadcaster pushes presence updates for one participant in one room.
// Per-sender ordering is inherited from the channel's FIFO guarantee; no
// sequence numbers are needed on top.
type Broadcaster struct {
	sender Sender
	roomID string
}

// NewBroadcaster creates a broadcaster bound to a joined room.
func NewBroadcaster(sender Sender, roomID string) *Broadcaster {
	return &Broadcaster{sender: sender, roomID: roomID}
}

// SendCursor publishes the local cursor position.
func (b *Broadcaster) SendCursor(x, y float64) {
	b.sender.Send(model.Encode(model.Envelope{
		Type:   model.TypeCursorPosition,
		RoomID: b.roomID,
	}, model.CursorPayload{X: x, Y: y}))
}

// SendFlags publishes the local mute/share flags. The hub applies them to
// the authoritative roster and rebroadcasts participant:updated.
func (b *Broadcaster) SendFlags(audio, video, screen bool) {
	b.sender.Send(model.Encode(model.Envelope{
		Type:   model.TypeParticipantUpdated,
		RoomID: b.roomID,
	}, model.UpdatePayload{
		AudioEnabled:  &audio,
		VideoEnabled:  &video,
		ScreenSharing: &screen,
	}))
	slog.Debug("presence flags sent", "audio", audio, "video", video, "screen", screen)
}

// SendChat publishes an ephemeral chat line. Not stored anywhere.
func (b *Broadcaster) SendChat(text string) {
	if text == "" {
		return
	}
	b.sender.Send(model.Encode(model.Envelope{
		Type:   model.TypeChatMessage,
		RoomID: b.roomID,
	}, model.ChatPayload{Text: text}))
}
