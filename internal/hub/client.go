package hub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowkeylabs/huddle/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies dominate;
	// 64 KB covers them with room to spare.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. Envelopes beyond this are dropped
	// rather than blocking the registry.
	sendBuffer = 256
)

// Client is one connected participant on the hub side: a WebSocket plus
// the pumps that move envelopes between it and the registry.
type Client struct {
	registry    *Registry
	conn        *websocket.Conn
	participant *model.Participant
	send        chan model.Envelope

	// roomID is only touched from the read pump.
	roomID string
}

// NewClient wraps an upgraded connection. The identity was resolved
// during the HTTP upgrade; the hub assigns the participant id here.
func NewClient(registry *Registry, conn *websocket.Conn, p *model.Participant) *Client {
	return &Client{
		registry:    registry,
		conn:        conn,
		participant: p,
		send:        make(chan model.Envelope, sendBuffer),
	}
}

// Deliver implements Outbox. It never blocks: when the buffer is full the
// envelope is dropped and the member resyncs on its next room:join.
func (c *Client) Deliver(env model.Envelope) {
	select {
	case c.send <- env:
	default:
		slog.Warn("outbox full, dropping envelope", "participant", c.participant.ID, "type", env.Type)
	}
}

// Run announces the session, starts the write pump, and reads until the
// connection drops. It returns once the connection is torn down and the
// participant has been removed from any room it was in.
func (c *Client) Run() {
	go c.writePump()
	c.Deliver(model.Encode(model.Envelope{Type: model.TypeSessionReady}, model.SessionReadyPayload{
		ParticipantID: c.participant.ID,
		UserID:        c.participant.UserID,
		Name:          c.participant.Name,
	}))
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		if c.roomID != "" {
			c.registry.LeaveRoom(c.roomID, c.participant.ID)
		}
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env model.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("connection read failed", "participant", c.participant.ID, "err", err)
			}
			return
		}
		c.handle(env)
	}
}

// handle processes one envelope from the read pump. The sender's identity
// is always stamped server-side; clients cannot spoof From.
func (c *Client) handle(env model.Envelope) {
	env.From = c.participant.ID

	switch env.Type {
	case model.TypeRoomCreate:
		var req model.CreateRoomPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			c.replyError(env.Seq, model.CodeNameInvalid, "malformed room:create payload")
			return
		}
		room, err := c.registry.CreateRoom(req.Name, c.participant, c)
		if err != nil {
			c.replyError(env.Seq, codeFor(err), err.Error())
			return
		}
		c.roomID = room.ID
		c.Deliver(model.Encode(model.Envelope{Type: model.TypeRoomCreated, Seq: env.Seq, RoomID: room.ID},
			model.RoomPayload{Room: room}))

	case model.TypeRoomJoin:
		var req model.JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			c.replyError(env.Seq, model.CodeRoomNotFound, "malformed room:join payload")
			return
		}
		room, err := c.registry.JoinRoom(req.RoomID, c.participant, c)
		if err != nil {
			c.replyError(env.Seq, codeFor(err), err.Error())
			return
		}
		c.roomID = room.ID
		c.Deliver(model.Encode(model.Envelope{Type: model.TypeRoomJoined, Seq: env.Seq, RoomID: room.ID},
			model.RoomPayload{Room: room}))

	case model.TypeRoomLeave:
		if c.roomID != "" {
			c.registry.LeaveRoom(c.roomID, c.participant.ID)
			c.roomID = ""
		}

	case model.TypeParticipantUpdated:
		if c.roomID == "" {
			return
		}
		var patch model.UpdatePayload
		if err := json.Unmarshal(env.Payload, &patch); err != nil {
			slog.Warn("malformed participant update", "participant", c.participant.ID, "err", err)
			return
		}
		c.registry.UpdateParticipant(c.roomID, c.participant.ID, patch)

	case model.TypeWebRTCSignal, model.TypeChatMessage, model.TypeCursorPosition:
		if c.roomID == "" {
			slog.Warn("relay refused, not in a room", "participant", c.participant.ID, "type", env.Type)
			return
		}
		c.registry.Relay(c.roomID, env)

	default:
		slog.Warn("unknown envelope type", "participant", c.participant.ID, "type", env.Type)
	}
}

func (c *Client) replyError(seq int64, code, msg string) {
	c.Deliver(model.Encode(model.Envelope{Type: model.TypeError, Seq: seq},
		model.ErrorPayload{Code: code, Message: msg}))
}

func codeFor(err error) string {
	switch err {
	case ErrRoomNotFound:
		return model.CodeRoomNotFound
	case ErrRoomFull:
		return model.CodeRoomFull
	case ErrNameInvalid:
		return model.CodeNameInvalid
	}
	return "internal"
}

// writePump serializes all writes to the connection and keeps it alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				slog.Warn("connection write failed", "participant", c.participant.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
