package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowkeylabs/huddle/internal/model"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeHub upgrades one connection and hands it to the script.
func fakeHub(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url string) (*Channel, *Handler) {
	t.Helper()
	ch := NewChannel(url, Identity{UserID: "u-1", Name: "Alice"})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(ch.Close)

	h := NewHandler(ch)
	go h.Start()
	return ch, h
}

func readEnvelope(t *testing.T, conn *websocket.Conn) model.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env model.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("hub read: %v", err)
	}
	return env
}

func TestDialCarriesGuestIdentity(t *testing.T) {
	got := make(chan [2]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- [2]string{r.URL.Query().Get("user"), r.URL.Query().Get("name")}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	ch := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"), Identity{UserID: "u-9", Name: "Bob"})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	id := <-got
	if id[0] != "u-9" || id[1] != "Bob" {
		t.Errorf("dialed with user=%s name=%s, want u-9/Bob", id[0], id[1])
	}
}

func TestSessionReadyRouted(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeSessionReady},
			model.SessionReadyPayload{ParticipantID: "p-1", UserID: "u-1", Name: "Alice"}))
		time.Sleep(200 * time.Millisecond)
	})
	_, h := connect(t, url)

	select {
	case ready := <-h.Ready:
		if ready.ParticipantID != "p-1" {
			t.Errorf("participant id = %s, want p-1", ready.ParticipantID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session:ready never arrived")
	}
}

func TestRequestReplyMatchedBySeq(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		env := readEnvelope(t, conn)
		if env.Type != model.TypeRoomCreate || env.Seq == 0 {
			t.Errorf("bad request: type=%s seq=%d", env.Type, env.Seq)
		}

		// An unrelated broadcast must not satisfy the pending request.
		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeParticipantJoined, RoomID: "r-1"},
			model.ParticipantPayload{Participant: &model.Participant{ID: "p-2"}}))

		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeRoomCreated, Seq: env.Seq, RoomID: "r-1"},
			model.RoomPayload{Room: &model.Room{ID: "r-1", Name: "standup",
				Participants: []*model.Participant{{ID: "p-1"}}}}))
		time.Sleep(200 * time.Millisecond)
	})
	_, h := connect(t, url)

	room, err := h.CreateRoom("standup")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID != "r-1" || len(room.Participants) != 1 {
		t.Errorf("room = %+v, want r-1 with 1 participant", room)
	}

	// The interleaved broadcast still reaches the roster channel.
	select {
	case ev := <-h.Roster:
		if ev.Kind != "joined" || ev.Participant.ID != "p-2" {
			t.Errorf("roster event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("broadcast lost while a request was pending")
	}
}

func TestRequestErrorReply(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		env := readEnvelope(t, conn)
		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeError, Seq: env.Seq},
			model.ErrorPayload{Code: model.CodeRoomFull, Message: "room is full"}))
		time.Sleep(200 * time.Millisecond)
	})
	_, h := connect(t, url)

	_, err := h.JoinRoom("r-1")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Code != model.CodeRoomFull {
		t.Errorf("code = %s, want %s", reqErr.Code, model.CodeRoomFull)
	}
}

func TestRosterAndRelayRouting(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		frames := []model.Envelope{
			model.Encode(model.Envelope{Type: model.TypeParticipantJoined, RoomID: "r-1"},
				model.ParticipantPayload{Participant: &model.Participant{ID: "p-2", Name: "Bob"}}),
			model.Encode(model.Envelope{Type: model.TypeParticipantUpdated, RoomID: "r-1"},
				model.ParticipantPayload{Participant: &model.Participant{ID: "p-2", AudioEnabled: false}}),
			model.Encode(model.Envelope{Type: model.TypeWebRTCSignal, From: "p-2"},
				model.SignalPayload{Kind: model.SignalOffer, SDP: "v=0"}),
			model.Encode(model.Envelope{Type: model.TypeChatMessage, From: "p-2"},
				model.ChatPayload{Text: "hello"}),
			model.Encode(model.Envelope{Type: model.TypeCursorPosition, From: "p-2"},
				model.CursorPayload{X: 0.3, Y: 0.7}),
			model.Encode(model.Envelope{Type: model.TypeParticipantLeft, RoomID: "r-1"},
				model.ParticipantLeftPayload{ParticipantID: "p-2"}),
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	})
	_, h := connect(t, url)

	deadline := time.After(3 * time.Second)
	expectRoster := func(kind string) RosterEvent {
		select {
		case ev := <-h.Roster:
			if ev.Kind != kind {
				t.Fatalf("roster kind = %s, want %s", ev.Kind, kind)
			}
			return ev
		case <-deadline:
			t.Fatalf("roster %s never arrived", kind)
			return RosterEvent{}
		}
	}

	if ev := expectRoster("joined"); ev.Participant.Name != "Bob" {
		t.Errorf("joined participant = %+v", ev.Participant)
	}
	expectRoster("updated")

	select {
	case sig := <-h.Signals:
		if sig.From != "p-2" || sig.Payload.Kind != model.SignalOffer {
			t.Errorf("signal = %+v", sig)
		}
	case <-deadline:
		t.Fatal("signal never arrived")
	}

	select {
	case msg := <-h.Chat:
		if msg.Text != "hello" {
			t.Errorf("chat = %+v", msg)
		}
	case <-deadline:
		t.Fatal("chat never arrived")
	}

	select {
	case cur := <-h.Cursor:
		if cur.X != 0.3 || cur.Y != 0.7 {
			t.Errorf("cursor = %+v", cur)
		}
	case <-deadline:
		t.Fatal("cursor never arrived")
	}

	expectRoster("left")
}

func TestDisconnectFailsPendingAndSignalsOnce(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		readEnvelope(t, conn)
		// Drop the connection with the request still pending.
		conn.Close()
	})
	_, h := connect(t, url)

	_, err := h.JoinRoom("r-1")
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("pending request on disconnect: got %v, want ErrRequestTimeout", err)
	}

	select {
	case <-h.Disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect never signalled")
	}
}

func TestReconnectGetsFreshConnection(t *testing.T) {
	dials := make(chan struct{}, 4)
	url := fakeHub(t, func(conn *websocket.Conn) {
		dials <- struct{}{}
		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeSessionReady},
			model.SessionReadyPayload{ParticipantID: "p-1"}))
		// Hold until the client hangs up.
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env model.Envelope
		conn.ReadJSON(&env)
	})

	ch := NewChannel(url, Identity{Name: "Alice"})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-dials
	first := ch.Incoming()

	if err := ch.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()
	<-dials

	select {
	case _, ok := <-first:
		if ok {
			// The ready frame may have landed before the close; drain.
			if _, ok := <-first; ok {
				t.Error("old incoming channel should close after reconnect")
			}
		}
	case <-time.After(3 * time.Second):
		t.Error("old incoming channel should close after reconnect")
	}

	if ch.Incoming() == nil {
		t.Error("reconnect should install a fresh incoming channel")
	}
}

func TestCloseConcurrent(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env model.Envelope
		conn.ReadJSON(&env)
	})

	ch := NewChannel(url, Identity{Name: "Alice"})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Racing closers must not double-close the done channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Close()
		}()
	}
	wg.Wait()

	// Sends after close drop quietly instead of panicking.
	ch.Send(model.Envelope{Type: model.TypeChatMessage})
}

func TestSendBeforeConnectDrops(t *testing.T) {
	ch := NewChannel("ws://unused", Identity{})
	// Must not panic or block.
	ch.Send(model.Envelope{Type: model.TypeChatMessage})
}

func TestLeaveRoomFireAndForget(t *testing.T) {
	got := make(chan model.Envelope, 1)
	url := fakeHub(t, func(conn *websocket.Conn) {
		got <- readEnvelope(t, conn)
	})
	_, h := connect(t, url)

	h.LeaveRoom("r-1")

	select {
	case env := <-got:
		if env.Type != model.TypeRoomLeave || env.RoomID != "r-1" {
			t.Errorf("leave frame = %+v", env)
		}
		if env.Seq != 0 {
			t.Error("leave is fire-and-forget, no seq expected")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("leave frame never arrived")
	}
}

func TestMalformedPayloadSkipped(t *testing.T) {
	url := fakeHub(t, func(conn *websocket.Conn) {
		conn.WriteJSON(model.Envelope{Type: model.TypeParticipantJoined, Payload: json.RawMessage(`"garbage"`)})
		conn.WriteJSON(model.Encode(model.Envelope{Type: model.TypeParticipantJoined, RoomID: "r-1"},
			model.ParticipantPayload{Participant: &model.Participant{ID: "p-2"}}))
		time.Sleep(200 * time.Millisecond)
	})
	_, h := connect(t, url)

	select {
	case ev := <-h.Roster:
		if ev.Participant == nil || ev.Participant.ID != "p-2" {
			t.Errorf("got %+v, want the well-formed event", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("well-formed event never arrived")
	}
}
