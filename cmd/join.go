package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/spf13/cobra"

	"github.com/lowkeylabs/huddle/internal/config"
	"github.com/lowkeylabs/huddle/internal/media"
	"github.com/lowkeylabs/huddle/internal/model"
	"github.com/lowkeylabs/huddle/internal/peer"
	"github.com/lowkeylabs/huddle/internal/presence"
	"github.com/lowkeylabs/huddle/internal/signaling"
	"github.com/lowkeylabs/huddle/internal/ui"
)

var (
	joinOpts     config.Options
	joinRoomID   string
	joinRoomName string
	joinUserName string
	joinToken    string
)

var errHubDisconnected = errors.New("disconnected from hub")

// sampleInterval paces the synthetic media pump.
const sampleInterval = 100 * time.Millisecond

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Open a client session in a room",
	Long: `Connects to the hub, joins (or creates) a room, and runs the full
client stack: per-peer connection supervision, local media, and presence.
Media tracks are synthetic; this session exercises the collaboration core
end to end without OS capture devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if joinRoomID == "" && joinRoomName == "" {
			return fmt.Errorf("either --room or --create is required")
		}

		cfg, err := config.Load(joinOpts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runSession(ctx, cfg)
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinOpts.HubURL, "hub", "", "hub WebSocket URL (default ws://localhost:8080/ws)")
	joinCmd.Flags().StringVar(&joinRoomID, "room", "", "room id to join")
	joinCmd.Flags().StringVar(&joinRoomName, "create", "", "create a room with this name instead of joining")
	joinCmd.Flags().StringVar(&joinUserName, "name", "guest", "display name")
	joinCmd.Flags().StringVar(&joinToken, "token", "", "bearer token from the identity provider")
	rootCmd.AddCommand(joinCmd)
}

// runSession holds the signaling channel for the whole session. When the
// connection drops mid-call it reconnects once and resynchronizes with a
// fresh room:join; a second drop ends the session.
func runSession(ctx context.Context, cfg *config.Config) error {
	channel := signaling.NewChannel(cfg.HubURL, signaling.Identity{
		Token: joinToken,
		Name:  joinUserName,
	})
	if err := channel.Connect(ctx); err != nil {
		return err
	}
	defer channel.Close()

	roomID, createName := joinRoomID, joinRoomName
	for attempt := 0; ; attempt++ {
		id, err := runOnce(ctx, cfg, channel, roomID, createName)
		if id != "" {
			// Reconnects re-join the existing room rather than creating
			// a duplicate.
			roomID, createName = id, ""
		}
		if !errors.Is(err, errHubDisconnected) || attempt >= 1 {
			return err
		}
		ui.PrintWarning("signaling connection lost, reconnecting")
		if err := channel.Reconnect(ctx); err != nil {
			return err
		}
	}
}

// runOnce drives one connection's worth of session: announce, acquire
// media, join, and supervise peers until the context ends or the
// connection drops. The joined room id is returned so a reconnect can
// resynchronize.
func runOnce(ctx context.Context, cfg *config.Config, channel *signaling.Channel, roomID, createName string) (string, error) {
	handler := signaling.NewHandler(channel)
	go handler.Start()

	var ready model.SessionReadyPayload
	select {
	case ready = <-handler.Ready:
	case <-handler.Disconnected:
		return "", errHubDisconnected
	case <-time.After(10 * time.Second):
		return "", fmt.Errorf("hub never announced the session")
	case <-ctx.Done():
		return "", ctx.Err()
	}
	ui.PrintStatus("session " + ready.ParticipantID)

	mc := media.NewController(media.SyntheticSource{})
	if _, err := mc.Acquire(media.AcquireOptions{Audio: true, Video: true}); err != nil {
		return "", err
	}
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go pumpSamples(pumpCtx, mc)

	sup := peer.NewSupervisor(ready.ParticipantID, channel, mc, peer.NewPionFactory(cfg))
	defer sup.Leave()

	var room *model.Room
	var err error
	if createName != "" {
		room, err = handler.CreateRoom(createName)
	} else {
		room, err = handler.JoinRoom(roomID)
	}
	if err != nil {
		return "", err
	}
	ui.PrintSuccess(fmt.Sprintf("in room %q (%s), %d participant(s)", room.Name, room.ID, len(room.Participants)))

	pb := presence.NewBroadcaster(channel, room.ID)
	mc.SetNotifier(pb)
	sup.AddPeers(room)
	defer handler.LeaveRoom(room.ID)

	fmt.Println(ui.RosterTable(room, ready.ParticipantID, sup.States()))
	return room.ID, sessionLoop(ctx, room, ready.ParticipantID, handler, sup)
}

// pumpSamples keeps the synthetic tracks producing frames so established
// peer connections carry RTP. A real capture runtime pushes its own.
func pumpSamples(ctx context.Context, mc *media.Controller) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	blank := pionmedia.Sample{Data: []byte{0}, Duration: sampleInterval}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stream := mc.Stream()
			for _, t := range []*media.Track{stream.Audio, stream.Video} {
				if t == nil || t.Stopped() || !t.Enabled() {
					continue
				}
				media.WriteBlankSample(t, blank)
			}
		}
	}
}

// sessionLoop drives the supervisor from handler channels and keeps the
// local roster view current.
func sessionLoop(ctx context.Context, room *model.Room, selfID string, h *signaling.Handler, sup *peer.Supervisor) error {
	redraw := time.NewTicker(5 * time.Second)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-h.Roster:
			applyRosterEvent(room, ev)
			switch ev.Kind {
			case "joined":
				sup.HandlePeerJoined(ev.Participant.ID)
				ui.PrintStatus(ev.Participant.Name + " joined")
			case "left":
				sup.HandlePeerLeft(ev.ParticipantID)
				ui.PrintStatus("participant left")
			}

		case sig := <-h.Signals:
			sup.HandleSignal(sig)

		case chat := <-h.Chat:
			ui.PrintStatus(fmt.Sprintf("[chat] %s: %s", chat.From, chat.Text))

		case <-h.Cursor:
			// Cursor positions are rendered by a real UI layer; the CLI
			// session just keeps the channel drained.

		case ev := <-sup.Events():
			switch ev.Kind {
			case peer.EventStateChanged:
				ui.PrintStatus(fmt.Sprintf("peer %s: %s", ev.PeerID, ev.State))
			case peer.EventTrackAdded:
				ui.PrintStatus(fmt.Sprintf("stream available from %s (%s)", ev.PeerID, ev.TrackKind))
			case peer.EventPeerFailed:
				ui.PrintWarning(fmt.Sprintf("peer %s failed: %v", ev.PeerID, ev.Err))
			}

		case <-h.Disconnected:
			sup.HandleDisconnected()
			return errHubDisconnected

		case <-redraw.C:
			fmt.Println(ui.RosterTable(room, selfID, sup.States()))
		}
	}
}

func applyRosterEvent(room *model.Room, ev signaling.RosterEvent) {
	switch ev.Kind {
	case "joined":
		if room.Find(ev.Participant.ID) == nil {
			room.Participants = append(room.Participants, ev.Participant)
		}
	case "left":
		for i, p := range room.Participants {
			if p.ID == ev.ParticipantID {
				room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
				break
			}
		}
	case "updated":
		if p := room.Find(ev.Participant.ID); p != nil {
			*p = *ev.Participant
		}
	}
}
