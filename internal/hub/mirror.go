package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// rosterTTL bounds how long mirrored roster keys outlive a hub crash.
// Live memberships refresh it on every mutation.
const rosterTTL = 24 * time.Hour

// Mirror reflects roster membership into an external store so that
// dashboards and sibling services can observe room occupancy without
// talking to the hub. It is strictly best-effort: mirror failures never
// affect registry state, and the registry never reads it back.
type Mirror interface {
	Add(roomID, participantID string)
	Remove(roomID, participantID string)
}

// NopMirror is used when no Redis address is configured.
type NopMirror struct{}

func (NopMirror) Add(roomID, participantID string)    {}
func (NopMirror) Remove(roomID, participantID string) {}

// RedisMirror keeps a set of participant ids per room under
// room:<id>:peers, with a TTL so a crashed hub leaks no keys.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, addr, password string) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

func (m *RedisMirror) Add(roomID, participantID string) {
	ctx := context.Background()
	key := "room:" + roomID + ":peers"
	if err := m.client.SAdd(ctx, key, participantID).Err(); err != nil {
		slog.Warn("roster mirror add failed", "room", roomID, "err", err)
		return
	}
	m.client.Expire(ctx, key, rosterTTL)
}

func (m *RedisMirror) Remove(roomID, participantID string) {
	ctx := context.Background()
	if err := m.client.SRem(ctx, "room:"+roomID+":peers", participantID).Err(); err != nil {
		slog.Warn("roster mirror remove failed", "room", roomID, "err", err)
	}
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
