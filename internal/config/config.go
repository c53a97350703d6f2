package config

import (
	"fmt"
	"os"
	"strconv"
)

// Default configuration values.
const (
	DefaultListenAddr = ":8080"
	DefaultHubURL     = "ws://localhost:8080/ws"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultRoomCap    = 12
)

// Config holds application configuration for both the hub and the client.
type Config struct {
	// ListenAddr is the hub's HTTP listen address.
	ListenAddr string

	// HubURL is the WebSocket endpoint clients dial.
	HubURL string

	// RoomCap is the maximum number of participants per room. Mesh
	// topology: every participant holds one connection per other member,
	// so this stays in the low tens.
	RoomCap int

	// JWTSecret enables bearer-token identity on the signaling endpoint
	// when non-empty. Tokens are issued elsewhere; the hub only verifies.
	JWTSecret string

	// RedisAddr enables the roster mirror when non-empty.
	RedisAddr     string
	RedisPassword string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Options carries CLI flag overrides into Load.
type Options struct {
	ListenAddr string
	HubURL     string
	RoomCap    int
	JWTSecret  string
	RedisAddr  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ListenAddr:    pick(opts.ListenAddr, "HUDDLE_LISTEN_ADDR", DefaultListenAddr),
		HubURL:        pick(opts.HubURL, "HUDDLE_HUB_URL", DefaultHubURL),
		JWTSecret:     pick(opts.JWTSecret, "HUDDLE_JWT_SECRET", ""),
		RedisAddr:     pick(opts.RedisAddr, "HUDDLE_REDIS_ADDR", ""),
		RedisPassword: pick("", "HUDDLE_REDIS_PASSWORD", ""),
		STUNServer:    pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:    pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:      pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:      pick(opts.TURNPass, "TURN_PASSWORD", ""),
	}

	cfg.RoomCap = opts.RoomCap
	if cfg.RoomCap == 0 {
		if v := os.Getenv("HUDDLE_ROOM_CAP"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid HUDDLE_ROOM_CAP %q: %w", v, err)
			}
			cfg.RoomCap = n
		}
	}
	if cfg.RoomCap == 0 {
		cfg.RoomCap = DefaultRoomCap
	}
	if cfg.RoomCap < 2 {
		return nil, fmt.Errorf("room cap must be at least 2, got %d", cfg.RoomCap)
	}

	return cfg, nil
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}
