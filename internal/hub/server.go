package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lowkeylabs/huddle/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The hub carries no credentials of its own; identity rides on the
		// token, so cross-origin dials are acceptable.
		return true
	},
}

// Server exposes the hub over HTTP: a WebSocket endpoint for signaling
// and a small read-only API for room occupancy.
type Server struct {
	registry  *Registry
	jwtSecret string
	engine    *gin.Engine
}

// identityClaims is what the external identity provider signs into the
// bearer token. The hub only verifies; it never issues tokens.
type identityClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// NewServer wires the routes. An empty jwtSecret disables token checks
// and accepts guest identities from query parameters.
func NewServer(registry *Registry, jwtSecret string) *Server {
	s := &Server{registry: registry, jwtSecret: jwtSecret}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	{
		api.GET("/rooms", s.listRooms)
		api.GET("/rooms/:roomId", s.getRoom)
	}

	engine.GET("/ws", s.handleSignaling)

	s.engine = engine
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errc := make(chan error, 1)
	go func() {
		slog.Info("hub listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.registry.Rooms()})
}

func (s *Server) getRoom(c *gin.Context) {
	info, ok := s.registry.Room(c.Param("roomId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleSignaling resolves the caller's identity, upgrades the connection,
// and runs the pumps for its lifetime.
func (s *Server) handleSignaling(c *gin.Context) {
	userID, name, err := s.identity(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("upgrade failed", "err", err)
		return
	}

	p := &model.Participant{
		ID:           uuid.New().String(),
		UserID:       userID,
		Name:         name,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	slog.Info("session opened", "participant", p.ID, "user", userID, "name", name)
	NewClient(s.registry, conn, p).Run()
}

func (s *Server) identity(c *gin.Context) (userID, name string, err error) {
	if s.jwtSecret == "" {
		userID = c.Query("user")
		if userID == "" {
			userID = uuid.New().String()
		}
		name = c.Query("name")
		if name == "" {
			name = "guest"
		}
		return userID, name, nil
	}

	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "", errors.New("authorization header required")
	}

	token, err := jwt.ParseWithClaims(parts[1], &identityClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid token claims")
	}
	return claims.UserID, claims.Name, nil
}
