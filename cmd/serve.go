package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lowkeylabs/huddle/internal/config"
	"github.com/lowkeylabs/huddle/internal/hub"
)

var serveOpts config.Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling hub",
	Long: `Starts the signaling hub: the authoritative room registry, the
WebSocket signaling endpoint, and a read-only room occupancy API.
Room state lives in memory only and does not survive a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveOpts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var mirror hub.Mirror
		if cfg.RedisAddr != "" {
			rm, err := hub.NewRedisMirror(ctx, cfg.RedisAddr, cfg.RedisPassword)
			if err != nil {
				return err
			}
			defer rm.Close()
			mirror = rm
		}

		registry := hub.NewRegistry(cfg.RoomCap, mirror)
		server := hub.NewServer(registry, cfg.JWTSecret)
		return server.Run(ctx, cfg.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.ListenAddr, "listen", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().IntVar(&serveOpts.RoomCap, "room-cap", 0, "maximum participants per room (default 12)")
	serveCmd.Flags().StringVar(&serveOpts.JWTSecret, "jwt-secret", "", "verify bearer tokens with this secret (empty allows guests)")
	serveCmd.Flags().StringVar(&serveOpts.RedisAddr, "redis", "", "mirror roster occupancy into this Redis instance")
	rootCmd.AddCommand(serveCmd)
}
