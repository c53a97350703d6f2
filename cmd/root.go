package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lowkeylabs/huddle/internal/logging"
	"github.com/lowkeylabs/huddle/internal/ui"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Real-time collaboration rooms over peer-to-peer WebRTC",
	Long: `Huddle is the real-time collaboration core for shared rooms: live
audio/video, screen share, ephemeral chat, and cursor presence over a
direct peer-to-peer mesh, coordinated by a central signaling hub.

Run the hub with "huddle serve" and open client sessions with
"huddle join".`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main().
func Execute() {
	logging.Init()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
