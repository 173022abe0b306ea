package main

import (
	"os"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var flags config.Options

var rootCmd = &cobra.Command{
	Use:   "dropline",
	Short: "Share text and files with nearby devices",
	Long: `DropLine pairs devices through a small matchmaking server, then talks to them
directly over TCP and falls back to a relay through the server when it has to.

Examples:
  dropline run --server 192.168.1.10
  dropline run --share ~/Drop --name laptop
  dropline server --addr :8888`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.DeviceName, "name", "", "name announced to the room (default: hostname)")
	pf.StringVar(&flags.ServerAddr, "server", "", "matchmaker address, host or host:port")
	pf.StringVar(&flags.ListenAddr, "listen", "", "address for direct peer connections")
	pf.StringVar(&flags.DownloadDir, "downloads", "", "where requested files are saved")
	pf.StringVar(&flags.ShareDir, "share", "", "folder whose new files are offered automatically")
	pf.StringVar(&flags.KnownPeersFile, "known-peers", "", "file that remembers peers for auto-reconnect")
	pf.StringVar(&flags.BridgeAddr, "bridge", "", "address of the local UI bridge")
	pf.StringVar(&flags.StunServer, "stun", "", "STUN server used to discover the public endpoint")
	pf.BoolVar(&flags.DisableBridge, "no-bridge", false, "do not start the UI bridge")
	pf.BoolVar(&flags.Hidden, "hidden", false, "do not show up in other devices' known peer lookups")
	pf.BoolVar(&flags.DisableAutoReconnect, "no-auto-reconnect", false, "always create a fresh room on start")

	rootCmd.AddCommand(runCmd, serverCmd, installCmd, uninstallCmd, restartCmd)
}

// Execute runs the root command. It is called once by main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "✗ "+err.Error())
		os.Exit(1)
	}
}
