package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/daemon"
	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	kardianos "github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join a room and start sharing",
	Long: `Registers with the matchmaker, rejoins the room of a known peer when one is
online and otherwise creates a new room. Lines typed on stdin are sent to the
room; type /help for commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New(flags)
		logger.Init(cfg.LogFile())
		app := daemon.NewApplication(cfg, knownpeers.NewFileStore(cfg.KnownPeersFile()))

		if !kardianos.Interactive() {
			return daemon.NewDaemonManager(cfg, app).StartDaemon()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := newConsole(app.Session(), os.Stdout)
		app.OnEvent(c.printEvent)
		c.banner(cfg)
		go func() {
			c.readCommands(os.Stdin)
			stop()
		}()
		return app.Run(ctx)
	},
}
