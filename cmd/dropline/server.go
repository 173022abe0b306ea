package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/matchmaker"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the matchmaking and relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New(flags)
		logger.Init("matchmaker.log")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return matchmaker.New().ListenAndServe(ctx, cfg.MatchmakerAddr())
	},
}

func init() {
	serverCmd.Flags().StringVar(&flags.MatchmakerAddr, "addr", "", "listen address (default :8888)")
}
