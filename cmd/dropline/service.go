package main

import (
	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/daemon"
	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/spf13/cobra"
)

func newManager() *daemon.DaemonManager {
	cfg := config.New(flags)
	logger.Init(cfg.LogFile())
	app := daemon.NewApplication(cfg, knownpeers.NewFileStore(cfg.KnownPeersFile()))
	return daemon.NewDaemonManager(cfg, app)
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install DropLine as a background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newManager().InstallDaemon(); err != nil {
			return err
		}
		logger.Log.Info("✅ Service installed")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newManager().UninstallDaemon(); err != nil {
			return err
		}
		logger.Log.Info("Service uninstalled")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the installed background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newManager().RestartDaemon(); err != nil {
			return err
		}
		logger.Log.Info("🔄 Service restarted")
		return nil
	},
}
