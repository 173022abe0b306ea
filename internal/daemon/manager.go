package daemon

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	kardianos "github.com/kardianos/service"
)

// DaemonManager runs an Application under the OS service manager.
type DaemonManager struct {
	cfg       *config.Config
	app       *Application
	appCtx    context.Context
	appCancel context.CancelFunc
	done      chan struct{}
}

func NewDaemonManager(cfg *config.Config, app *Application) *DaemonManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &DaemonManager{
		cfg:       cfg,
		app:       app,
		appCtx:    ctx,
		appCancel: cancel,
		done:      make(chan struct{}),
	}
}

func (m *DaemonManager) newService() (kardianos.Service, error) {
	return kardianos.New(m, m.serviceConfig())
}

// serviceConfig asks the platform service manager to start at boot and
// restart after a crash.
func (m *DaemonManager) serviceConfig() *kardianos.Config {
	return &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
		Arguments:   []string{"run"},
		Option: kardianos.KeyValue{
			"Restart":          "always",
			"KeepAlive":        true,
			"RunAtLoad":        true,
			"OnFailure":        "restart",
			"DelayedAutoStart": true,
		},
	}
}

func (m *DaemonManager) Start(s kardianos.Service) error {
	if m.app == nil {
		return fmt.Errorf("application cannot be nil")
	}
	logger.Log.Info("Kardianos starting service", "service", s.String(), "platform", s.Platform())
	go func() {
		defer close(m.done)
		if err := m.app.Run(m.appCtx); err != nil {
			logger.Log.Error("Application exited with error", "err", err)
		}
	}()
	return nil
}

func (m *DaemonManager) Stop(s kardianos.Service) error {
	logger.Log.Info("Kardianos stopping service", "service", s.String())
	m.appCancel()
	<-m.done
	return nil
}

func (m *DaemonManager) InstallDaemon() error {
	if err := m.createFolders(); err != nil {
		return err
	}
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w", err)
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service after install: %w", err)
	}
	return nil
}

func (m *DaemonManager) UninstallDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		logger.Log.Warn("Service was not running", "err", err)
	}
	return s.Uninstall()
}

func (m *DaemonManager) RestartDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Restart()
}

// StartDaemon hands control to the service manager and blocks until it stops us.
func (m *DaemonManager) StartDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

func (m *DaemonManager) createFolders() error {
	for _, dir := range []string{m.cfg.DownloadDir(), m.cfg.ShareDir()} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return fmt.Errorf("%s exists but is not a directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		logger.Log.Info("Folder ready", "path", dir)
	}
	return nil
}
