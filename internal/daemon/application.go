package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/bridge"
	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/session"
	"github.com/The-Promised-Neverland/dropline/internal/watcher"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"go.uber.org/multierr"
)

// Application wires a session to its share folder watcher and UI bridge and
// keeps it registered with the matchmaker.
type Application struct {
	config  *config.Config
	session *session.Session
	bridge  *bridge.Server
	watcher *watcher.Watcher

	mu    sync.Mutex
	sinks []func(models.Event)
}

func NewApplication(cfg *config.Config, store knownpeers.Store) *Application {
	app := &Application{
		config:  cfg,
		session: session.New(cfg, store),
	}
	if cfg.BridgeAddr() != "" {
		app.bridge = bridge.New(app.session)
	}
	return app
}

func (app *Application) Session() *session.Session {
	return app.session
}

// OnEvent adds a consumer for session events. Consumers run on the event pump
// goroutine and must not block.
func (app *Application) OnEvent(fn func(models.Event)) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.sinks = append(app.sinks, fn)
}

// Run blocks until ctx ends, then shuts everything down.
func (app *Application) Run(appCtx context.Context) error {
	go app.pumpEvents(appCtx)

	if dir := app.config.ShareDir(); dir != "" {
		if err := app.startWatcher(appCtx, dir); err != nil {
			logger.Log.Warn("Share folder watcher disabled", "path", dir, "err", err)
		}
	}
	if app.bridge != nil {
		go func() {
			if err := app.bridge.ListenAndServe(appCtx, app.config.BridgeAddr()); err != nil {
				logger.Log.Error("UI bridge stopped", "err", err)
			}
		}()
	}

	app.superviseConnection(appCtx)
	return app.Shutdown()
}

func (app *Application) Shutdown() error {
	var errs error
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}
	errs = multierr.Append(errs, app.session.Close())
	logger.Log.Info("Application stopped")
	return errs
}

func (app *Application) startWatcher(appCtx context.Context, dir string) error {
	w, err := watcher.New(appCtx, dir, watcher.DefaultOptions(), app.session)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	app.watcher = w
	return nil
}

func (app *Application) pumpEvents(appCtx context.Context) {
	events := app.session.Events()
	for {
		select {
		case <-appCtx.Done():
			return
		case e := <-events:
			if app.bridge != nil {
				app.bridge.Publish(e)
			}
			app.mu.Lock()
			sinks := app.sinks
			app.mu.Unlock()
			for _, fn := range sinks {
				fn(e)
			}
		}
	}
}

// superviseConnection re-registers with the matchmaker whenever the
// connection drops, unless the user disconnected on purpose.
func (app *Application) superviseConnection(appCtx context.Context) {
	for {
		if err := app.session.Initialize(appCtx, app.config.ServerAddr()); err != nil {
			logger.Log.Error("Failed to start session", "err", err)
			return
		}
		select {
		case <-appCtx.Done():
			return
		case <-app.session.ServerLost():
		}
		if !app.session.WantsServer() {
			logger.Log.Info("Staying offline until shutdown")
			<-appCtx.Done()
			return
		}
		delay := app.config.ReconnectDelay()
		if delay <= 0 {
			<-appCtx.Done()
			return
		}
		logger.Log.Info("🔄 Reconnecting to matchmaker", "in", delay.String())
		select {
		case <-appCtx.Done():
			return
		case <-time.After(delay):
		}
	}
}
