package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/internal/feed"
	"github.com/The-Promised-Neverland/cardhost/internal/ftpd"
	"github.com/The-Promised-Neverland/cardhost/internal/history"
	"github.com/The-Promised-Neverland/cardhost/internal/service"
	"github.com/The-Promised-Neverland/cardhost/internal/stun"
	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/internal/watcher"
	"github.com/The-Promised-Neverland/cardhost/internal/web"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const (
	shutdownTimeout   = 5 * time.Second
	stunQueryInterval = 5 * time.Minute
)

type Application struct {
	config  *config.Config
	volume  *volume.Volume
	service *service.Service
	hub     *feed.Hub
	history *history.Store
	http    *http.Server
	ftp     *ftpd.Server
	watcher *watcher.Watcher
}

func NewApplication(cfg *config.Config) *Application {
	vol := volume.New(cfg.CardRoot(), volume.Options{
		AutoCreate: cfg.CardAutoCreate(),
		MaxTasks:   cfg.MaxFSTasks(),
	})
	return &Application{
		config:  cfg,
		volume:  vol,
		service: service.NewService(cfg, vol),
	}
}

func NewApplicationWithManager(cfg *config.Config) (*Application, *DaemonManager) {
	app := NewApplication(cfg)
	return app, NewDaemonManager(cfg, app)
}

func (app *Application) Volume() *volume.Volume {
	return app.volume
}

// Run mounts the card and serves it until appCtx is done or a server fails.
func (app *Application) Run(appCtx context.Context) error {
	if err := app.volume.Mount(); err != nil {
		return err
	}
	app.openHistory()

	app.hub = feed.NewHub(app.config.DeviceID())
	app.hub.RegisterDefaultHandlers(app.service)
	app.service.SetFeed(app.hub)

	errCh := make(chan error, 2)
	app.startHTTP(errCh)
	app.startFTP(appCtx, errCh)
	app.startWatcher(appCtx)
	go app.metricsLoop(appCtx)

	var err error
	select {
	case <-appCtx.Done():
		logger.Log.Info("Shutdown requested")
	case err = <-errCh:
		logger.Log.Error("Server failed, shutting down", "err", err)
	}
	app.Shutdown()
	return err
}

func (app *Application) openHistory() {
	path := app.config.HistoryDB()
	if path == "" {
		return
	}
	store, err := history.Open(path)
	if err == nil {
		err = store.Init()
	}
	if err != nil {
		logger.Log.Warn("Transfer history disabled", "path", path, "err", err)
		if store != nil {
			store.Close()
		}
		return
	}
	app.history = store
	app.service.SetHistory(store)
	logger.Log.Info("Transfer history opened", "path", path)
}

func (app *Application) startHTTP(errCh chan<- error) {
	handler := web.NewHandler(app.service, app.hub, app.config.Transfer().ChunkSize)
	app.http = web.NewRouter(handler).Server(app.config.HTTPAddr())
	go func() {
		logger.Log.Info("HTTP server listening", "addr", app.http.Addr)
		if err := app.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

func (app *Application) startFTP(appCtx context.Context, errCh chan<- error) {
	cfg := app.config
	pasvMin, pasvMax := cfg.FTPPassivePorts()
	app.ftp = ftpd.NewServer(ftpd.Options{
		User:         cfg.FTPUser(),
		Password:     cfg.FTPPassword(),
		PasvMin:      pasvMin,
		PasvMax:      pasvMax,
		PublicHost:   cfg.FTPPublicHost(),
		WriteTimeout: cfg.NetWriteTimeout(),
		Transfer:     cfg.Transfer(),
	}, app.volume, app.service)

	if cfg.FTPPublicHost() == ftpd.PublicHostSTUN {
		client := stun.NewClient(cfg.STUNServer())
		app.ftp.SetHostSource(client)
		app.service.SetEndpoint(client)
		go client.StartPeriodicQuery(appCtx, stunQueryInterval)
	}

	go func() {
		if err := app.ftp.ListenAndServe(appCtx, cfg.FTPAddr()); err != nil {
			errCh <- err
		}
	}()
}

func (app *Application) startWatcher(appCtx context.Context) {
	w, err := watcher.NewWatcher(app.volume.Root(), watcher.DefaultFilterConfig(), appCtx)
	if err != nil {
		logger.Log.Warn("Failed to create watcher", "err", err)
		return
	}
	if err := w.Start(); err != nil {
		logger.Log.Warn("Failed to start watcher", "err", err)
		w.Stop()
		return
	}
	app.watcher = w
	go app.handleFileEvents(appCtx, w)
	go app.handleWatcherErrors(appCtx, w)
}

// handleFileEvents pushes a fresh card snapshot after every change
func (app *Application) handleFileEvents(appCtx context.Context, w *watcher.Watcher) {
	for {
		select {
		case <-appCtx.Done():
			return
		case event := <-w.Events():
			logger.Log.Info("File event detected",
				"type", event.Type,
				"path", event.Path,
			)
			if err := app.service.BroadcastSnapshot(); err != nil {
				logger.Log.Error("Failed to scan card", "err", err)
			}
		}
	}
}

func (app *Application) handleWatcherErrors(appCtx context.Context, w *watcher.Watcher) {
	for {
		select {
		case <-appCtx.Done():
			return
		case err := <-w.Errors():
			logger.Log.Error("File watcher error", "err", err)
		}
	}
}

func (app *Application) metricsLoop(appCtx context.Context) {
	ticker := time.NewTicker(app.config.MetricsInterval())
	defer ticker.Stop()
	for {
		select {
		case <-appCtx.Done():
			return
		case <-ticker.C:
			app.service.BroadcastMetrics()
		}
	}
}

// Shutdown stops the servers and unmounts the card. It is safe to call
// more than once.
func (app *Application) Shutdown() {
	if app.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := app.http.Shutdown(ctx); err != nil {
			logger.Log.Error("HTTP shutdown failed", "err", err)
		}
		cancel()
		app.http = nil
	}
	if app.ftp != nil {
		app.ftp.Close()
		app.ftp = nil
	}
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}
	if app.hub != nil {
		app.hub.Close()
	}
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			logger.Log.Error("Closing transfer history failed", "err", err)
		}
		app.history = nil
	}
	if app.volume.Mounted() {
		app.volume.Unmount()
	}
}
