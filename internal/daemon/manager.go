package daemon

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/The-Promised-Neverland/cardhost/pkg/policy"
	kardianos "github.com/kardianos/service"
)

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
	if m.app == nil {
		return nil, fmt.Errorf("application cannot be nil")
	}
	return kardianos.New(m, &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
	})
}

func (m *DaemonManager) Start(s kardianos.Service) error {
	logger.Log.Info("Kardianos starting service", "service", s.String(), "platform", s.Platform())
	go func() {
		defer close(m.done)
		if err := m.app.Run(m.appCtx); err != nil {
			logger.Log.Error("Application stopped with error", "err", err)
			if !kardianos.Interactive() {
				// let the service manager restart us
				os.Exit(1)
			}
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
	if err := m.createCardRoot(); err != nil {
		return fmt.Errorf("failed to prepare card root: %w", err)
	}
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w\nPlease run PowerShell or Command Prompt as Administrator", err)
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	p, err := policy.NewServicePolicy(m.cfg)
	if err != nil {
		return err
	}
	if err := p.ConfigureAutoStart(); err != nil {
		return fmt.Errorf("failed to configure auto-start: %w", err)
	}
	if err := p.ConfigureRestartPolicy(); err != nil {
		return fmt.Errorf("failed to configure restart policy: %w", err)
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

// StartDaemon runs under the service manager, or in the foreground until
// interrupted when started from a terminal.
func (m *DaemonManager) StartDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

func (m *DaemonManager) StopDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Stop()
}

// createCardRoot makes sure the card directory exists and is writable by
// mounting it once.
func (m *DaemonManager) createCardRoot() error {
	if err := os.MkdirAll(m.cfg.CardRoot(), 0o755); err != nil {
		return err
	}
	vol := m.app.Volume()
	if err := vol.Mount(); err != nil {
		return err
	}
	return vol.Unmount()
}
