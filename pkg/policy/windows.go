package policy

import (
	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/The-Promised-Neverland/cardhost/pkg/utils"
)

type WindowsPolicy struct {
	serviceName string
}

func NewWindowsPolicy(cfg *config.Config) *WindowsPolicy {
	return &WindowsPolicy{
		serviceName: cfg.ServiceName(),
	}
}

func (p *WindowsPolicy) ConfigureAutoStart() error {
	_, err := utils.RunCommand(
		"sc", "config", p.serviceName, "start=", "delayed-auto",
	)
	if err != nil {
		logger.Log.Warn("Failed to configure Windows auto-start", "service", p.serviceName, "err", err)
		return err
	}
	logger.Log.Info("Windows auto-start configured", "service", p.serviceName)
	return nil
}

func (p *WindowsPolicy) ConfigureRestartPolicy() error {
	_, err := utils.RunCommand(
		"sc", "failure", p.serviceName,
		"actions=restart/5000/restart/5000/restart/5000",
		"reset=86400",
	)
	if err != nil {
		logger.Log.Warn("Failed to configure Windows restart policy", "service", p.serviceName, "err", err)
		return err
	}
	logger.Log.Info("Windows restart policy configured", "service", p.serviceName)
	return nil
}
