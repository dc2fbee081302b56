package policy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/The-Promised-Neverland/cardhost/pkg/utils"
)

type LinuxPolicy struct {
	serviceName string
	description string
	binaryPath  string
	cardRoot    string
	writable    []string
}

func NewLinuxPolicy(cfg *config.Config) *LinuxPolicy {
	return &LinuxPolicy{
		serviceName: cfg.ServiceName(),
		description: cfg.ServiceDescription(),
		binaryPath:  cfg.BinaryPath(),
		cardRoot:    cfg.CardRoot(),
		writable:    writablePaths(cfg),
	}
}

func (p *LinuxPolicy) ConfigureAutoStart() error {
	unitPath := filepath.Join(
		"/etc/systemd/system",
		p.serviceName+".service",
	)
	if err := os.WriteFile(unitPath, []byte(p.unitContent()), 0644); err != nil {
		return err
	}
	_, _ = utils.RunCommand("systemctl", "daemon-reload")
	_, _ = utils.RunCommand("systemctl", "enable", p.serviceName)
	logger.Log.Info("systemd unit installed", "path", unitPath)
	return nil
}

func (p *LinuxPolicy) ConfigureRestartPolicy() error {
	logger.Log.Info("systemd restart policy enforced via unit")
	return nil
}

func (p *LinuxPolicy) unitContent() string {
	return `[Unit]
Description=` + p.description + `
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=` + p.binaryPath + `
Environment=CARD_ROOT=` + p.cardRoot + `
Restart=always
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=30
LimitNOFILE=65536
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=` + strings.Join(p.writable, " ") + `

[Install]
WantedBy=multi-user.target
`
}
