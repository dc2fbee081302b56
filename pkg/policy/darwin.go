package policy

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/The-Promised-Neverland/cardhost/pkg/utils"
)

const (
	launchDaemonsDir = "/Library/LaunchDaemons"
	launchLogsDir    = "/Library/Logs"
	// matches RestartSec in the systemd unit
	throttleSeconds = 5
)

type DarwinPolicy struct {
	serviceName string
	binaryPath  string
	cardRoot    string
	historyDB   string
}

func NewDarwinPolicy(cfg *config.Config) *DarwinPolicy {
	return &DarwinPolicy{
		serviceName: cfg.ServiceName(),
		binaryPath:  cfg.BinaryPath(),
		cardRoot:    cfg.CardRoot(),
		historyDB:   cfg.HistoryDB(),
	}
}

func (p *DarwinPolicy) ConfigureAutoStart() error {
	plistPath := p.plistPath()
	if err := os.MkdirAll(p.logDir(), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(plistPath, []byte(p.plistContent()), 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	_, _ = utils.RunCommand("launchctl", "bootout", "system", plistPath)
	if _, err := utils.RunCommand("launchctl", "bootstrap", "system", plistPath); err != nil {
		return err
	}
	logger.Log.Info("Card host launch daemon loaded", "plist", plistPath, "logs", p.logDir())
	return nil
}

func (p *DarwinPolicy) ConfigureRestartPolicy() error {
	logger.Log.Info("launchd restarts the card host after a failed exit", "throttle_sec", throttleSeconds)
	return nil
}

func (p *DarwinPolicy) plistPath() string {
	return filepath.Join(launchDaemonsDir, p.serviceName+".plist")
}

// logDir holds the daemon's stdout/stderr and its rotated JSON log.
func (p *DarwinPolicy) logDir() string {
	return filepath.Join(launchLogsDir, logName(p.serviceName))
}

func (p *DarwinPolicy) plistContent() string {
	name := logName(p.serviceName)
	env := [][2]string{
		{"CARD_ROOT", p.cardRoot},
		{"HISTORY_DB", p.historyDB},
		{"LOG_FILE", filepath.Join(p.logDir(), name+".log")},
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
`)
	plistString(&b, 1, "Label", p.serviceName)
	fmt.Fprintf(&b, "\t<key>ProgramArguments</key>\n\t<array>\n\t\t<string>%s</string>\n\t</array>\n", xmlText(p.binaryPath))
	b.WriteString("\t<key>EnvironmentVariables</key>\n\t<dict>\n")
	for _, kv := range env {
		if kv[1] != "" {
			plistString(&b, 2, kv[0], kv[1])
		}
	}
	b.WriteString("\t</dict>\n")
	plistString(&b, 1, "WorkingDirectory", filepath.Dir(p.cardRoot))
	b.WriteString("\t<key>RunAtLoad</key>\n\t<true/>\n")
	// a clean exit (stop or uninstall) stays down, a crash is restarted
	b.WriteString("\t<key>KeepAlive</key>\n\t<dict>\n\t\t<key>SuccessfulExit</key>\n\t\t<false/>\n\t</dict>\n")
	fmt.Fprintf(&b, "\t<key>ThrottleInterval</key>\n\t<integer>%d</integer>\n", throttleSeconds)
	plistString(&b, 1, "StandardOutPath", filepath.Join(p.logDir(), name+".out.log"))
	plistString(&b, 1, "StandardErrorPath", filepath.Join(p.logDir(), name+".err.log"))
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

func plistString(b *strings.Builder, depth int, key, value string) {
	indent := strings.Repeat("\t", depth)
	fmt.Fprintf(b, "%s<key>%s</key>\n%s<string>%s</string>\n", indent, xmlText(key), indent, xmlText(value))
}

func xmlText(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// logName turns a service name such as "Cardhost" or "io.cardhost" into a
// file name stem.
func logName(serviceName string) string {
	return strings.ToLower(strings.ReplaceAll(serviceName, ".", "_"))
}
