package policy

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	t.Setenv("CARD_ROOT", filepath.Join(base, "card"))
	t.Setenv("HISTORY_DB", filepath.Join(base, "db", "history.db"))
	t.Setenv("SERVICE_NAME", "cardhost.test")
	return config.New()
}

func TestLinuxUnit(t *testing.T) {
	cfg := testConfig(t)
	unit := NewLinuxPolicy(cfg).unitContent()
	for _, want := range []string{
		"ExecStart=" + cfg.BinaryPath() + "\n",
		"Environment=CARD_ROOT=" + cfg.CardRoot() + "\n",
		"ReadWritePaths=" + cfg.CardRoot() + " " + filepath.Dir(cfg.HistoryDB()) + "\n",
		"Restart=always",
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit lacks %q:\n%s", want, unit)
		}
	}
}

func TestDarwinPlist(t *testing.T) {
	testConfig(t)
	t.Setenv("CARD_ROOT", filepath.Join(t.TempDir(), "a&b", "card"))
	cfg := config.New()
	p := NewDarwinPolicy(cfg)
	if p.plistPath() != "/Library/LaunchDaemons/cardhost.test.plist" {
		t.Fatalf("unexpected plist path %q", p.plistPath())
	}
	if p.logDir() != "/Library/Logs/cardhost_test" {
		t.Fatalf("unexpected log dir %q", p.logDir())
	}
	plist := p.plistContent()
	for _, want := range []string{
		"<key>Label</key>\n\t<string>cardhost.test</string>",
		"<key>CARD_ROOT</key>\n\t\t<string>" + strings.ReplaceAll(cfg.CardRoot(), "&", "&amp;") + "</string>",
		"<key>HISTORY_DB</key>",
		"<string>/Library/Logs/cardhost_test/cardhost_test.log</string>",
		"<string>/Library/Logs/cardhost_test/cardhost_test.err.log</string>",
		"<key>SuccessfulExit</key>\n\t\t<false/>",
		"<integer>5</integer>",
	} {
		if !strings.Contains(plist, want) {
			t.Fatalf("plist lacks %q:\n%s", want, plist)
		}
	}
	if strings.Contains(plist, "a&b") {
		t.Fatalf("plist carries unescaped ampersand:\n%s", plist)
	}
}
