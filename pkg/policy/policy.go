package policy

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
)

type ServicePolicy interface {
	ConfigureAutoStart() error
	ConfigureRestartPolicy() error
}

func NewServicePolicy(cfg *config.Config) (ServicePolicy, error) {
	switch runtime.GOOS {
	case "windows":
		return NewWindowsPolicy(cfg), nil
	case "linux":
		return NewLinuxPolicy(cfg), nil
	case "darwin":
		return NewDarwinPolicy(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// writablePaths lists the directories the service writes to: the card and
// the directory holding the history database.
func writablePaths(cfg *config.Config) []string {
	paths := []string{cfg.CardRoot()}
	if db := cfg.HistoryDB(); db != "" {
		dir := filepath.Dir(db)
		if dir != cfg.CardRoot() {
			paths = append(paths, dir)
		}
	}
	return paths
}
