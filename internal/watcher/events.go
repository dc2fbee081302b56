package watcher

import (
	"path"
	"strings"
	"time"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

// FileEvent carries a slash path relative to the card root, e.g. "/web/a.htm".
type FileEvent struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// FilterConfig configures which files to watch
type FilterConfig struct {
	AllowedExtensions   []string
	IgnoreSuffixes      []string
	IgnorePrefixes      []string
	WatchSubdirectories bool
	Debounce            time.Duration
}

// DefaultFilterConfig returns a default filter configuration
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		AllowedExtensions:   []string{}, // Empty means allow all file types
		IgnoreSuffixes:      []string{".tmp", ".swp", ".DS_Store", "~", "-journal", "-wal", "-shm"},
		IgnorePrefixes:      []string{".wp-probe-"},
		WatchSubdirectories: true,
		Debounce:            500 * time.Millisecond,
	}
}

// ShouldProcess checks a card path against the filter.
func (fc *FilterConfig) ShouldProcess(filePath string) bool {
	base := path.Base(filePath)
	if len(fc.AllowedExtensions) > 0 {
		extMatched := false
		for _, ext := range fc.AllowedExtensions {
			if strings.EqualFold(path.Ext(base), ext) {
				extMatched = true
				break
			}
		}
		if !extMatched {
			return false
		}
	}
	for _, suffix := range fc.IgnoreSuffixes {
		if strings.HasSuffix(base, suffix) {
			return false
		}
	}
	for _, prefix := range fc.IgnorePrefixes {
		if strings.HasPrefix(base, prefix) {
			return false
		}
	}
	return true
}
