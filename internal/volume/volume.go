package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/shirou/gopsutil/v3/disk"
)

const DefaultMaxTasks = 10

type Options struct {
	// AutoCreate creates the card root on Mount when it is missing.
	AutoCreate bool
	// MaxTasks bounds the workers that may use the card at once.
	MaxTasks int
}

// Volume is a flash card mounted as a directory on the host.
type Volume struct {
	root    string
	opts    Options
	mu      sync.Mutex
	mounted bool
	tasks   int
	nextID  int
}

type Space struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

func New(root string, opts Options) *Volume {
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = DefaultMaxTasks
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Volume{root: root, opts: opts}
}

func (v *Volume) Root() string { return v.root }

func (v *Volume) MaxTasks() int { return v.opts.MaxTasks }

// Mount checks that the card is present and writable.
func (v *Volume) Mount() error {
	fi, err := os.Stat(v.root)
	if os.IsNotExist(err) && v.opts.AutoCreate {
		logger.Log.Info("Card root missing, creating it", "root", v.root)
		err = os.MkdirAll(v.root, 0o755)
		if err == nil {
			fi, err = os.Stat(v.root)
		}
	}
	if err != nil {
		logger.Log.Error("Card mount failed", "root", v.root, "err", err)
		return &Error{Op: "mount", Path: v.root, Code: ErrCodeInvalidDrive, Err: err}
	}
	if !fi.IsDir() {
		return &Error{Op: "mount", Path: v.root, Code: ErrCodeInvalidMedia, Err: fmt.Errorf("%s is not a directory", v.root)}
	}

	probe, err := os.CreateTemp(v.root, ".wp-probe-*")
	if err != nil {
		logger.Log.Error("Card is write-protected", "root", v.root, "err", err)
		return &Error{Op: "mount", Path: v.root, Code: ErrCodeWriteProtect, Err: err}
	}
	probe.Close()
	os.Remove(probe.Name())

	v.mu.Lock()
	v.mounted = true
	v.mu.Unlock()
	logger.Log.Info("Card mount successful", "root", v.root, "max_tasks", v.opts.MaxTasks)
	return nil
}

// Unmount refuses new tasks. Tasks already entered keep working until they
// are released.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return &Error{Op: "unmount", Code: ErrCodeInvalidDrive, Err: ErrNotMounted}
	}
	v.mounted = false
	logger.Log.Info("Unmounting card", "root", v.root, "active_tasks", v.tasks)
	return nil
}

func (v *Volume) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Format removes every entry on the card.
func (v *Volume) Format() error {
	if !v.Mounted() {
		return &Error{Op: "format", Code: ErrCodeInvalidDrive, Err: ErrNotMounted}
	}
	logger.Log.Warn("Formatting card", "root", v.root)
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return wrap("format", "/", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(v.root, e.Name())); err != nil {
			logger.Log.Error("Format failed", "entry", e.Name(), "err", err)
			return wrap("format", "/"+e.Name(), err)
		}
	}
	return nil
}

func (v *Volume) Space() (Space, error) {
	usage, err := disk.Usage(v.root)
	if err != nil {
		return Space{}, wrap("space", "/", err)
	}
	return Space{
		Total:       usage.Total,
		Free:        usage.Free,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// Enter registers the calling worker with the card. Each task has its own
// working directory starting at "/".
func (v *Volume) Enter() (*Task, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return nil, &Error{Op: "enter", Code: ErrCodeInvalidDrive, Err: ErrNotMounted}
	}
	if v.tasks >= v.opts.MaxTasks {
		logger.Log.Warn("No more card tasks available", "max_tasks", v.opts.MaxTasks)
		return nil, &Error{Op: "enter", Code: ErrCodeNoMoreTask, Err: ErrNoMoreTask}
	}
	v.tasks++
	v.nextID++
	return &Task{v: v, id: v.nextID, cwd: "/"}, nil
}

func (v *Volume) ActiveTasks() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tasks
}

func (v *Volume) release() {
	v.mu.Lock()
	v.tasks--
	v.mu.Unlock()
}
