package volume

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

// Task is one worker's handle on the card. It is not safe for concurrent
// use; each goroutine enters its own task.
type Task struct {
	v    *Volume
	id   int
	cwd  string
	once sync.Once
	done bool
}

func (t *Task) ID() int { return t.id }

func (t *Task) Volume() *Volume { return t.v }

// Release gives the task slot back to the volume. Safe to call twice.
func (t *Task) Release() {
	t.once.Do(func() {
		t.done = true
		t.v.release()
	})
}

func (t *Task) Getwd() string { return t.cwd }

// Abs resolves name against the working directory. The result is a clean
// slash path that never climbs above the card root. Backslashes separate
// directories, as on the card's FAT file system.
func (t *Task) Abs(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if !path.IsAbs(name) {
		name = path.Join(t.cwd, name)
	}
	return path.Clean("/" + name)
}

// HostPath returns the location of name on the host file system.
func (t *Task) HostPath(name string) string {
	rel := strings.TrimPrefix(t.Abs(name), "/")
	if rel == "" {
		return t.v.root
	}
	return filepath.Join(t.v.root, filepath.FromSlash(rel))
}

// local reports whether name stays inside the card on the host. Abs already
// removes "..", this also refuses names the host treats specially, such as
// drive letters or reserved device names on Windows.
func (t *Task) local(name string) bool {
	rel := strings.TrimPrefix(t.Abs(name), "/")
	return rel == "" || filepath.IsLocal(filepath.FromSlash(rel))
}

func (t *Task) check(op string, names ...string) error {
	if t.done {
		return &Error{Op: op, Path: names[0], Code: ErrCodeTaskNotFound, Err: ErrTaskReleased}
	}
	for _, name := range names {
		if !t.local(name) {
			return &Error{Op: op, Path: name, Code: ErrCodeInvalidName, Err: ErrOutsideCard}
		}
	}
	return nil
}

func (t *Task) Chdir(dir string) error {
	if err := t.check("chdir", dir); err != nil {
		return err
	}
	target := t.Abs(dir)
	fi, err := os.Stat(t.HostPath(target))
	if err != nil {
		return &Error{Op: "chdir", Path: target, Code: ErrCodeInvalidDir, Err: err}
	}
	if !fi.IsDir() {
		return &Error{Op: "chdir", Path: target, Code: ErrCodeInvalidDir, Err: fmt.Errorf("%s is not a directory", target)}
	}
	t.cwd = target
	return nil
}

func (t *Task) Open(name string) (*os.File, error) {
	if err := t.check("open", name); err != nil {
		return nil, err
	}
	f, err := os.Open(t.HostPath(name))
	if err != nil {
		return nil, wrap("open", t.Abs(name), err)
	}
	return f, nil
}

// Create truncates or creates name for reading and writing.
func (t *Task) Create(name string) (*os.File, error) {
	return t.openFile("create", name, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

// OpenAppend opens name positioned at its end, creating it if needed.
func (t *Task) OpenAppend(name string) (*os.File, error) {
	f, err := t.openFile("append", name, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, wrap("append", t.Abs(name), err)
	}
	return f, nil
}

func (t *Task) openFile(op, name string, flag int) (*os.File, error) {
	if err := t.check(op, name); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(t.HostPath(name), flag, 0o644)
	if err != nil {
		return nil, wrap(op, t.Abs(name), err)
	}
	return f, nil
}

func (t *Task) Stat(name string) (fs.FileInfo, error) {
	if err := t.check("stat", name); err != nil {
		return nil, err
	}
	fi, err := os.Stat(t.HostPath(name))
	if err != nil {
		return nil, wrap("stat", t.Abs(name), err)
	}
	return fi, nil
}

// ReadDir lists dir sorted by name.
func (t *Task) ReadDir(dir string) ([]fs.DirEntry, error) {
	if err := t.check("readdir", dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(t.HostPath(dir))
	if err != nil {
		code := CodeOf(err)
		if code == ErrCodeNotFound {
			code = ErrCodeInvalidDir
		}
		return nil, &Error{Op: "readdir", Path: t.Abs(dir), Code: code, Err: err}
	}
	return entries, nil
}

// Find returns the name of the first file in dir matching pattern. Matching
// ignores case, as on a FAT card.
func (t *Task) Find(dir, pattern string) (string, error) {
	entries, err := t.ReadDir(dir)
	if err != nil {
		return "", err
	}
	lp := strings.ToLower(pattern)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := path.Match(lp, strings.ToLower(e.Name()))
		if err != nil {
			return "", &Error{Op: "find", Path: pattern, Code: ErrCodeInvalidName, Err: err}
		}
		if ok {
			return e.Name(), nil
		}
	}
	return "", &Error{Op: "find", Path: path.Join(t.Abs(dir), pattern), Code: ErrCodeNotFound, Err: fs.ErrNotExist}
}

func (t *Task) Mkdir(name string) error {
	if err := t.check("mkdir", name); err != nil {
		return err
	}
	return wrap("mkdir", t.Abs(name), os.Mkdir(t.HostPath(name), 0o755))
}

func (t *Task) Rmdir(name string) error {
	if err := t.check("rmdir", name); err != nil {
		return err
	}
	target := t.Abs(name)
	if target == "/" {
		return &Error{Op: "rmdir", Path: target, Code: ErrCodeAccessDenied, Err: fs.ErrPermission}
	}
	fi, err := os.Stat(t.HostPath(target))
	if err != nil {
		return wrap("rmdir", target, err)
	}
	if !fi.IsDir() {
		return &Error{Op: "rmdir", Path: target, Code: ErrCodeInvalidDir, Err: fmt.Errorf("%s is not a directory", target)}
	}
	if err := os.Remove(t.HostPath(target)); err != nil {
		if entries, rerr := os.ReadDir(t.HostPath(target)); rerr == nil && len(entries) > 0 {
			return &Error{Op: "rmdir", Path: target, Code: ErrCodeNotEmpty, Err: err}
		}
		return wrap("rmdir", target, err)
	}
	return nil
}

// Remove deletes a file. Directories are refused; use Rmdir.
func (t *Task) Remove(name string) error {
	if err := t.check("delete", name); err != nil {
		return err
	}
	target := t.Abs(name)
	fi, err := os.Stat(t.HostPath(target))
	if err != nil {
		return wrap("delete", target, err)
	}
	if fi.IsDir() {
		return &Error{Op: "delete", Path: target, Code: ErrCodeAccessDenied, Err: fmt.Errorf("%s is a directory", target)}
	}
	if err := os.Remove(t.HostPath(target)); err != nil {
		logger.Log.Error("Delete failed", "task", t.id, "path", target, "err", err)
		return wrap("delete", target, err)
	}
	return nil
}

// Rename moves from to to. An existing target is never replaced.
func (t *Task) Rename(from, to string) error {
	if err := t.check("rename", from, to); err != nil {
		return err
	}
	src, dst := t.Abs(from), t.Abs(to)
	if _, err := os.Stat(t.HostPath(src)); err != nil {
		return wrap("rename", src, err)
	}
	if _, err := os.Lstat(t.HostPath(dst)); err == nil {
		return &Error{Op: "rename", Path: dst, Code: ErrCodeDuplicated, Err: fs.ErrExist}
	}
	return wrap("rename", src, os.Rename(t.HostPath(src), t.HostPath(dst)))
}

func (t *Task) Chtimes(name string, mtime time.Time) error {
	if err := t.check("settimedate", name); err != nil {
		return err
	}
	return wrap("settimedate", t.Abs(name), os.Chtimes(t.HostPath(name), mtime, mtime))
}

func (t *Task) ReadFile(name string) ([]byte, error) {
	f, err := t.Open(name)
	if err != nil {
		logger.Log.Error("Open for read failed", "task", t.id, "path", t.Abs(name), "code", CodeOf(err).String())
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return b, wrap("read", t.Abs(name), err)
	}
	return b, nil
}

// WriteFile replaces name with data and returns the bytes written.
func (t *Task) WriteFile(name string, data []byte) (int, error) {
	f, err := t.Create(name)
	if err != nil {
		logger.Log.Error("Open for write failed", "task", t.id, "path", t.Abs(name), "code", CodeOf(err).String())
		return 0, err
	}
	return t.finishWrite("write", name, f, data)
}

// AppendFile adds data at the end of name.
func (t *Task) AppendFile(name string, data []byte) (int, error) {
	f, err := t.OpenAppend(name)
	if err != nil {
		logger.Log.Error("Open for append failed", "task", t.id, "path", t.Abs(name), "code", CodeOf(err).String())
		return 0, err
	}
	return t.finishWrite("append", name, f, data)
}

func (t *Task) finishWrite(op, name string, f *os.File, data []byte) (int, error) {
	n, werr := f.Write(data)
	if werr != nil {
		logger.Log.Error("Short write", "task", t.id, "path", t.Abs(name), "written", n, "want", len(data))
	}
	if cerr := f.Close(); cerr != nil {
		return 0, wrap("close", t.Abs(name), cerr)
	}
	return n, wrap(op, t.Abs(name), werr)
}

// DumpDir logs every directory and file below the task's working directory.
func DumpDir(t *Task) (dirs, files int, err error) {
	if err := t.check("dump", t.cwd); err != nil {
		return 0, 0, err
	}
	root := t.HostPath(".")
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		name := path.Join(t.cwd, filepath.ToSlash(rel))
		if d.IsDir() {
			dirs++
			logger.Log.Info("Found directory", "path", name)
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		files++
		logger.Log.Info("Found file", "path", name, "bytes", info.Size())
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return dirs, files, wrap("dump", t.cwd, err)
	}
	return dirs, files, nil
}
