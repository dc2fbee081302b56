package volume

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mounted(t *testing.T, max int) *Volume {
	t.Helper()
	v := New(filepath.Join(t.TempDir(), "card"), Options{AutoCreate: true, MaxTasks: max})
	if err := v.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	return v
}

func enter(t *testing.T, v *Volume) *Task {
	t.Helper()
	task, err := v.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	t.Cleanup(task.Release)
	return task
}

func TestMountRequiresCard(t *testing.T) {
	v := New(filepath.Join(t.TempDir(), "missing"), Options{})
	err := v.Mount()
	if CodeOf(err) != ErrCodeInvalidDrive {
		t.Fatalf("expected F_ERR_INVALIDDRIVE, got %v", err)
	}
	if _, err := v.Enter(); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
}

func TestEnterTaskLimit(t *testing.T) {
	v := mounted(t, 2)
	a, _ := v.Enter()
	b, _ := v.Enter()
	if _, err := v.Enter(); !errors.Is(err, ErrNoMoreTask) || CodeOf(err) != ErrCodeNoMoreTask {
		t.Fatalf("expected ErrNoMoreTask, got %v", err)
	}
	a.Release()
	a.Release()
	if v.ActiveTasks() != 1 {
		t.Fatalf("expected 1 active task, got %d", v.ActiveTasks())
	}
	c, err := v.Enter()
	if err != nil {
		t.Fatalf("enter after release: %v", err)
	}
	b.Release()
	c.Release()

	if err := a.Mkdir("x"); CodeOf(err) != ErrCodeTaskNotFound {
		t.Fatalf("released task must be refused, got %v", err)
	}

	if err := v.Unmount(); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if _, err := v.Enter(); err == nil {
		t.Fatal("expected enter to fail after unmount")
	}
}

func TestTaskWorkingDirectory(t *testing.T) {
	v := mounted(t, 0)
	a, b := enter(t, v), enter(t, v)

	if err := a.Mkdir("web"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := a.Chdir("web"); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if a.Getwd() != "/web" || b.Getwd() != "/" {
		t.Fatalf("working dirs leaked between tasks: %q %q", a.Getwd(), b.Getwd())
	}
	if err := a.Chdir("../../.."); err != nil || a.Getwd() != "/" {
		t.Fatalf("expected to stop at root, got %q %v", a.Getwd(), err)
	}
	if got := a.Abs("../../etc/passwd"); got != "/etc/passwd" {
		t.Fatalf("expected confined path, got %q", got)
	}
	if err := a.Chdir("nope"); CodeOf(err) != ErrCodeInvalidDir {
		t.Fatalf("expected F_ERR_INVALIDDIR, got %v", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	task := enter(t, mounted(t, 0))

	if n, err := task.WriteFile("test.txt", []byte("Hello World 0\r\n")); err != nil || n != 15 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if _, err := task.AppendFile("test.txt", []byte("Hello World 1\r\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	b, err := task.ReadFile("test.txt")
	if err != nil || string(b) != "Hello World 0\r\nHello World 1\r\n" {
		t.Fatalf("read back %q, err %v", b, err)
	}

	stamp := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := task.Chtimes("test.txt", stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fi, err := task.Stat("test.txt")
	if err != nil || !fi.ModTime().Equal(stamp) {
		t.Fatalf("stat: %v %v", fi, err)
	}

	if err := task.Remove("test.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := task.Remove("test.txt"); CodeOf(err) != ErrCodeNotFound || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected F_ERR_NOTFOUND, got %v", err)
	}
}

func TestFindIsCaseInsensitive(t *testing.T) {
	task := enter(t, mounted(t, 0))
	for _, name := range []string{"b.html", "INDEX.HTM", "a.htm"} {
		if _, err := task.WriteFile(name, []byte("x")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	tests := []struct {
		pattern string
		want    string
	}{
		{"index.ht*", "INDEX.HTM"},
		{"*.html", "b.html"},
		{"*.htm", "INDEX.HTM"},
	}
	for _, tt := range tests {
		got, err := task.Find("/", tt.pattern)
		if err != nil || got != tt.want {
			t.Fatalf("find %q: got %q err %v", tt.pattern, got, err)
		}
	}
	if _, err := task.Find("/", "*.css"); CodeOf(err) != ErrCodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDirectoryOps(t *testing.T) {
	task := enter(t, mounted(t, 0))
	if err := task.Mkdir("d"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := task.Mkdir("d"); CodeOf(err) != ErrCodeDuplicated {
		t.Fatalf("expected F_ERR_DUPLICATED, got %v", err)
	}
	if _, err := task.WriteFile("d/f.bin", []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := task.Rmdir("d"); CodeOf(err) != ErrCodeNotEmpty {
		t.Fatalf("expected F_ERR_NOTEMPTY, got %v", err)
	}
	if err := task.Remove("d"); CodeOf(err) != ErrCodeAccessDenied {
		t.Fatalf("expected F_ERR_ACCESSDENIED, got %v", err)
	}
	if _, err := task.WriteFile("g.bin", nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := task.Rename("g.bin", "d/f.bin"); CodeOf(err) != ErrCodeDuplicated {
		t.Fatalf("rename over existing file must fail, got %v", err)
	}
	if err := task.Rename("g.bin", "d/g.bin"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	entries, err := task.ReadDir("d")
	if err != nil || len(entries) != 2 || entries[0].Name() != "f.bin" {
		t.Fatalf("readdir: %v %v", entries, err)
	}

	dirs, files, err := DumpDir(task)
	if err != nil || dirs != 1 || files != 2 {
		t.Fatalf("dump: dirs=%d files=%d err=%v", dirs, files, err)
	}
}

func TestFormatAndSpace(t *testing.T) {
	v := mounted(t, 0)
	task := enter(t, v)
	task.Mkdir("a")
	task.WriteFile("a/b.txt", []byte("data"))
	task.WriteFile("c.txt", []byte("data"))

	if err := v.Format(); err != nil {
		t.Fatalf("format: %v", err)
	}
	entries, err := os.ReadDir(v.Root())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty card, got %v %v", entries, err)
	}

	space, err := v.Space()
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	if space.Total == 0 || space.Free > space.Total {
		t.Fatalf("implausible space %+v", space)
	}
}

func TestCodeString(t *testing.T) {
	if ErrCodeNoMoreTask.String() != "F_ERR_NOMORETASK" || NoError.String() != "F_NO_ERROR" {
		t.Fatal("code names out of order")
	}
	if got := Code(99).String(); got != "Unknown error code [99]" {
		t.Fatalf("unexpected %q", got)
	}
	err := &Error{Op: "open", Path: "/x", Code: ErrCodeNotFound, Err: fs.ErrNotExist}
	if err.Error() != "volume: open /x: F_ERR_NOTFOUND: file does not exist" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSelfTest(t *testing.T) {
	task := enter(t, mounted(t, 0))
	if err := SelfTest(task, "TestFile.txt"); err != nil {
		t.Fatalf("selftest: %v", err)
	}
	if _, err := task.Stat("TestFile.txt"); CodeOf(err) != ErrCodeNotFound {
		t.Fatalf("test file must be removed, got %v", err)
	}
}

func TestBackslashPathsStayOnCard(t *testing.T) {
	v := mounted(t, 0)
	task := enter(t, v)
	if err := task.Mkdir("web"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	task.Chdir("web")

	tests := []struct {
		name string
		want string
	}{
		{`..\..\x`, "/x"},
		{`..\..\..\Windows\win.ini`, "/Windows/win.ini"},
		{`\..\escape.txt`, "/escape.txt"},
		{`img\a.png`, "/web/img/a.png"},
	}
	for _, tt := range tests {
		if got := task.Abs(tt.name); got != tt.want {
			t.Fatalf("Abs(%q): expected %q, got %q", tt.name, tt.want, got)
		}
		host := task.HostPath(tt.name)
		if rel, err := filepath.Rel(v.Root(), host); err != nil || !filepath.IsLocal(rel) {
			t.Fatalf("HostPath(%q) = %q leaves the card root %q", tt.name, host, v.Root())
		}
	}
	if task.HostPath(`..\..`) != v.Root() {
		t.Fatalf("expected card root, got %q", task.HostPath(`..\..`))
	}

	if _, err := task.WriteFile(`..\..\escape.txt`, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "escape.txt")); err != nil {
		t.Fatalf("file must land on the card: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(v.Root()), "escape.txt")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("file escaped the card root: %v", err)
	}
	if err := task.Rename(`\escape.txt`, `..\..\moved.txt`); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(v.Root(), "moved.txt")); err != nil {
		t.Fatalf("renamed file must stay on the card: %v", err)
	}
}
