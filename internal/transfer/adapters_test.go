package transfer

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempFile(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileStoreToConnStream(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	store, err := NewFileStore(tempFile(t, content))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	got := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(remote)
		got <- b
	}()

	cfg := DefaultConfig()
	cfg.ChunkSize = 4096
	cfg.Sleep = func(time.Duration) {}
	res, err := StoreToStream(store, NewConnStream(local, time.Second), cfg)
	local.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Bytes != int64(len(content)) || res.Chunks != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if b := <-got; string(b) != content {
		t.Fatalf("content mismatch: got %d bytes", len(b))
	}
	if !store.AtEnd() || store.LastError() != nil {
		t.Fatalf("expected clean end of store, last error %v", store.LastError())
	}
}

func TestConnStreamToFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	store, err := NewFileStore(f)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	local, remote := net.Pipe()
	payload := bytes.Repeat([]byte("xyz"), 5000)
	go func() {
		remote.Write(payload)
		remote.Close()
	}()

	cfg := DefaultConfig()
	cfg.ChunkSize = 1024
	cfg.Sleep = func(time.Duration) {}
	res, err := StreamToStore(NewConnStream(local, time.Second), store, cfg)
	local.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Bytes != int64(len(payload)) || store.Size() != int64(len(payload)) {
		t.Fatalf("unexpected result %+v, size %d", res, store.Size())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(b, payload) {
		t.Fatal("stored content differs from payload")
	}
}

func TestConnStreamReadTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	n, err := NewConnStream(local, 0).ReadTimeout(make([]byte, 8), 10*time.Millisecond)
	if n != 0 || !isTimeout(err) {
		t.Fatalf("expected timeout, got n=%d err=%v", n, err)
	}
	if isTimeout(errors.New("plain")) || isTimeout(nil) {
		t.Fatal("plain errors are not timeouts")
	}
}

func TestConnStreamStalledPeer(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	src := &fakeStore{data: []byte("nobody reads this")}
	cfg := testConfig(4, 2, &sleepCounter{})
	res, err := StoreToStream(src, NewConnStream(local, 10*time.Millisecond), cfg)
	if !errors.Is(err, ErrStreamWriteExhausted) || !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected exhausted write with deadline cause, got %v", err)
	}
	if res.Bytes != 0 || src.reads != 1 {
		t.Fatalf("unexpected result %+v after %d reads", res, src.reads)
	}
}

func TestSendFragment(t *testing.T) {
	var out bytes.Buffer
	src := &fakeStore{data: []byte("hello world")}
	n, err := SendFragment(&out, src, 11, make([]byte, 4))
	if err != nil || n != 11 || out.String() != "hello world" {
		t.Fatalf("unexpected send: n=%d err=%v out=%q", n, err, out.String())
	}

	out.Reset()
	src = &fakeStore{data: []byte("short")}
	n, err = SendFragment(&out, src, 20, make([]byte, 4))
	if !errors.Is(err, io.ErrUnexpectedEOF) || n != 5 {
		t.Fatalf("expected unexpected EOF after 5 bytes, got n=%d err=%v", n, err)
	}

	src = &fakeStore{data: []byte("abc"), fail: func(int) bool { return true }}
	if _, err := SendFragment(&out, src, 3, make([]byte, 4)); !errors.Is(err, errTransient) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestBufferPoolSession(t *testing.T) {
	pool := NewBufferPool(8)
	s, release, err := pool.Session(DefaultConfig())
	if err != nil {
		t.Fatalf("pool session: %v", err)
	}
	defer release()

	src := &fakeStore{data: []byte("0123456789abcdef!")}
	dst := &fakeConn{}
	res, err := s.StoreToStream(src, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Chunks != 3 || dst.got.String() != "0123456789abcdef!" {
		t.Fatalf("unexpected result %+v, got %q", res, dst.got.String())
	}

	a, b := pool.Get(), pool.Get()
	if &(*a)[0] == &(*b)[0] {
		t.Fatal("pool handed out the same buffer twice")
	}
	pool.Put(a)
	pool.Put(b)
	small := make([]byte, 3)
	pool.Put(&small)
}
