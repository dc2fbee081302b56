package transfer

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

var (
	errTransient = errors.New("card busy")
	errDisk      = errors.New("disk full")
)

// fakeStore serves data in reads and collects writes. fail and writeFail get
// the 1-based call number and report whether that call fails.
type fakeStore struct {
	data      []byte
	pos       int
	reads     int
	fail      func(call int) bool
	writes    int
	writeFail func(call int) bool
	written   bytes.Buffer
	last      error
}

func (s *fakeStore) Read(p []byte) (int, error) {
	s.reads++
	if s.fail != nil && s.fail(s.reads) {
		s.last = errTransient
		return 0, errTransient
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *fakeStore) AtEnd() bool { return s.pos >= len(s.data) }

func (s *fakeStore) LastError() error { return s.last }

func (s *fakeStore) Write(p []byte) (int, error) {
	s.writes++
	if s.writeFail != nil && s.writeFail(s.writes) {
		s.last = errDisk
		return 0, errDisk
	}
	return s.written.Write(p)
}

// fakeConn records each write call. It accepts at most maxWrite bytes per
// call and stops accepting anything once stallAt bytes were received.
type fakeConn struct {
	calls    []string
	got      bytes.Buffer
	maxWrite int
	stallAt  int
	stall    func(call int) bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.calls = append(c.calls, string(p))
	if c.stallAt > 0 && c.got.Len() >= c.stallAt {
		return 0, errTransient
	}
	if c.stall != nil && c.stall(len(c.calls)) {
		return 0, nil
	}
	n := len(p)
	if c.maxWrite > 0 && n > c.maxWrite {
		n = c.maxWrite
	}
	c.got.Write(p[:n])
	return n, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type step struct {
	data string
	err  error
}

// scriptConn replays steps to ReadTimeout. Data steps may be consumed over
// several reads. Once the script runs out it reports io.EOF.
type scriptConn struct {
	steps []step
	reads int
}

func (c *scriptConn) ReadTimeout(p []byte, _ time.Duration) (int, error) {
	c.reads++
	if len(c.steps) == 0 {
		return 0, io.EOF
	}
	st := &c.steps[0]
	n := copy(p, st.data)
	st.data = st.data[n:]
	if st.data == "" {
		c.steps = c.steps[1:]
		return n, st.err
	}
	return n, nil
}

type sleepCounter struct{ n int }

func (s *sleepCounter) sleep(time.Duration) { s.n++ }

func testConfig(chunk, limit int, sc *sleepCounter) Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = chunk
	cfg.StoreRetryLimit = limit
	cfg.StreamRetryLimit = limit
	cfg.Sleep = sc.sleep
	return cfg
}

func TestStoreToStreamChunksInOrder(t *testing.T) {
	sc := &sleepCounter{}
	src := &fakeStore{data: []byte("ABCDEFGHIJ")}
	dst := &fakeConn{}

	res, err := StoreToStream(src, dst, testConfig(4, 2, sc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != Completed || res.Bytes != 10 || res.Chunks != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{"ABCD", "EFGH", "IJ"}
	if len(dst.calls) != len(want) {
		t.Fatalf("expected %d writes, got %q", len(want), dst.calls)
	}
	for i := range want {
		if dst.calls[i] != want[i] {
			t.Fatalf("write %d: expected %q, got %q", i, want[i], dst.calls[i])
		}
	}
	if sc.n != 0 {
		t.Fatalf("expected no sleeps, got %d", sc.n)
	}
}

func TestStoreToStreamWriteStallAborts(t *testing.T) {
	sc := &sleepCounter{}
	src := &fakeStore{data: []byte("ABCDEFGHIJ")}
	dst := &fakeConn{stallAt: 4}

	res, err := StoreToStream(src, dst, testConfig(4, 2, sc))
	if !errors.Is(err, ErrStreamWriteExhausted) {
		t.Fatalf("expected ErrStreamWriteExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	if res.Outcome != StreamWriteExhausted || res.Bytes != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := dst.got.String(); got != "ABCD" {
		t.Fatalf("expected only ABCD delivered, got %q", got)
	}
	if src.reads != 2 {
		t.Fatalf("expected third chunk never read, got %d reads", src.reads)
	}
	// one sleep between the two failed attempts, none after the last
	if sc.n != 1 {
		t.Fatalf("expected 1 sleep, got %d", sc.n)
	}
}

func TestStoreToStreamEmptyStore(t *testing.T) {
	src := &fakeStore{}
	dst := &fakeConn{}

	res, err := StoreToStream(src, dst, testConfig(4, 2, &sleepCounter{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != Completed || res.Bytes != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if src.reads != 0 || len(dst.calls) != 0 {
		t.Fatalf("expected no calls, got %d reads %d writes", src.reads, len(dst.calls))
	}
}

func TestStoreToStreamIntermittentReadFailures(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	src := &fakeStore{data: data, fail: func(call int) bool { return call%3 == 0 }}
	dst := &fakeConn{}

	res, err := StoreToStream(src, dst, testConfig(5, 2, &sleepCounter{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(dst.got.Bytes(), data) {
		t.Fatalf("content mismatch: %q", dst.got.String())
	}
	if res.Bytes != int64(len(data)) || res.Retries == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStoreToStreamReadExhausted(t *testing.T) {
	sc := &sleepCounter{}
	src := &fakeStore{data: []byte("ABCDEFGH"), fail: func(call int) bool { return call > 1 }}
	dst := &fakeConn{}

	res, err := StoreToStream(src, dst, testConfig(4, 3, sc))
	if !errors.Is(err, ErrStoreReadExhausted) {
		t.Fatalf("expected ErrStoreReadExhausted, got %v", err)
	}
	if res.Outcome != StoreReadExhausted || res.Bytes != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if src.reads != 4 {
		t.Fatalf("expected 1 good read and 3 failures, got %d reads", src.reads)
	}
	if sc.n != 2 {
		t.Fatalf("expected 2 sleeps, got %d", sc.n)
	}
	var te *Error
	if !errors.As(err, &te) || te.Cause != errTransient {
		t.Fatalf("expected *Error carrying the store error, got %#v", err)
	}
}

func TestStoreToStreamPartialWrites(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	tests := []struct {
		name string
		dst  *fakeConn
	}{
		{"short writes", &fakeConn{maxWrite: 3}},
		{"alternating stalls", &fakeConn{maxWrite: 5, stall: func(call int) bool { return call%2 == 0 }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeStore{data: data}
			res, err := StoreToStream(src, tt.dst, testConfig(8, 2, &sleepCounter{}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(tt.dst.got.Bytes(), data) {
				t.Fatalf("expected %q, got %q", data, tt.dst.got.String())
			}
			if res.Bytes != int64(len(data)) || res.Chunks != 4 {
				t.Fatalf("unexpected result %+v", res)
			}
		})
	}
}

func TestStoreToStreamLimitAndProgress(t *testing.T) {
	src := &fakeStore{data: []byte("ABCDEFGHIJ")}
	dst := &fakeConn{}
	s, err := NewSession(testConfig(4, 2, &sleepCounter{}), nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Limit = 6
	var seen []Progress
	s.OnChunk = func(p Progress) { seen = append(seen, p) }

	res, err := s.StoreToStream(src, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := dst.got.String(); got != "ABCDEF" || res.Bytes != 6 {
		t.Fatalf("expected ABCDEF, got %q (%+v)", got, res)
	}
	if len(seen) != 2 || seen[1].ChunkBytes != 2 || seen[1].Bytes != 6 || seen[1].Direction != DirStoreToStream {
		t.Fatalf("unexpected progress %+v", seen)
	}

	if _, err := s.StoreToStream(src, dst); !errors.Is(err, ErrSessionUsed) {
		t.Fatalf("expected ErrSessionUsed, got %v", err)
	}
}

func TestStreamToStore(t *testing.T) {
	sc := &sleepCounter{}
	src := &scriptConn{steps: []step{
		{data: "AB"},
		{err: timeoutErr{}},
		{data: "CDEFG"},
		{err: timeoutErr{}},
		{err: timeoutErr{}},
		{data: "HI", err: io.EOF},
	}}
	dst := &fakeStore{}

	res, err := StreamToStore(src, dst, testConfig(4, 3, sc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := dst.written.String(); got != "ABCDEFGHI" {
		t.Fatalf("expected ABCDEFGHI, got %q", got)
	}
	if res.Outcome != Completed || res.Bytes != 9 || res.Retries != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if sc.n != 0 {
		t.Fatalf("timeouts must not add sleeps, got %d", sc.n)
	}
}

func TestStreamToStoreReadExhausted(t *testing.T) {
	sc := &sleepCounter{}
	src := &scriptConn{steps: []step{
		{data: "ABCD"},
		{err: timeoutErr{}},
		{err: errTransient},
		{err: timeoutErr{}},
		{data: "never"},
	}}
	dst := &fakeStore{}

	res, err := StreamToStore(src, dst, testConfig(4, 3, sc))
	if !errors.Is(err, ErrStreamReadExhausted) {
		t.Fatalf("expected ErrStreamReadExhausted, got %v", err)
	}
	if res.Outcome != StreamReadExhausted || res.Bytes != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if src.reads != 4 {
		t.Fatalf("expected 4 reads, got %d", src.reads)
	}
	if sc.n != 1 {
		t.Fatalf("expected a sleep only after the non-timeout error, got %d", sc.n)
	}
}

func TestStreamToStoreWriteExhausted(t *testing.T) {
	src := &scriptConn{steps: []step{{data: "ABCDEFGH"}}}
	dst := &fakeStore{writeFail: func(call int) bool { return call > 1 }}

	res, err := StreamToStore(src, dst, testConfig(4, 2, &sleepCounter{}))
	if !errors.Is(err, ErrStoreWriteExhausted) || !errors.Is(err, errDisk) {
		t.Fatalf("expected ErrStoreWriteExhausted wrapping disk error, got %v", err)
	}
	if res.Bytes != 4 || dst.written.String() != "ABCD" {
		t.Fatalf("unexpected result %+v, store %q", res, dst.written.String())
	}
	if outcome, ok := OutcomeOf(err); !ok || outcome != StoreWriteExhausted || outcome.Side() != "file system" {
		t.Fatalf("unexpected outcome %v %v", outcome, ok)
	}
}

func TestStreamToStoreLimit(t *testing.T) {
	src := &scriptConn{steps: []step{{data: "ABCDEFGH"}}}
	dst := &fakeStore{}
	s, err := NewSession(testConfig(4, 2, &sleepCounter{}), nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Limit = 5

	res, err := s.StreamToStore(src, dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.written.String() != "ABCDE" || res.Bytes != 5 || src.reads != 2 {
		t.Fatalf("unexpected result %+v, store %q, reads %d", res, dst.written.String(), src.reads)
	}
}

func TestNewSessionValidation(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewSession(cfg, make([]byte, 10)); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
	cfg.StreamRetryLimit = 0
	if _, err := NewSession(cfg, nil); err == nil {
		t.Fatal("expected validation error for zero retry limit")
	}
	cfg = DefaultConfig()
	cfg.ChunkSize = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative chunk size")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Outcome: StreamWriteExhausted, Bytes: 42, Cause: errTransient}
	want := "transfer: stream write retries exhausted after 42 bytes: card busy"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if _, ok := OutcomeOf(errTransient); ok {
		t.Fatal("plain error must not carry an outcome")
	}
	if o, ok := OutcomeOf(nil); !ok || o != Completed || o.Err() != nil {
		t.Fatalf("nil error should be Completed, got %v", o)
	}
}
