package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const (
	DefaultChunkSize         = 32 * 1024
	DefaultStoreRetryLimit   = 10
	DefaultStreamRetryLimit  = 10
	DefaultRetryDelay        = 250 * time.Millisecond
	DefaultStreamReadTimeout = time.Second
)

type Config struct {
	ChunkSize         int
	StoreRetryLimit   int
	StreamRetryLimit  int
	RetryDelay        time.Duration
	StreamReadTimeout time.Duration
	Sleep             func(time.Duration)
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:         DefaultChunkSize,
		StoreRetryLimit:   DefaultStoreRetryLimit,
		StreamRetryLimit:  DefaultStreamRetryLimit,
		RetryDelay:        DefaultRetryDelay,
		StreamReadTimeout: DefaultStreamReadTimeout,
		Sleep:             time.Sleep,
	}
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("transfer: chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.StoreRetryLimit <= 0 || c.StreamRetryLimit <= 0 {
		return fmt.Errorf("transfer: retry limits must be positive (store=%d stream=%d)", c.StoreRetryLimit, c.StreamRetryLimit)
	}
	if c.RetryDelay < 0 || c.StreamReadTimeout < 0 {
		return errors.New("transfer: delays must not be negative")
	}
	return nil
}

type Result struct {
	Direction Direction
	Outcome   Outcome
	Bytes     int64
	Chunks    int
	Retries   int
}

// Session is one transfer in progress. It owns its chunk buffer until the
// transfer call returns and cannot be run twice.
type Session struct {
	// Limit bounds the bytes moved; negative means until end of data.
	Limit int64
	// OnChunk, when set, is called after each chunk reaches the destination.
	OnChunk func(Progress)

	cfg  Config
	buf  []byte
	used bool
}

// NewSession prepares a transfer. buf may be nil, in which case a buffer of
// cfg.ChunkSize bytes is allocated; otherwise it must hold a full chunk.
func NewSession(cfg Config, buf []byte) (*Session, error) {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buf == nil {
		buf = make([]byte, cfg.ChunkSize)
	}
	if len(buf) < cfg.ChunkSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrBufferTooSmall, len(buf), cfg.ChunkSize)
	}
	return &Session{
		Limit: -1,
		cfg:   cfg,
		buf:   buf[:cfg.ChunkSize],
	}, nil
}

// StoreToStream runs a single transfer with a fresh session.
func StoreToStream(src StoreReader, dst StreamWriter, cfg Config) (Result, error) {
	s, err := NewSession(cfg, nil)
	if err != nil {
		return Result{Direction: DirStoreToStream}, err
	}
	return s.StoreToStream(src, dst)
}

// StreamToStore runs a single transfer with a fresh session.
func StreamToStore(src StreamReader, dst StoreWriter, cfg Config) (Result, error) {
	s, err := NewSession(cfg, nil)
	if err != nil {
		return Result{Direction: DirStreamToStore}, err
	}
	return s.StreamToStore(src, dst)
}

// StoreToStream copies from a file to a connection until the store signals
// end of data. Neither handle is closed.
func (s *Session) StoreToStream(src StoreReader, dst StreamWriter) (Result, error) {
	res := Result{Direction: DirStoreToStream}
	if s.used {
		return res, ErrSessionUsed
	}
	s.used = true

	remaining := s.Limit
	for remaining != 0 && !src.AtEnd() {
		chunk := s.nextChunk(remaining)

		n, retries, ok := s.readStore(src, chunk)
		res.Retries += retries
		if !ok {
			return s.fail(res, StoreReadExhausted, src.LastError())
		}
		if n == 0 {
			break
		}

		retries, cause, ok := s.writeAll(dst.Write, chunk[:n], s.cfg.StreamRetryLimit, "stream")
		res.Retries += retries
		if !ok {
			return s.fail(res, StreamWriteExhausted, cause)
		}
		s.advance(&res, n, &remaining)
	}
	res.Outcome = Completed
	return res, nil
}

// StreamToStore copies from a connection to a file until the peer closes
// the stream or the limit is reached. Neither handle is closed.
func (s *Session) StreamToStore(src StreamReader, dst StoreWriter) (Result, error) {
	res := Result{Direction: DirStreamToStore}
	if s.used {
		return res, ErrSessionUsed
	}
	s.used = true

	remaining := s.Limit
	for remaining != 0 {
		chunk := s.nextChunk(remaining)

		n, eof, retries, cause, ok := s.readStream(src, chunk)
		res.Retries += retries
		if !ok {
			return s.fail(res, StreamReadExhausted, cause)
		}
		if n > 0 {
			retries, _, ok := s.writeAll(dst.Write, chunk[:n], s.cfg.StoreRetryLimit, "store")
			res.Retries += retries
			if !ok {
				return s.fail(res, StoreWriteExhausted, dst.LastError())
			}
			s.advance(&res, n, &remaining)
		}
		if eof {
			break
		}
	}
	res.Outcome = Completed
	return res, nil
}

func (s *Session) nextChunk(remaining int64) []byte {
	if remaining > 0 && remaining < int64(len(s.buf)) {
		return s.buf[:remaining]
	}
	return s.buf
}

func (s *Session) advance(res *Result, n int, remaining *int64) {
	res.Bytes += int64(n)
	res.Chunks++
	if *remaining > 0 {
		*remaining -= int64(n)
	}
	if s.OnChunk != nil {
		s.OnChunk(Progress{
			Direction:  res.Direction,
			Chunk:      res.Chunks,
			ChunkBytes: n,
			Bytes:      res.Bytes,
		})
	}
}

func (s *Session) fail(res Result, outcome Outcome, cause error) (Result, error) {
	res.Outcome = outcome
	return res, &Error{Outcome: outcome, Bytes: res.Bytes, Cause: cause}
}

// readStore fills at most len(buf) bytes. It returns n == 0 with ok set when
// the store reached its end while a retry was pending.
func (s *Session) readStore(src StoreReader, buf []byte) (n, failures int, ok bool) {
	for {
		n, _ = src.Read(buf)
		if n > 0 {
			return n, failures, true
		}
		if src.AtEnd() {
			return 0, failures, true
		}
		failures++
		logger.Log.Debug("Store read returned no data, retrying",
			"attempt", failures,
			"limit", s.cfg.StoreRetryLimit,
			"err", src.LastError(),
		)
		if failures >= s.cfg.StoreRetryLimit {
			return 0, failures, false
		}
		s.cfg.Sleep(s.cfg.RetryDelay)
	}
}

// readStream waits for data with a bounded timeout per attempt. The timeout
// is the wait between attempts; other errors back off for RetryDelay.
func (s *Session) readStream(src StreamReader, buf []byte) (n int, eof bool, failures int, cause error, ok bool) {
	for {
		n, err := src.ReadTimeout(buf, s.cfg.StreamReadTimeout)
		if n > 0 {
			return n, errors.Is(err, io.EOF), failures, nil, true
		}
		if errors.Is(err, io.EOF) {
			return 0, true, failures, nil, true
		}
		failures++
		cause = err
		logger.Log.Debug("Stream read returned no data, retrying",
			"attempt", failures,
			"limit", s.cfg.StreamRetryLimit,
			"err", err,
		)
		if failures >= s.cfg.StreamRetryLimit {
			return 0, false, failures, cause, false
		}
		if !isTimeout(err) {
			s.cfg.Sleep(s.cfg.RetryDelay)
		}
	}
}

// writeAll pushes chunk through write, resuming at the unwritten offset after
// partial writes. Only consecutive zero-progress writes count against limit.
func (s *Session) writeAll(write func([]byte) (int, error), chunk []byte, limit int, side string) (retries int, cause error, ok bool) {
	off, failures := 0, 0
	for off < len(chunk) {
		n, err := write(chunk[off:])
		if n > len(chunk)-off {
			n = len(chunk) - off
		}
		if n > 0 {
			off += n
			failures = 0
			continue
		}
		failures++
		retries++
		cause = err
		logger.Log.Debug("Write made no progress, retrying",
			"side", side,
			"attempt", failures,
			"limit", limit,
			"pending", len(chunk)-off,
			"err", err,
		)
		if failures >= limit {
			return retries, cause, false
		}
		s.cfg.Sleep(s.cfg.RetryDelay)
	}
	return retries, nil, true
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
