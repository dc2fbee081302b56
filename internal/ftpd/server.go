package ftpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/service"
	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const (
	// PublicHostSTUN as Options.PublicHost advertises the STUN-discovered address.
	PublicHostSTUN = "stun"

	defaultIdleTimeout = 5 * time.Minute
	dataTimeout        = 30 * time.Second
)

type Options struct {
	// User and Password are required from clients when User is set.
	User     string
	Password string
	// PasvMin and PasvMax bound passive ports; zero lets the kernel choose.
	PasvMin     int
	PasvMax     int
	PublicHost  string
	IdleTimeout time.Duration
	// WriteTimeout bounds each data connection write. A write that times
	// out counts as a stalled write for the transfer retry budget.
	WriteTimeout time.Duration
	Transfer     transfer.Config
}

// HostSource reports the public IP the server is reachable on.
type HostSource interface {
	PublicHost() string
}

type Server struct {
	opts  Options
	vol   *volume.Volume
	svc   *service.Service
	pool  *transfer.BufferPool
	hosts HostSource

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(opts Options, vol *volume.Volume, svc *service.Service) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Transfer.ChunkSize <= 0 {
		opts.Transfer = transfer.DefaultConfig()
	}
	return &Server{
		opts:     opts,
		vol:      vol,
		svc:      svc,
		pool:     transfer.NewBufferPool(opts.Transfer.ChunkSize),
		sessions: make(map[*session]struct{}),
	}
}

func (s *Server) SetHostSource(h HostSource) {
	s.hosts = h
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ftp listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts control connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	logger.Log.Info("FTP server listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("ftp accept: %w", err)
		}
		sess := newSession(s, conn)
		if !s.track(sess) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.serve()
		}()
	}
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, drops every session and waits for them to end.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Log.Info("FTP server stopped")
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers sess. wg.Add happens under mu, before Close can wait.
func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// passiveIP picks the address announced in PASV replies.
func (s *Server) passiveIP(local net.IP) net.IP {
	host := s.opts.PublicHost
	if host == PublicHostSTUN {
		host = ""
		if s.hosts != nil {
			host = s.hosts.PublicHost()
		}
	}
	if host == "" {
		return local
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		logger.Log.Warn("Cannot resolve FTP public host, using local address", "host", host, "err", err)
		return local
	}
	return addr.IP
}
