package ftpd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const maxCommandLine = 1024

type session struct {
	srv    *Server
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	remote string
	peerIP net.IP
	task   *volume.Task

	user       string
	loggedIn   bool
	pasv       net.Listener
	activeAddr string
	renameFrom string
	quit       bool
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, maxCommandLine),
		w:      bufio.NewWriter(conn),
		remote: conn.RemoteAddr().String(),
		peerIP: addrIP(conn.RemoteAddr()),
	}
}

func (s *session) serve() {
	defer s.conn.Close()
	defer s.resetData()

	task, err := s.srv.vol.Enter()
	if err != nil {
		logger.Log.Warn("FTP session refused", "remote", s.remote, "err", err)
		s.reply(421, "Too many sessions, try again later")
		return
	}
	s.task = task
	defer task.Release()

	logger.Log.Info("Starting FTP session", "remote", s.remote, "task", task.ID())
	s.reply(220, "Cardhost FTP server ready")

	for !s.quit {
		s.conn.SetReadDeadline(time.Now().Add(s.srv.opts.IdleTimeout))
		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Log.Debug("FTP control connection ended", "remote", s.remote, "err", err)
			}
			break
		}
		if line == "" {
			continue
		}
		verb, arg, _ := strings.Cut(line, " ")
		s.dispatch(strings.ToUpper(verb), strings.TrimSpace(arg))
	}
	logger.Log.Info("FTP session ended", "remote", s.remote)
}

// readLine returns the next command without its line terminator. Overlong
// lines are discarded up to the next newline.
func (s *session) readLine() (string, error) {
	line, err := s.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		s.reply(500, "Command line too long")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (s *session) reply(code int, format string, args ...any) {
	fmt.Fprintf(s.w, "%d %s\r\n", code, fmt.Sprintf(format, args...))
	if err := s.w.Flush(); err != nil {
		logger.Log.Debug("FTP reply failed", "remote", s.remote, "err", err)
	}
}

// replyLines sends a multi-line reply: first and last line carry the code.
func (s *session) replyLines(code int, first string, lines []string, last string) {
	fmt.Fprintf(s.w, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.w, " %s\r\n", l)
	}
	s.reply(code, "%s", last)
}

// replyErr answers a failed volume operation with the card error name.
func (s *session) replyErr(code int, name string, err error) {
	s.reply(code, "%s: %s", name, volume.CodeOf(err))
}
