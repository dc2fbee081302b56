package ftpd

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

var (
	errNoDataConn  = errors.New("no data connection requested")
	errForeignPeer = errors.New("data connection must come from the control peer")
)

func addrIP(a net.Addr) net.IP {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// fromPeer reports whether ip is the host on the control connection. Data
// connections to or from anyone else are refused (RFC 2577 bounce).
func (s *session) fromPeer(ip net.IP) bool {
	return s.peerIP != nil && ip != nil && ip.Equal(s.peerIP)
}

// listenPassive opens a data listener on ip within [min, max], or on any
// port when the range is unset.
func listenPassive(ip net.IP, min, max int) (net.Listener, error) {
	if min <= 0 || max < min {
		return net.Listen("tcp", net.JoinHostPort(ip.String(), "0"))
	}
	span := max - min + 1
	start := rand.Intn(span)
	var lastErr error
	for i := 0; i < span; i++ {
		port := min + (start+i)%span
		ln, err := net.Listen("tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free passive port in %d-%d: %w", min, max, lastErr)
}

// parsePortArg reads the PORT argument h1,h2,h3,h4,p1,p2.
func parsePortArg(arg string) (string, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("bad PORT argument %q", arg)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("bad PORT argument %q", arg)
		}
		nums[i] = n
	}
	ip := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	return net.JoinHostPort(ip, strconv.Itoa(nums[4]<<8|nums[5])), nil
}

func formatPasv(ip net.IP, port int) string {
	ip4 := ip.To4()
	return fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		ip4[0], ip4[1], ip4[2], ip4[3], port>>8, port&0xff)
}

// openData returns the data connection prepared by the last PASV, EPSV or
// PORT command. Each preparation serves one transfer.
func (s *session) openData() (net.Conn, error) {
	switch {
	case s.pasv != nil:
		ln := s.pasv
		s.pasv = nil
		defer ln.Close()
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(dataTimeout))
		}
		for {
			conn, err := ln.Accept()
			if err != nil {
				return nil, err
			}
			if s.fromPeer(addrIP(conn.RemoteAddr())) {
				return conn, nil
			}
			logger.Log.Warn("Rejected data connection from foreign host", "remote", s.remote, "from", conn.RemoteAddr().String())
			conn.Close()
		}
	case s.activeAddr != "":
		addr := s.activeAddr
		s.activeAddr = ""
		return net.DialTimeout("tcp", addr, dataTimeout)
	}
	return nil, errNoDataConn
}

func (s *session) resetData() {
	if s.pasv != nil {
		s.pasv.Close()
		s.pasv = nil
	}
	s.activeAddr = ""
}
