package stun

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/pion/stun/v2"
)

const DefaultServer = "stun.l.google.com:19302"

// Client discovers the public address this host is seen from, which the
// FTP server advertises in passive mode when it sits behind NAT.
type Client struct {
	serverAddr      string
	currentEndpoint string
	mu              sync.RWMutex
	lastQuery       time.Time
}

type EndpointInfo struct {
	PublicEndpoint string
	IP             net.IP
	Port           int
	Changed        bool
}

func NewClient(serverAddr string) *Client {
	if serverAddr == "" {
		serverAddr = DefaultServer
	}
	return &Client{
		serverAddr: serverAddr,
	}
}

func (s *Client) CurrentEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentEndpoint
}

// PublicHost returns the IP part of the last discovered endpoint.
func (s *Client) PublicHost() string {
	host, _, err := net.SplitHostPort(s.CurrentEndpoint())
	if err != nil {
		return ""
	}
	return host
}

func (s *Client) LastQuery() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuery
}

func (s *Client) QueryEndpoint() (*EndpointInfo, error) {
	conn, err := net.Dial("udp4", s.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial STUN server: %w", err)
	}
	defer conn.Close()
	client, err := stun.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create STUN client: %w", err)
	}
	defer client.Close()
	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	var xorAddr stun.XORMappedAddress
	var queryErr error
	err = client.Do(message, func(res stun.Event) {
		if res.Error != nil {
			queryErr = res.Error
			return
		}
		if err := xorAddr.GetFrom(res.Message); err != nil {
			queryErr = fmt.Errorf("failed to get XOR mapped address: %w", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("STUN query failed: %w", err)
	}
	if queryErr != nil {
		return nil, queryErr
	}
	endpoint := net.JoinHostPort(xorAddr.IP.String(), fmt.Sprint(xorAddr.Port))
	s.mu.Lock()
	changed := s.currentEndpoint != endpoint
	if changed {
		s.currentEndpoint = endpoint
		logger.Log.Info("STUN endpoint discovered", "endpoint", endpoint, "server", s.serverAddr)
	}
	s.lastQuery = time.Now()
	s.mu.Unlock()

	return &EndpointInfo{
		PublicEndpoint: endpoint,
		IP:             xorAddr.IP,
		Port:           xorAddr.Port,
		Changed:        changed,
	}, nil
}

func (s *Client) StartPeriodicQuery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if _, err := s.QueryEndpoint(); err != nil {
		logger.Log.Warn("Initial STUN query failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.QueryEndpoint(); err != nil {
				logger.Log.Warn("Periodic STUN query failed", "err", err)
			}
		}
	}
}
