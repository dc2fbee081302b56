package stun

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v2"
)

// serveBinding answers one binding request with the sender's address.
func serveBinding(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			udp := addr.(*net.UDPAddr)
			res, err := stun.Build(req, stun.BindingSuccess,
				&stun.XORMappedAddress{IP: udp.IP, Port: udp.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			pc.WriteTo(res.Raw, addr)
		}
	}()
	return pc.LocalAddr().String()
}

func TestQueryEndpoint(t *testing.T) {
	c := NewClient(serveBinding(t))
	info, err := c.QueryEndpoint()
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !info.Changed || !info.IP.Equal(net.IPv4(127, 0, 0, 1)) || info.Port == 0 {
		t.Fatalf("unexpected endpoint %+v", info)
	}
	if c.PublicHost() != "127.0.0.1" || c.CurrentEndpoint() != info.PublicEndpoint {
		t.Fatalf("endpoint not stored: %q", c.CurrentEndpoint())
	}
	if time.Since(c.LastQuery()) > time.Minute {
		t.Fatal("last query time not updated")
	}
}

func TestDefaults(t *testing.T) {
	c := NewClient("")
	if c.serverAddr != DefaultServer {
		t.Fatalf("expected default server, got %q", c.serverAddr)
	}
	if c.PublicHost() != "" {
		t.Fatal("no endpoint before first query")
	}
}
