package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/gorilla/websocket"
)

type fakeSource struct{}

func (fakeSource) Snapshot() (models.DirectorySnapshot, error) {
	return models.DirectorySnapshot{
		DeviceID:  "dev",
		Directory: models.DirectoryInfo{TotalFiles: 2, TotalSize: 10},
	}, nil
}

func (fakeSource) GetHostMetrics() *models.HostMetrics {
	return &models.HostMetrics{Hostname: "card-host"}
}

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub("dev")
	hub.RegisterDefaultHandlers(fakeSource{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Upgrade(w, r)
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readType(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg rawMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("waiting for %s: %v", want, err)
	}
	if msg.Type != want {
		t.Fatalf("expected %s, got %s", want, msg.Type)
	}
	return msg.Payload
}

func waitConnected(t *testing.T, hub *Hub, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Connected() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected connected=%v", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubHelloAndRequests(t *testing.T) {
	hub, url := newTestHub(t)
	if hub.Broadcast(models.Message{Type: "ignored"}) {
		t.Fatal("broadcast without a browser must report false")
	}
	conn := dial(t, url)

	var hello models.FeedHello
	if err := json.Unmarshal(readType(t, conn, models.FeedMsgHello), &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.DeviceID != "dev" || hello.ConnectionID == "" {
		t.Fatalf("unexpected hello %+v", hello)
	}

	conn.WriteJSON(models.Message{Type: models.BrowserMsgMetricsRequest})
	var metrics models.HostMetrics
	json.Unmarshal(readType(t, conn, models.FeedMsgHostMetrics), &metrics)
	if metrics.Hostname != "card-host" {
		t.Fatalf("unexpected metrics %+v", metrics)
	}

	conn.WriteJSON(models.Message{Type: models.BrowserMsgSnapshotRequest})
	var snap models.DirectorySnapshot
	json.Unmarshal(readType(t, conn, models.FeedMsgVolumeSnapshot), &snap)
	if snap.Directory.TotalFiles != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if !hub.Broadcast(models.Message{Type: models.FeedMsgTransferStatus, Payload: map[string]string{"outcome": "completed"}}) {
		t.Fatal("broadcast to a connected browser failed")
	}
	readType(t, conn, models.FeedMsgTransferStatus)
}

func TestHubReplacesPriorConnection(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, url)
	readType(t, first, models.FeedMsgHello)

	second := dial(t, url)
	readType(t, second, models.FeedMsgHello)

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected the prior connection to be closed")
	}

	hub.Broadcast(models.Message{Type: models.FeedMsgHostMetrics})
	readType(t, second, models.FeedMsgHostMetrics)

	second.Close()
	waitConnected(t, hub, false)
}
