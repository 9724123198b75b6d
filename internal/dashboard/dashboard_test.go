package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/taskly-app/taskly/internal/logging"
	"github.com/taskly-app/taskly/internal/metrics"
	"github.com/taskly-app/taskly/internal/notify"
)

type testStatus struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

func startServer(t *testing.T, status StatusFunc, m *metrics.Metrics) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:    0,
		Status:  status,
		Metrics: m,
		Logger:  logging.Discard(),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: logging.Discard()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Errorf("GetAddr() = %q, want the bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocket_WelcomeAndNotifications(t *testing.T) {
	status := func(ctx context.Context) (any, error) {
		return testStatus{Online: false, Pending: 2}, nil
	}
	server := startServer(t, status, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	var welcome Message
	if err := json.Unmarshal(data, &welcome); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if welcome.Type != MessageTypeStatus {
		t.Errorf("welcome type = %s, want %s", welcome.Type, MessageTypeStatus)
	}
	var st testStatus
	if err := json.Unmarshal(welcome.Data, &st); err != nil || st.Pending != 2 {
		t.Errorf("welcome status = %+v (%v)", st, err)
	}

	waitForClients(t, server, 1)
	server.Notify(notify.Notification{
		Kind:    notify.KindOffline,
		Level:   notify.Warning,
		Title:   "Working Offline",
		Message: "Changes will sync when you're back online",
		Time:    time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	})

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read notification: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeNotification {
		t.Fatalf("message type = %s, want %s", msg.Type, MessageTypeNotification)
	}
	var n notify.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatalf("Failed to unmarshal notification: %v", err)
	}
	if n.Kind != notify.KindOffline || n.Title != "Working Offline" {
		t.Errorf("notification = %+v", n)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numClients = 3
	clients := make([]*websocket.Conn, numClients)
	for i := range clients {
		conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("client %d: failed to read welcome: %v", i, err)
		}
		clients[i] = conn
	}
	waitForClients(t, server, numClients)

	server.Notify(notify.Notification{Kind: notify.KindSync, Title: "Sync complete"})

	for i, conn := range clients {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("client %d: failed to read broadcast: %v", i, err)
		}
		if !strings.Contains(string(data), "Sync complete") {
			t.Errorf("client %d: got %s", i, data)
		}
	}

	clients[0].Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, numClients-1)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHTTPEndpoints(t *testing.T) {
	m := metrics.New()
	m.SetQueueDepth(4)
	status := func(ctx context.Context) (any, error) {
		return testStatus{Online: true, Pending: 4}, nil
	}
	server := startServer(t, status, m)
	base := "http://" + server.GetAddr()

	code, body := get(t, base+"/health")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("/health = %d %s", code, body)
	}

	code, body = get(t, base+"/status")
	if code != http.StatusOK || !strings.Contains(body, `"pending":4`) {
		t.Errorf("/status = %d %s", code, body)
	}

	code, body = get(t, base+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "taskly_sync_queue_depth 4") {
		t.Errorf("/metrics = %d, missing queue depth", code)
	}

	code, _ = get(t, base+"/nope")
	if code != http.StatusNotFound {
		t.Errorf("/nope = %d, want 404", code)
	}
}

func TestStatusUnavailable(t *testing.T) {
	server := startServer(t, nil, nil)
	code, _ := get(t, "http://"+server.GetAddr()+"/status")
	if code != http.StatusNotFound {
		t.Errorf("/status without a status func = %d, want 404", code)
	}
}
