// Package dashboard serves a live view of the offline-sync core: a
// WebSocket feed of notifications, the current sync status, and the
// Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/metrics"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus carries the current sync status. Sent on connect.
	MessageTypeStatus MessageType = "status"

	// MessageTypeNotification carries a user-visible notification.
	MessageTypeNotification MessageType = "notification"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc reports the current status as a JSON-encodable value.
type StatusFunc func(ctx context.Context) (any, error)

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string
	// Port to listen on; 0 picks a free port.
	Port int

	Status  StatusFunc
	Metrics *metrics.Metrics

	Logger logrus.FieldLogger
	Clock  clockwork.Clock
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8787,
	}
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	status  StatusFunc
	metrics *metrics.Metrics

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logrus.FieldLogger
	clock  clockwork.Clock
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, fmt.Sprint(config.Port)),
		status:    config.Status,
		metrics:   config.Metrics,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		clock:     clock,
	}
}

// Handler returns the HTTP routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins the HTTP server and the broadcast loop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.StartBroadcasting()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.WithField("addr", ln.Addr().String()).Info("dashboard listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("dashboard server error")
		}
	}()

	return nil
}

// StartBroadcasting runs the broadcast loop alone, for callers serving
// Handler themselves.
func (s *Server) StartBroadcasting() {
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Debug("stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Debug("dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = s.clock.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithError(err).Warn("failed to marshal dashboard message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.WithError(err).Debug("failed to send to dashboard client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// The welcome status goes out before the client joins the broadcast
	// set so it is always the first frame.
	if welcome, err := s.statusMessage(r.Context()); err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, welcome)
		cancel()
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.WithField("clients", clientCount).Debug("dashboard client connected")

	s.readLoop(conn)
}

func (s *Server) statusMessage(ctx context.Context) ([]byte, error) {
	msg := Message{Type: MessageTypeStatus, Timestamp: s.clock.Now()}
	if s.status != nil {
		st, err := s.status(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// readLoop keeps the connection open until the client leaves.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.WithField("clients", clientCount).Debug("dashboard client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "status not available"})
		return
	}
	st, err := s.status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Taskly Dashboard</title>
</head>
<body>
    <h1>Taskly Sync Dashboard</h1>
    <p>Notifications: <code>ws://%s/ws</code></p>
    <p>Sync status: <a href="/status">/status</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
