// Package fakeapi is an in-memory stand-in for the Taskly REST backend.
// Tests mount it with httptest; `taskly devserver` serves it for local
// development. It records every request and can inject failures.
package fakeapi

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/taskly-app/taskly/internal/schema"
)

// Options configures the fake server.
type Options struct {
	// Prefix is the route group the API lives under (default "/api").
	Prefix string

	// Token, when set, is required as a bearer token on every route but
	// /health.
	Token string

	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Body   schema.Record
	Status int
}

type failure struct {
	method    string
	path      string
	status    int
	remaining int
}

// Server is the fake backend.
type Server struct {
	mu       sync.Mutex
	tasks    map[string]schema.Record
	order    []string
	profile  schema.Record
	prefs    schema.Record
	requests []Request
	failures []*failure

	prefix string
	token  string
	clock  clockwork.Clock
	logger logrus.FieldLogger
	router *gin.Engine
}

// New creates a fake server with an empty task list and a default profile.
func New(opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = "/api"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		tasks:   make(map[string]schema.Record),
		profile: schema.Record{"id": "user-1", "name": "Taskly User", "email": "user@example.com"},
		prefs:   schema.Record{"defaultView": "month", "weekStartsOn": 1},
		prefix:  strings.TrimRight(opts.Prefix, "/"),
		token:   opts.Token,
		clock:   opts.Clock,
		logger:  opts.Logger,
		router:  router,
	}

	api := router.Group(s.prefix)
	api.Use(s.record, s.inject)
	api.GET("/health", s.handleHealth)

	authed := api.Group("")
	authed.Use(s.authenticate)
	{
		authed.GET("/tasks", s.handleListTasks)
		authed.POST("/tasks", s.handleCreateTask)
		authed.GET("/tasks/:id", s.handleGetTask)
		authed.PUT("/tasks/:id", s.handleUpdateTask)
		authed.DELETE("/tasks/:id", s.handleDeleteTask)

		authed.GET("/user/profile", s.handleGetProfile)
		authed.PUT("/user/profile", s.handleUpdateProfile)
		authed.GET("/user/calendar-preferences", s.handleGetPreferences)
		authed.PUT("/user/calendar-preferences", s.handleUpdatePreferences)

		authed.GET("/dashboard/stats", s.handleDashboardStats)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Prefix returns the route prefix, e.g. "/api".
func (s *Server) Prefix() string {
	return s.prefix
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Fail makes the next times requests matching method and path prefix
// (relative to the API prefix, e.g. "/tasks") answer with status.
func (s *Server) Fail(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, path: path, status: status, remaining: times})
}

// Requests returns every recorded request in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsMatching returns recorded requests with the method whose path
// starts with prefix (relative to the API prefix).
func (s *Server) RequestsMatching(method, prefix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// SeedTask stores a task directly, assigning an id and timestamps when
// missing. Returns the stored copy.
func (s *Server) SeedTask(r schema.Record) schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTask(r)
}

// Task returns a stored task.
func (s *Server) Task(id string) (schema.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Tasks returns every stored task in creation order.
func (s *Server) Tasks() []schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listTasks("", "")
}

// Profile returns the stored user profile.
func (s *Server) Profile() schema.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

func (s *Server) relative(path string) string {
	return strings.TrimPrefix(path, s.prefix)
}

// record logs each request with its decoded body and final status.
func (s *Server) record(c *gin.Context) {
	var body schema.Record
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err == nil && len(data) > 0 {
			c.Request.Body = io.NopCloser(bytes.NewReader(data))
			body, _ = schema.RecordFromJSON(data)
		}
	}

	c.Next()

	req := Request{
		Method: c.Request.Method,
		Path:   s.relative(c.Request.URL.Path),
		Body:   body,
		Status: c.Writer.Status(),
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.Path,
		"status": req.Status,
	}).Debug("fake api request")
}

func (s *Server) inject(c *gin.Context) {
	path := s.relative(c.Request.URL.Path)

	s.mu.Lock()
	var hit *failure
	for _, f := range s.failures {
		if f.remaining > 0 && f.method == c.Request.Method && strings.HasPrefix(path, f.path) {
			f.remaining--
			hit = f
			break
		}
	}
	s.mu.Unlock()

	if hit != nil {
		c.AbortWithStatusJSON(hit.status, gin.H{"message": "injected failure"})
		return
	}
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Not authorized"})
		return
	}
	c.Next()
}
