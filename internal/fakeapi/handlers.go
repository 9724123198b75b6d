package fakeapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskly-app/taskly/internal/schema"
)

// stripBookkeeping removes client-side markers a real backend ignores.
func stripBookkeeping(r schema.Record) schema.Record {
	out := r.Clone()
	delete(out, schema.FieldOffline)
	delete(out, schema.FieldDeleted)
	delete(out, schema.FieldTimestamp)
	delete(out, schema.FieldMongoID)
	return out
}

// insertTask stores r. Caller holds mu.
func (s *Server) insertTask(r schema.Record) schema.Record {
	out := stripBookkeeping(r)
	if out.ID() == "" || schema.IsTempID(out.ID()) {
		out.SetID(uuid.NewString())
	}
	now := s.clock.Now().UTC().Format(timeLayout)
	if out.String(schema.FieldCreatedAt) == "" {
		out[schema.FieldCreatedAt] = now
	}
	if out.String(schema.FieldUpdatedAt) == "" {
		out[schema.FieldUpdatedAt] = now
	}
	if out.String(schema.FieldStatus) == "" {
		out[schema.FieldStatus] = schema.StatusTodo
	}
	if _, exists := s.tasks[out.ID()]; !exists {
		s.order = append(s.order, out.ID())
	}
	s.tasks[out.ID()] = out
	return out.Clone()
}

// listTasks returns tasks in creation order. Caller holds mu.
func (s *Server) listTasks(status, priority string) []schema.Record {
	out := []schema.Record{}
	for _, id := range s.order {
		r, ok := s.tasks[id]
		if !ok {
			continue
		}
		if status != "" && r.String("status") != status {
			continue
		}
		if priority != "" && r.String("priority") != priority {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	s.mu.Lock()
	tasks := s.listTasks(c.Query("status"), c.Query("priority"))
	s.mu.Unlock()

	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var body schema.Record
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON: " + err.Error()})
		return
	}
	if body.String("title") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title is required"})
		return
	}
	delete(body, schema.FieldID)
	delete(body, schema.FieldUpdatedAt)
	delete(body, schema.FieldCreatedAt)

	s.mu.Lock()
	task := s.insertTask(body)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	s.mu.Lock()
	task, ok := s.tasks[c.Param("id")]
	if ok {
		task = task.Clone()
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var body schema.Record
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON: " + err.Error()})
		return
	}
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
		return
	}

	updated := existing.Merge(stripBookkeeping(body))
	updated.SetID(id)
	updated[schema.FieldCreatedAt] = existing[schema.FieldCreatedAt]
	updated[schema.FieldUpdatedAt] = s.clock.Now().UTC().Format(timeLayout)
	s.tasks[id] = updated

	c.JSON(http.StatusOK, updated.Clone())
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted", "id": id})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	c.JSON(http.StatusOK, s.Profile())
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var body schema.Record
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON: " + err.Error()})
		return
	}

	s.mu.Lock()
	id := s.profile.ID()
	s.profile = s.profile.Merge(stripBookkeeping(body))
	s.profile.SetID(id)
	out := s.profile.Clone()
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	s.mu.Lock()
	out := s.prefs.Clone()
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUpdatePreferences(c *gin.Context) {
	var body schema.Record
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid JSON: " + err.Error()})
		return
	}

	s.mu.Lock()
	s.prefs = s.prefs.Merge(body)
	out := s.prefs.Clone()
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDashboardStats(c *gin.Context) {
	s.mu.Lock()
	byStatus := map[string]int{}
	for _, r := range s.tasks {
		byStatus[r.String("status")]++
	}
	total := len(s.tasks)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"totalTasks":      total,
		"completedTasks":  byStatus[schema.StatusDone],
		"inProgressTasks": byStatus[schema.StatusInProgress],
		"todoTasks":       byStatus[schema.StatusTodo],
	})
}
