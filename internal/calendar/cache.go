package calendar

import (
	"sync"

	"github.com/taskly-app/taskly/internal/schema"
)

// Cache is an ordered, id-keyed task cache. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	tasks map[string]schema.Task
	order []string
}

// NewCache creates a cache holding tasks.
func NewCache(tasks []schema.Task) *Cache {
	c := &Cache{}
	c.Set(tasks)
	return c
}

// Set replaces the whole content.
func (c *Cache) Set(tasks []schema.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks = make(map[string]schema.Task, len(tasks))
	c.order = make([]string, 0, len(tasks))
	for _, t := range tasks {
		c.putLocked(t)
	}
}

// Put inserts or replaces one task. New tasks go to the end.
func (c *Cache) Put(t schema.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(t)
}

func (c *Cache) putLocked(t schema.Task) {
	if c.tasks == nil {
		c.tasks = make(map[string]schema.Task)
	}
	if _, ok := c.tasks[t.ID]; !ok {
		c.order = append(c.order, t.ID)
	}
	c.tasks[t.ID] = t
}

// Rename moves a task to a new id in place, keeping its position. A task
// already cached under the new id is replaced.
func (c *Cache) Rename(oldID string, t schema.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[oldID]; !ok || oldID == t.ID {
		c.putLocked(t)
		return
	}
	if _, ok := c.tasks[t.ID]; ok {
		c.removeLocked(t.ID)
	}
	delete(c.tasks, oldID)
	for i, id := range c.order {
		if id == oldID {
			c.order[i] = t.ID
		}
	}
	c.tasks[t.ID] = t
}

// Remove deletes a task. Missing ids are ignored.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *Cache) removeLocked(id string) {
	if _, ok := c.tasks[id]; !ok {
		return
	}
	delete(c.tasks, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get returns one task.
func (c *Cache) Get(id string) (schema.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

// List returns the tasks in insertion order.
func (c *Cache) List() []schema.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]schema.Task, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tasks[id])
	}
	return out
}

// Len returns the number of tasks.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// IDs returns the ids in insertion order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
