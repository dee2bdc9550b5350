package model

import (
	"sync"
	"time"
)

// Task states
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// TaskStatus represents the status of a background task
type TaskStatus struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TaskStatusStore is an in-memory store for task statuses. It keeps at most
// limit entries and evicts the oldest first.
type TaskStatusStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskStatus
	order []string
	limit int
}

// NewTaskStatusStore creates a new task status store
func NewTaskStatusStore(limit int) *TaskStatusStore {
	if limit <= 0 {
		limit = 100
	}
	return &TaskStatusStore{
		tasks: make(map[string]*TaskStatus),
		limit: limit,
	}
}

// Set stores a copy of status
func (s *TaskStatusStore) Set(status TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[status.ID]; !exists {
		s.order = append(s.order, status.ID)
		for len(s.order) > s.limit {
			delete(s.tasks, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.tasks[status.ID] = &status
}

// Get retrieves a copy of a task status
func (s *TaskStatusStore) Get(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, false
	}
	return *status, true
}
