package worker

import (
	"context"
	"errors"
)

var (
	// ErrPoolFull is returned by Submit when the backlog is at capacity
	ErrPoolFull = errors.New("worker: task backlog is full")
	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker: pool is stopped")
)

// TaskFunc does the work of a task. The returned value is kept as the task result.
type TaskFunc func(ctx context.Context) (any, error)

// Task is a unit of background work
type Task struct {
	ID   string
	Name string
	Run  TaskFunc
}
