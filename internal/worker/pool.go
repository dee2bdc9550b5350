package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/google/uuid"
)

// Pool runs background tasks on a fixed number of goroutines. Tasks share a
// context that is cancelled when Stop gives up waiting for them.
type Pool struct {
	workers  int
	tasks    chan Task
	statuses *model.TaskStatusStore

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool creates a pool with the given number of workers and backlog size
func NewPool(workers, backlog int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  workers,
		tasks:    make(chan Task, backlog),
		statuses: model.NewTaskStatusStore(100),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	slog.Info("Starting worker pool", "workers", p.workers, "backlog", cap(p.tasks))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop refuses new tasks and waits for queued and running tasks until ctx
// ends, at which point running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	slog.Info("Stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for background tasks, cancelling them")
		p.cancel()
		<-done
	}
	p.cancel()
}

// Submit queues task without blocking and returns its id
func (p *Pool) Submit(task Task) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return "", ErrPoolStopped
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	status := model.TaskStatus{
		ID:          task.ID,
		Name:        task.Name,
		Status:      model.TaskQueued,
		SubmittedAt: time.Now().UTC(),
	}

	select {
	case p.tasks <- task:
		p.statuses.Set(status)
		slog.Debug("Task submitted to worker pool", "task_id", task.ID, "task", task.Name)
		return task.ID, nil
	default:
		return "", ErrPoolFull
	}
}

// Status returns the recorded status of a task
func (p *Pool) Status(id string) (model.TaskStatus, bool) {
	return p.statuses.Get(id)
}

// Backlog returns the number of tasks waiting for a worker
func (p *Pool) Backlog() int {
	return len(p.tasks)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(id, task)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}

func (p *Pool) run(workerID int, task Task) {
	status, _ := p.statuses.Get(task.ID)
	status.ID, status.Name = task.ID, task.Name
	status.Status = model.TaskProcessing
	p.statuses.Set(status)

	start := time.Now()
	result, err := p.execute(task)
	finished := time.Now().UTC()

	status.FinishedAt = &finished
	status.Result = result
	if err != nil {
		status.Status = model.TaskFailed
		status.Error = err.Error()
		slog.Error("Background task failed",
			"worker_id", workerID,
			"task_id", task.ID,
			"task", task.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	} else {
		status.Status = model.TaskCompleted
		slog.Info("Background task completed",
			"worker_id", workerID,
			"task_id", task.ID,
			"task", task.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	p.statuses.Set(status)
}

// execute isolates a panicking task from the worker
func (p *Pool) execute(task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Background task panicked", "task_id", task.ID, "panic", r)
			err = panicError{value: r}
		}
	}()
	return task.Run(p.ctx)
}

type panicError struct{ value any }

func (e panicError) Error() string {
	return fmt.Sprintf("worker: task panicked: %v", e.value)
}
