package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/google/uuid"
)

// QueueObserver receives queue depth changes and lock wait times;
// metrics.Metrics implements it
type QueueObserver interface {
	SetQueueDepth(n int)
	ObserveLockWait(d time.Duration)
}

// JobQueue is the durable FIFO-with-priority list of pending jobs plus the
// single current-job slot. Every mutation is a locked read-modify-write of
// the whole state.
type JobQueue struct {
	dir      *Dir
	lock     Locker
	observer QueueObserver
	now      func() time.Time
}

// NewJobQueue creates a queue persisted in dir and guarded by lock
func NewJobQueue(dir *Dir, lock Locker) *JobQueue {
	return &JobQueue{
		dir:  dir,
		lock: lock,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers a depth observer
func (q *JobQueue) SetObserver(o QueueObserver) {
	q.observer = o
}

// Enqueue appends job and returns the new queue length. Missing ids and
// creation times are filled in.
func (q *JobQueue) Enqueue(ctx context.Context, job model.Job) (int, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	var length int
	err := q.Update(ctx, func(state *model.QueueState) error {
		state.Jobs = append(state.Jobs, job)
		length = len(state.Jobs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("Job enqueued",
		"job_id", job.ID,
		"job_type", job.Type,
		"source", job.Source,
		"queue_length", length,
	)
	return length, nil
}

// Peek returns the head of the queue without removing it
func (q *JobQueue) Peek(ctx context.Context) (*model.Job, error) {
	state := q.load()
	if len(state.Jobs) == 0 {
		return nil, nil
	}
	job := state.Jobs[0]
	return &job, nil
}

// Pop removes and returns the head of the queue
func (q *JobQueue) Pop(ctx context.Context) (*model.Job, error) {
	var head *model.Job
	err := q.Update(ctx, func(state *model.QueueState) error {
		if len(state.Jobs) == 0 {
			return nil
		}
		job := state.Jobs[0]
		head = &job
		state.Jobs = state.Jobs[1:]
		return nil
	})
	return head, err
}

// Prioritize moves every job matching pred to the front. Relative order is
// preserved within the matched and the unmatched jobs.
func (q *JobQueue) Prioritize(ctx context.Context, pred func(model.Job) bool) (int, error) {
	moved := 0
	err := q.Update(ctx, func(state *model.QueueState) error {
		var matched, rest []model.Job
		for _, job := range state.Jobs {
			if pred(job) {
				matched = append(matched, job)
			} else {
				rest = append(rest, job)
			}
		}
		moved = len(matched)
		state.Jobs = append(matched, rest...)
		return nil
	})
	return moved, err
}

// List returns a copy of the queued jobs
func (q *JobQueue) List(ctx context.Context) ([]model.Job, error) {
	return q.load().Jobs, nil
}

// Len returns the number of queued jobs
func (q *JobQueue) Len(ctx context.Context) int {
	return len(q.load().Jobs)
}

// HasQueued reports whether a queued job matches pred
func (q *JobQueue) HasQueued(ctx context.Context, pred func(model.Job) bool) bool {
	for _, job := range q.load().Jobs {
		if pred(job) {
			return true
		}
	}
	return false
}

// Current returns the in-flight job, if any
func (q *JobQueue) Current(ctx context.Context) (*model.CurrentJob, error) {
	return q.load().Current, nil
}

// ClearCurrent empties the current-job slot and returns what it held
func (q *JobQueue) ClearCurrent(ctx context.Context) (*model.CurrentJob, error) {
	var previous *model.CurrentJob
	err := q.Update(ctx, func(state *model.QueueState) error {
		previous = state.Current
		state.Current = nil
		return nil
	})
	return previous, err
}

// Update runs fn on the durable state while holding the queue lock and
// persists the result. Nothing is written when fn fails.
func (q *JobQueue) Update(ctx context.Context, fn func(state *model.QueueState) error) error {
	start := time.Now()
	return WithLock(ctx, q.lock, func() error {
		if q.observer != nil {
			q.observer.ObserveLockWait(time.Since(start))
		}
		state := q.load()
		before := len(state.Jobs)
		hadCurrent := state.Current != nil

		if err := fn(&state); err != nil {
			return err
		}

		// write-ahead: the slot is persisted before the job disappears from the list
		if state.Current != nil || hadCurrent {
			if err := q.saveCurrent(state.Current); err != nil {
				return err
			}
		}
		if err := q.dir.WriteJSON(FileJobs, nonNilJobs(state.Jobs), true); err != nil {
			return err
		}

		if q.observer != nil && before != len(state.Jobs) {
			q.observer.SetQueueDepth(len(state.Jobs))
		}
		return nil
	})
}

// Recover resolves a current-job slot left behind by a crash. A slot whose
// job is still queued was never dispatched and is cleared. Otherwise read-only
// jobs are put back at the front and adjustment jobs are returned to the
// caller as lost, since re-sending them could apply a delta twice.
func (q *JobQueue) Recover(ctx context.Context) (*model.Job, error) {
	var lost *model.Job
	err := q.Update(ctx, func(state *model.QueueState) error {
		if state.Current == nil {
			return nil
		}
		current := state.Current.Job
		state.Current = nil

		for _, job := range state.Jobs {
			if job.ID == current.ID {
				slog.Info("Cleared undispatched current job", "job_id", current.ID)
				return nil
			}
		}

		if current.Type == model.JobTypeInventoryAdjust {
			slog.Warn("Dropping unconfirmed adjustment job after restart",
				"job_id", current.ID,
				"skus", current.SKUs,
			)
			lost = &current
			return nil
		}

		slog.Info("Re-queued unconfirmed job after restart",
			"job_id", current.ID,
			"job_type", current.Type,
		)
		state.Jobs = append([]model.Job{current}, state.Jobs...)
		return nil
	})
	return lost, err
}

func (q *JobQueue) load() model.QueueState {
	var state model.QueueState
	if _, err := q.dir.ReadJSON(FileJobs, &state.Jobs); err != nil {
		slog.Error("Failed to load job queue, treating as empty", "error", err)
		state.Jobs = nil
	}
	var current model.CurrentJob
	found, err := q.dir.ReadJSON(FileCurrentJob, &current)
	if err != nil {
		slog.Error("Failed to load current job, treating as unset", "error", err)
	} else if found && current.Job.ID != "" {
		state.Current = &current
	}
	return state
}

func (q *JobQueue) saveCurrent(current *model.CurrentJob) error {
	if current == nil {
		if err := q.dir.Remove(FileCurrentJob); err != nil {
			return fmt.Errorf("store: clear current job: %w", err)
		}
		return nil
	}
	return q.dir.WriteJSON(FileCurrentJob, current, true)
}

func nonNilJobs(jobs []model.Job) []model.Job {
	if jobs == nil {
		return []model.Job{}
	}
	return jobs
}
