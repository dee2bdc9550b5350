package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/google/uuid"
)

// ErrLockLost is returned by Unlock when the marker no longer carries the caller's token
var ErrLockLost = errors.New("store: lock marker is owned by another holder")

// Locker is an exclusive advisory lock with explicit ownership
type Locker interface {
	// Lock blocks until the lock is held, the context ends or the maximum wait
	// elapses. The returned token must be handed back to Unlock.
	Lock(ctx context.Context) (string, error)
	Unlock(ctx context.Context, token string) error
}

// WithLock runs fn while holding l. The lock is released even when fn fails.
func WithLock(ctx context.Context, l Locker, fn func() error) (err error) {
	token, err := l.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := l.Unlock(context.WithoutCancel(ctx), token); unlockErr != nil {
			slog.Error("Failed to release lock", "error", unlockErr)
			if err == nil {
				err = unlockErr
			}
		}
	}()
	return fn()
}

// lockMarker is the content of the lock file
type lockMarker struct {
	Token      string    `json:"token"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FileLock is a Locker backed by an atomically created marker file.
// Goroutines of the same process queue on an in-process semaphore before
// touching the marker, so the file only arbitrates between processes.
type FileLock struct {
	path string
	sem  chan struct{}
	host string

	PollInterval time.Duration
	MaxWait      time.Duration
	// StaleAfter bounds how long a marker is honoured after acquisition
	StaleAfter time.Duration
	// Grace is how old an unparseable marker must be before it is reclaimed;
	// a younger one may belong to a holder that is still writing it.
	Grace time.Duration

	Now      func() time.Time
	NewToken func() string
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewFileLock creates a lock whose marker lives at path
func NewFileLock(path string, pollInterval, maxWait, staleAfter time.Duration) *FileLock {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &FileLock{
		path:         path,
		sem:          make(chan struct{}, 1),
		host:         host,
		PollInterval: pollInterval,
		MaxWait:      maxWait,
		StaleAfter:   staleAfter,
		Grace:        2 * pollInterval,
		Now:          func() time.Time { return time.Now().UTC() },
		NewToken:     uuid.NewString,
		Sleep:        sleepContext,
	}
}

// Lock acquires the marker, polling at a fixed interval on conflict
func (l *FileLock) Lock(ctx context.Context) (string, error) {
	start := l.Now()
	wait := time.NewTimer(l.MaxWait)
	defer wait.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-wait.C:
		return "", l.conflict(start)
	}

	token := l.NewToken()
	for {
		acquired, err := l.tryCreate(token)
		if err != nil {
			<-l.sem
			return "", err
		}
		if acquired {
			return token, nil
		}

		if l.reclaimStale() {
			continue
		}

		if l.Now().Sub(start) >= l.MaxWait {
			<-l.sem
			return "", l.conflict(start)
		}
		if err := l.Sleep(ctx, l.PollInterval); err != nil {
			<-l.sem
			return "", err
		}
	}
}

// Unlock removes the marker when it still carries token
func (l *FileLock) Unlock(_ context.Context, token string) error {
	defer func() {
		select {
		case <-l.sem:
		default:
		}
	}()

	marker, err := l.readMarker()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrLockLost
		}
		return err
	}
	if marker.Token != token {
		return ErrLockLost
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove lock marker: %w", err)
	}
	return nil
}

func (l *FileLock) tryCreate(token string) (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: create lock marker: %w", err)
	}

	now := l.Now()
	data, _ := json.Marshal(lockMarker{
		Token:      token,
		Host:       l.host,
		PID:        os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.StaleAfter),
	})
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("store: write lock marker: %w", errors.Join(writeErr, closeErr))
	}
	return true, nil
}

// reclaimStale removes a marker that is expired or not a legitimate lock.
// It returns true when the caller should retry immediately.
func (l *FileLock) reclaimStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}

	now := l.Now()
	marker, err := l.readMarker()
	reason := ""
	switch {
	case err != nil || marker.Token == "":
		if now.Sub(info.ModTime()) < l.Grace {
			return false
		}
		reason = "inconsistent"
	case now.After(marker.ExpiresAt):
		reason = "expired"
	default:
		return false
	}

	if err := os.Remove(l.path); err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	slog.Warn("Reclaimed stale queue lock",
		"path", l.path,
		"reason", reason,
		"holder_host", marker.Host,
		"holder_pid", marker.PID,
		"expired_at", marker.ExpiresAt,
	)
	return true
}

func (l *FileLock) readMarker() (lockMarker, error) {
	var marker lockMarker
	data, err := os.ReadFile(l.path)
	if err != nil {
		return marker, err
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return marker, fmt.Errorf("store: decode lock marker: %w", err)
	}
	return marker, nil
}

func (l *FileLock) conflict(start time.Time) error {
	return apperr.LockConflict("queue lock is held by another operation", map[string]any{
		"path":     l.path,
		"waited":   l.Now().Sub(start).String(),
		"max_wait": l.MaxWait.String(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
