package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QueueLockName is the lock document guarding the job queue
const QueueLockName = "jobs"

// LockRepository is a store.Locker backed by a MongoDB document, for
// deployments where several processes share one data directory over a
// network filesystem that does not honour exclusive create.
type LockRepository struct {
	collection *mongo.Collection
	name       string
	host       string
	sem        chan struct{}

	mu   sync.Mutex
	held map[string]struct{}

	PollInterval time.Duration
	MaxWait      time.Duration
	TTL          time.Duration
}

// NewLockRepository creates a lock on the named document
func NewLockRepository(db *MongoDB, name string, pollInterval, maxWait, ttl time.Duration) *LockRepository {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &LockRepository{
		collection:   db.GetCollection(CollectionQueueLocks),
		name:         name,
		host:         host,
		sem:          make(chan struct{}, 1),
		held:         make(map[string]struct{}),
		PollInterval: pollInterval,
		MaxWait:      maxWait,
		TTL:          ttl,
	}
}

// Lock polls AcquireLock until it succeeds or the maximum wait elapses
func (r *LockRepository) Lock(ctx context.Context) (string, error) {
	start := time.Now()
	wait := time.NewTimer(r.MaxWait)
	defer wait.Stop()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-wait.C:
		return "", r.conflict(start)
	}

	token := uuid.NewString()
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		acquired, err := r.AcquireLock(ctx, token)
		if err != nil {
			<-r.sem
			return "", err
		}
		if acquired {
			return token, nil
		}
		select {
		case <-ticker.C:
		case <-wait.C:
			<-r.sem
			return "", r.conflict(start)
		case <-ctx.Done():
			<-r.sem
			return "", ctx.Err()
		}
	}
}

// Unlock releases the lock when token still owns it
func (r *LockRepository) Unlock(ctx context.Context, token string) error {
	defer func() {
		select {
		case <-r.sem:
		default:
		}
	}()

	released, err := r.ReleaseLock(ctx, token)
	if err != nil {
		return err
	}
	if !released {
		return store.ErrLockLost
	}
	return nil
}

// AcquireLock attempts a single atomic acquisition. An existing document that
// has not expired makes the upsert collide on _id, which means the lock is held.
func (r *LockRepository) AcquireLock(ctx context.Context, token string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"_id":        r.name,
		"expires_at": bson.M{"$lt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"token":      token,
			"locked_by":  r.host,
			"locked_at":  now,
			"expires_at": now.Add(r.TTL),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.QueueLock
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire queue lock: %w", err)
	}
	if result.Token != token {
		return false, nil
	}
	r.track(token)

	slog.Debug("Acquired queue lock", "name", r.name, "host", r.host, "expires_at", result.ExpiresAt)
	return true, nil
}

// ReleaseLock deletes the lock document only when token owns it
func (r *LockRepository) ReleaseLock(ctx context.Context, token string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": r.name, "token": token})
	if err != nil {
		return false, fmt.Errorf("failed to release queue lock: %w", err)
	}
	r.forget(token)
	return result.DeletedCount > 0, nil
}

// ReleaseAllLocks drops the locks this instance still holds. Called on
// shutdown. Locks taken by other processes on the same host are left alone.
func (r *LockRepository) ReleaseAllLocks(ctx context.Context) error {
	filter := r.releaseAllFilter()
	if filter == nil {
		return nil
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release all locks: %w", err)
	}
	r.mu.Lock()
	clear(r.held)
	r.mu.Unlock()

	if result.DeletedCount > 0 {
		slog.Info("Released queue locks during shutdown", "host", r.host, "count", result.DeletedCount)
	}
	return nil
}

// releaseAllFilter matches the lock document only under a token this instance
// acquired. It returns nil when nothing is held.
func (r *LockRepository) releaseAllFilter() bson.M {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.held) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(r.held))
	for token := range r.held {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return bson.M{"_id": r.name, "token": bson.M{"$in": tokens}}
}

func (r *LockRepository) track(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		r.held = make(map[string]struct{})
	}
	r.held[token] = struct{}{}
}

func (r *LockRepository) forget(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, token)
}

func (r *LockRepository) conflict(start time.Time) error {
	return apperr.LockConflict("queue lock is held by another operation", map[string]any{
		"backend":  "mongo",
		"name":     r.name,
		"waited":   time.Since(start).String(),
		"max_wait": r.MaxWait.String(),
	})
}
