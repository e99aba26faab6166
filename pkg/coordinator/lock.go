package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/metrics"
	"github.com/docuflow/ingest-backend/pkg/repository"
)

// Lock grant actions.
const (
	LockActionAcquired = "acquired"
	LockActionExtended = "extended"
)

// LockGrant is the successful result of an acquire.
type LockGrant struct {
	Lock   repository.DocumentLock `json:"lock"`
	Action string                  `json:"action"`
}

// ConflictError reports the competing holder when an acquire is rejected.
// It unwraps to errors.ErrLockConflict so callers can classify it.
type ConflictError struct {
	Holder repository.DocumentLock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s locked by worker %s until %s",
		e.Holder.DocumentID, e.Holder.WorkerID, e.Holder.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return errorsx.ErrLockConflict
}

// AcquireLock grants a mutually-exclusive processing lock on documentID.
// A worker that already holds the lock gets its expiry extended rather than
// a duplicate record. A competing unexpired holder yields a ConflictError;
// the coordinator never retries on the caller's behalf.
func (c *Coordinator) AcquireLock(ctx context.Context, documentID string, lockType repository.LockType, ttl time.Duration, workerID string) (*LockGrant, error) {
	release := c.keys.lock(documentID)
	defer release()

	if ttl <= 0 {
		ttl = c.lockTTL
	}
	now := c.now()

	existing, err := c.repo.Locks.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("reading lock record: %w", err)
	}

	if existing != nil && !existing.Expired(now) {
		if existing.WorkerID != workerID {
			metrics.LockConflictsTotal.Inc()
			return nil, &ConflictError{Holder: *existing}
		}
		// Same worker re-acquiring: extend, never duplicate.
		existing.ExpiresAt = now.Add(ttl)
		existing.LockType = lockType
		if err := c.repo.Locks.Set(ctx, existing); err != nil {
			return nil, fmt.Errorf("extending lock record: %w", err)
		}
		return &LockGrant{Lock: *existing, Action: LockActionExtended}, nil
	}

	lockID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	lock := repository.DocumentLock{
		DocumentID: documentID,
		LockID:     lockID.String(),
		LockType:   lockType,
		WorkerID:   workerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := c.repo.Locks.Set(ctx, &lock); err != nil {
		return nil, fmt.Errorf("writing lock record: %w", err)
	}

	log, _ := logger.GetZapLogger(ctx)
	log.Info("lock_acquired",
		zap.String("documentID", documentID),
		zap.String("lockID", lock.LockID),
		zap.String("lockType", string(lockType)),
		zap.String("workerID", workerID),
		zap.Duration("ttl", ttl))

	return &LockGrant{Lock: lock, Action: LockActionAcquired}, nil
}

// ReleaseLock deletes the lock record if the caller owns it. A mismatched
// lock id or worker id leaves the record untouched so a stale worker can
// never unlock another's claim.
func (c *Coordinator) ReleaseLock(ctx context.Context, documentID, lockID, workerID string) error {
	release := c.keys.lock(documentID)
	defer release()

	existing, err := c.repo.Locks.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("reading lock record: %w", err)
	}
	if existing == nil {
		return errorsx.ErrLockNotFound
	}
	if existing.LockID != lockID || existing.WorkerID != workerID {
		return errorsx.ErrLockNotOwned
	}
	if err := c.repo.Locks.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("deleting lock record: %w", err)
	}

	log, _ := logger.GetZapLogger(ctx)
	log.Info("lock_released",
		zap.String("documentID", documentID),
		zap.String("lockID", lockID),
		zap.String("workerID", workerID),
		zap.Duration("heldFor", c.now().Sub(existing.AcquiredAt)))

	return nil
}

// CheckLock reports whether documentID is currently locked. An expired
// record that cleanup has not yet reaped counts as unlocked.
func (c *Coordinator) CheckLock(ctx context.Context, documentID string) (*repository.DocumentLock, error) {
	release := c.keys.lock(documentID)
	defer release()

	existing, err := c.repo.Locks.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("reading lock record: %w", err)
	}
	if existing == nil || existing.Expired(c.now()) {
		return nil, nil
	}
	return existing, nil
}
