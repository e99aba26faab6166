package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/pkg/logger"
)

// CleanupResult reports how many records a cleanup pass touched.
type CleanupResult struct {
	ExpiredLocks int64 `json:"expired_locks"`
	OldStates    int64 `json:"old_states"`
	// OldHashes counts hash records; they are never deleted. Expiring
	// them would change dedup semantics for long-lived content, so
	// retention stays an open question rather than a silent fix.
	OldHashes int64 `json:"old_hashes"`
}

// Cleanup reaps expired locks and processing states past the retention
// window. Safe to run concurrently with normal traffic and with other
// cleanup passes: each lock deletion re-checks its expiry under the
// document's mutex at execution time.
func (c *Coordinator) Cleanup(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}
	now := c.now()

	expired, err := c.repo.Locks.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired locks: %w", err)
	}
	for _, documentID := range expired {
		removed, err := c.reapLock(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if removed {
			result.ExpiredLocks++
		}
	}

	result.OldStates, err = c.repo.States.DeleteOlderThan(ctx, now.Add(-c.stateRetention))
	if err != nil {
		return nil, fmt.Errorf("deleting old processing states: %w", err)
	}

	result.OldHashes, err = c.repo.Hashes.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting hash records: %w", err)
	}

	log, _ := logger.GetZapLogger(ctx)
	log.Info("cleanup_completed",
		zap.Int64("expiredLocks", result.ExpiredLocks),
		zap.Int64("oldStates", result.OldStates),
		zap.Int64("oldHashes", result.OldHashes))

	return result, nil
}

func (c *Coordinator) reapLock(ctx context.Context, documentID string) (bool, error) {
	release := c.keys.lock(documentID)
	defer release()

	lock, err := c.repo.Locks.Get(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("re-reading lock record: %w", err)
	}
	// The lock may have been released or re-acquired since the scan.
	if lock == nil || !lock.Expired(c.now()) {
		return false, nil
	}
	if err := c.repo.Locks.Delete(ctx, documentID); err != nil {
		return false, fmt.Errorf("deleting expired lock: %w", err)
	}
	return true, nil
}
