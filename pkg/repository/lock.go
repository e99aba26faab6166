package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockType describes why a document is locked.
type LockType string

const (
	LockTypeProcessing LockType = "processing"
	LockTypeUpdating   LockType = "updating"
	LockTypeDeleting   LockType = "deleting"
)

// DocumentLock is the mutual-exclusion record for one document. At most one
// unexpired record exists per document id; the coordinator enforces this
// through its per-document serialization, not through the store.
type DocumentLock struct {
	DocumentID string    `json:"document_id"`
	LockID     string    `json:"lock_id"`
	LockType   LockType  `json:"lock_type"`
	WorkerID   string    `json:"worker_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed at the given instant.
// An expired record counts as unlocked even before cleanup reaps it.
func (l *DocumentLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// LockStore persists document lock records. Get returns nil without error
// when no record exists.
type LockStore interface {
	Get(ctx context.Context, documentID string) (*DocumentLock, error)
	Set(ctx context.Context, lock *DocumentLock) error
	Delete(ctx context.Context, documentID string) error
	// ListExpired returns the document ids whose lock records expired at or
	// before now. Used by cleanup; deletion re-checks expiry at execution
	// time.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}

const lockKeyPrefix = "doc-lock:"

func lockKey(documentID string) string {
	return lockKeyPrefix + documentID
}

type redisLockStore struct {
	client *redis.Client
}

// NewRedisLockStore returns a LockStore backed by redis. Records carry a
// logical expiry only; expired records remain visible until cleanup so that
// held-duration and conflict diagnostics survive the TTL.
func NewRedisLockStore(client *redis.Client) LockStore {
	return &redisLockStore{client: client}
}

func (s *redisLockStore) Get(ctx context.Context, documentID string) (*DocumentLock, error) {
	data, err := s.client.Get(ctx, lockKey(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var lock DocumentLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *redisLockStore) Set(ctx context.Context, lock *DocumentLock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, lockKey(lock.DocumentID), data, 0).Err()
}

func (s *redisLockStore) Delete(ctx context.Context, documentID string) error {
	return s.client.Del(ctx, lockKey(documentID)).Err()
}

func (s *redisLockStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	iter := s.client.Scan(ctx, 0, lockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var lock DocumentLock
		if err := json.Unmarshal(data, &lock); err != nil {
			continue
		}
		if lock.Expired(now) {
			expired = append(expired, lock.DocumentID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}
