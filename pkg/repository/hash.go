package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// HashStore maps a content hash to the document id that first claimed it.
// First writer wins: a claim against an owned hash never overwrites.
type HashStore interface {
	// Claim records documentID as the owner of hash if the hash is
	// unclaimed. It returns the resulting owner and whether this call
	// performed the claim.
	Claim(ctx context.Context, hash, documentID string) (owner string, claimed bool, err error)
	// Owner returns the owning document id, or "" when unclaimed.
	Owner(ctx context.Context, hash string) (string, error)
	// Count returns the number of hash records. Cleanup reports this
	// count; hash records are currently never expired.
	Count(ctx context.Context) (int64, error)
}

const hashKeyPrefix = "content-hash:"

func hashKey(hash string) string {
	return hashKeyPrefix + hash
}

type redisHashStore struct {
	client *redis.Client
}

// NewRedisHashStore returns a HashStore backed by redis SETNX, which gives
// first-writer-wins without blocking when two unrelated documents race on
// the same hash.
func NewRedisHashStore(client *redis.Client) HashStore {
	return &redisHashStore{client: client}
}

func (s *redisHashStore) Claim(ctx context.Context, hash, documentID string) (string, bool, error) {
	claimed, err := s.client.SetNX(ctx, hashKey(hash), documentID, 0).Result()
	if err != nil {
		return "", false, err
	}
	if claimed {
		return documentID, true, nil
	}
	owner, err := s.Owner(ctx, hash)
	if err != nil {
		return "", false, err
	}
	if owner == "" {
		// The owner record vanished between SETNX and GET; treat the
		// caller as the new owner.
		return s.Claim(ctx, hash, documentID)
	}
	return owner, false, nil
}

func (s *redisHashStore) Owner(ctx context.Context, hash string) (string, error) {
	owner, err := s.client.Get(ctx, hashKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return owner, nil
}

func (s *redisHashStore) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, hashKeyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
