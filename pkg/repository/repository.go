package repository

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Repository bundles the three per-document stores the coordinator owns.
// The lock table and the content-hash index live in redis (per-key
// atomicity), the processing states in postgres.
type Repository struct {
	Locks  LockStore
	Hashes HashStore
	States StateStore
}

// NewRepository wires the production store implementations.
func NewRepository(db *gorm.DB, redisClient *redis.Client) *Repository {
	return &Repository{
		Locks:  NewRedisLockStore(redisClient),
		Hashes: NewRedisHashStore(redisClient),
		States: NewStateStore(db),
	}
}

// NewMemoryRepository wires the in-memory store implementations, used in
// tests and single-node runs without external services.
func NewMemoryRepository() *Repository {
	return &Repository{
		Locks:  NewMemoryLockStore(),
		Hashes: NewMemoryHashStore(),
		States: NewMemoryStateStore(),
	}
}
