package repository

import (
	"context"
	"sync"
	"time"
)

// In-memory store implementations. Used by tests and by single-node runs
// that skip redis/postgres. They mirror the persistence semantics of the
// production stores, including logical (unreaped) lock expiry.

type memoryLockStore struct {
	mu    sync.RWMutex
	locks map[string]DocumentLock
}

// NewMemoryLockStore returns an in-memory LockStore.
func NewMemoryLockStore() LockStore {
	return &memoryLockStore{locks: make(map[string]DocumentLock)}
}

func (s *memoryLockStore) Get(_ context.Context, documentID string) (*DocumentLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[documentID]
	if !ok {
		return nil, nil
	}
	copied := lock
	return &copied, nil
}

func (s *memoryLockStore) Set(_ context.Context, lock *DocumentLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[lock.DocumentID] = *lock
	return nil
}

func (s *memoryLockStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, documentID)
	return nil
}

func (s *memoryLockStore) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []string
	for id, lock := range s.locks {
		if lock.Expired(now) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

type memoryHashStore struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryHashStore returns an in-memory HashStore.
func NewMemoryHashStore() HashStore {
	return &memoryHashStore{owners: make(map[string]string)}
}

func (s *memoryHashStore) Claim(_ context.Context, hash, documentID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.owners[hash]; ok {
		return owner, false, nil
	}
	s.owners[hash] = documentID
	return documentID, true, nil
}

func (s *memoryHashStore) Owner(_ context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[hash], nil
}

func (s *memoryHashStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.owners)), nil
}

type memoryStateStore struct {
	mu     sync.RWMutex
	states map[string]ProcessingState
}

// NewMemoryStateStore returns an in-memory StateStore.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{states: make(map[string]ProcessingState)}
}

func (s *memoryStateStore) Get(_ context.Context, documentID string) (*ProcessingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[documentID]
	if !ok {
		return nil, nil
	}
	copied := state
	if copied.ProgressUnmarshal != nil {
		progress := *state.ProgressUnmarshal
		copied.ProgressUnmarshal = &progress
	}
	return &copied, nil
}

func (s *memoryStateStore) Upsert(_ context.Context, state *ProcessingState) error {
	if err := state.ProgressMarshal(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	if state.ProgressUnmarshal != nil {
		progress := *state.ProgressUnmarshal
		copied.ProgressUnmarshal = &progress
	}
	s.states[state.DocumentID] = copied
	return nil
}

func (s *memoryStateStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, state := range s.states {
		if state.LastUpdatedAt.Before(cutoff) {
			delete(s.states, id)
			removed++
		}
	}
	return removed, nil
}
