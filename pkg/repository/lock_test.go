package repository

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestDocumentLock_Expired(t *testing.T) {
	c := qt.New(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lock := DocumentLock{ExpiresAt: now.Add(time.Minute)}
	c.Check(lock.Expired(now), qt.IsFalse)
	c.Check(lock.Expired(now.Add(time.Minute)), qt.IsTrue)
	c.Check(lock.Expired(now.Add(2*time.Minute)), qt.IsTrue)
}

func TestMemoryLockStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := NewMemoryLockStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lock, err := store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(lock, qt.IsNil)

	err = store.Set(ctx, &DocumentLock{
		DocumentID: "doc-1",
		LockID:     "lock-1",
		LockType:   LockTypeProcessing,
		WorkerID:   "worker-a",
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Minute),
	})
	c.Assert(err, qt.IsNil)
	err = store.Set(ctx, &DocumentLock{
		DocumentID: "doc-2",
		LockID:     "lock-2",
		WorkerID:   "worker-b",
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Hour),
	})
	c.Assert(err, qt.IsNil)

	lock, err = store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Assert(lock, qt.IsNotNil)
	c.Check(lock.LockID, qt.Equals, "lock-1")

	expired, err := store.ListExpired(ctx, now.Add(2*time.Minute))
	c.Assert(err, qt.IsNil)
	c.Check(expired, qt.DeepEquals, []string{"doc-1"})

	err = store.Delete(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	lock, err = store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(lock, qt.IsNil)
}

func TestMemoryHashStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := NewMemoryHashStore()

	owner, claimed, err := store.Claim(ctx, "hash-a", "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(claimed, qt.IsTrue)
	c.Check(owner, qt.Equals, "doc-1")

	// Second claimant loses and learns the owner.
	owner, claimed, err = store.Claim(ctx, "hash-a", "doc-2")
	c.Assert(err, qt.IsNil)
	c.Check(claimed, qt.IsFalse)
	c.Check(owner, qt.Equals, "doc-1")

	owner, err = store.Owner(ctx, "hash-a")
	c.Assert(err, qt.IsNil)
	c.Check(owner, qt.Equals, "doc-1")

	count, err := store.Count(ctx)
	c.Assert(err, qt.IsNil)
	c.Check(count, qt.Equals, int64(1))
}
