package repository

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// test ProgressUnmarshalFunc, when the column holds a document
func TestProcessingState_ProgressUnmarshal(t *testing.T) {
	c := qt.New(t)

	s := ProcessingState{Progress: []byte(`{"current_step":"embedding","steps_completed":2,"total_steps":4,"percentage":62}`)}
	err := s.ProgressUnmarshalFunc()
	c.Check(err, qt.IsNil)
	c.Assert(s.ProgressUnmarshal, qt.IsNotNil)
	c.Check(s.ProgressUnmarshal.CurrentStep, qt.Equals, "embedding")
	c.Check(s.ProgressUnmarshal.Percentage, qt.Equals, 62)
}

// test ProgressUnmarshalFunc, when the column is empty
func TestProcessingState_ProgressUnmarshal_Empty(t *testing.T) {
	c := qt.New(t)

	s := ProcessingState{}
	err := s.ProgressUnmarshalFunc()
	c.Check(err, qt.IsNil)
	c.Check(s.ProgressUnmarshal, qt.IsNil)
}

// test ProgressMarshal when ProgressUnmarshal is nil
func TestProcessingState_ProgressMarshal_Nil(t *testing.T) {
	c := qt.New(t)

	s := ProcessingState{}
	err := s.ProgressMarshal()
	c.Check(err, qt.IsNil)
	c.Check(string(s.Progress), qt.Equals, "{}")
}

func TestProcessingStatus_Terminal(t *testing.T) {
	c := qt.New(t)

	c.Check(StatusQueued.Terminal(), qt.IsFalse)
	c.Check(StatusProcessing.Terminal(), qt.IsFalse)
	c.Check(StatusCompleted.Terminal(), qt.IsTrue)
	c.Check(StatusFailed.Terminal(), qt.IsTrue)
	c.Check(StatusCancelled.Terminal(), qt.IsTrue)
}

func TestMemoryStateStore(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := NewMemoryStateStore()

	state, err := store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state, qt.IsNil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = store.Upsert(ctx, &ProcessingState{
		DocumentID:        "doc-1",
		Status:            StatusProcessing,
		ProgressUnmarshal: &Progress{CurrentStep: "chunking", Percentage: 25},
		StartedAt:         now,
		LastUpdatedAt:     now,
	})
	c.Assert(err, qt.IsNil)

	state, err = store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Assert(state, qt.IsNotNil)
	c.Check(state.Status, qt.Equals, StatusProcessing)
	c.Assert(state.ProgressUnmarshal, qt.IsNotNil)
	c.Check(state.ProgressUnmarshal.CurrentStep, qt.Equals, "chunking")

	// Mutating the returned record must not leak into the store.
	state.ProgressUnmarshal.Percentage = 99
	again, err := store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(again.ProgressUnmarshal.Percentage, qt.Equals, 25)

	// Retention delete removes only records older than the cutoff.
	err = store.Upsert(ctx, &ProcessingState{
		DocumentID:    "doc-2",
		Status:        StatusCompleted,
		StartedAt:     now.Add(time.Hour),
		LastUpdatedAt: now.Add(time.Hour),
	})
	c.Assert(err, qt.IsNil)

	deleted, err := store.DeleteOlderThan(ctx, now.Add(30*time.Minute))
	c.Assert(err, qt.IsNil)
	c.Check(deleted, qt.Equals, int64(1))

	state, err = store.Get(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state, qt.IsNil)
	state, err = store.Get(ctx, "doc-2")
	c.Assert(err, qt.IsNil)
	c.Check(state, qt.IsNotNil)
}
