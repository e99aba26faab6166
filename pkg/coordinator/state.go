package coordinator

import (
	"context"
	"fmt"
	"time"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/repository"
)

// StateUpdate is a partial processing-state update. Nil fields keep their
// stored values; LastUpdatedAt is always server-assigned and cannot be
// supplied by the caller.
type StateUpdate struct {
	DocumentID  string                       `json:"document_id"`
	Status      *repository.ProcessingStatus `json:"status,omitempty"`
	Progress    *repository.Progress         `json:"progress,omitempty"`
	StartedAt   *time.Time                   `json:"started_at,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Error       *string                      `json:"error,omitempty"`
}

// UpdateState shallow-merges the update over the stored record, or starts a
// fresh record when none exists. A terminal record only accepts updates that
// begin a fresh processing cycle (a new StartedAt). Lock possession is not
// checked here: workers update state while holding the lock by convention.
func (c *Coordinator) UpdateState(ctx context.Context, update StateUpdate) (*repository.ProcessingState, error) {
	release := c.keys.lock(update.DocumentID)
	defer release()

	now := c.now()

	state, err := c.repo.States.Get(ctx, update.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("reading processing state: %w", err)
	}
	if state == nil {
		state = &repository.ProcessingState{
			DocumentID: update.DocumentID,
			Status:     repository.StatusQueued,
			StartedAt:  now,
		}
	} else if state.Status.Terminal() && update.StartedAt == nil {
		return nil, fmt.Errorf("document %s: %w", update.DocumentID, errorsx.ErrStateTerminal)
	}

	if update.StartedAt != nil {
		// Fresh processing cycle: the update replaces the terminal
		// record's outcome fields rather than inheriting them.
		state.StartedAt = *update.StartedAt
		state.CompletedAt = nil
		state.Error = ""
	}
	if update.Status != nil {
		state.Status = *update.Status
	}
	if update.Progress != nil {
		progress := *update.Progress
		state.ProgressUnmarshal = &progress
	}
	if update.CompletedAt != nil {
		completed := *update.CompletedAt
		state.CompletedAt = &completed
	}
	if update.Error != nil {
		state.Error = *update.Error
	}
	state.LastUpdatedAt = now

	if err := c.repo.States.Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("writing processing state: %w", err)
	}

	c.notifier.StateChanged(ctx, state)

	return state, nil
}

// GetState returns the stored processing state, or nil when the document
// has never been processed (or cleanup reaped its record).
func (c *Coordinator) GetState(ctx context.Context, documentID string) (*repository.ProcessingState, error) {
	state, err := c.repo.States.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("reading processing state: %w", err)
	}
	return state, nil
}
