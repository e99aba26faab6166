package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessingStatus is the lifecycle status of one document's pipeline run.
type ProcessingStatus string

const (
	StatusQueued     ProcessingStatus = "queued"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusCancelled  ProcessingStatus = "cancelled"
)

// Terminal reports whether the status ends a processing cycle. Terminal
// states are only replaced by a fresh cycle, never mutated in place.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress tracks step-level completion within one processing cycle.
type Progress struct {
	CurrentStep    string `json:"current_step"`
	StepsCompleted int    `json:"steps_completed"`
	TotalSteps     int    `json:"total_steps"`
	Percentage     int    `json:"percentage"`
}

// ProcessingState is the resumable progress record for one document.
// LastUpdatedAt is always server-assigned at write time.
type ProcessingState struct {
	DocumentID        string           `gorm:"column:document_id;primaryKey;size:255" json:"document_id"`
	Status            ProcessingStatus `gorm:"column:status;size:32;not null" json:"status"`
	Progress          datatypes.JSON   `gorm:"column:progress;type:jsonb" json:"-"`
	ProgressUnmarshal *Progress        `gorm:"-" json:"progress,omitempty"`
	StartedAt         time.Time        `gorm:"column:started_at;not null" json:"started_at"`
	LastUpdatedAt     time.Time        `gorm:"column:last_updated_at;not null" json:"last_updated_at"`
	CompletedAt       *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Error             string           `gorm:"column:error;size:2048" json:"error,omitempty"`
}

// TableName overrides the gorm table name.
func (ProcessingState) TableName() string {
	return "processing_states"
}

// ProgressUnmarshalFunc decodes the jsonb progress column into
// ProgressUnmarshal. An empty column leaves it nil.
func (s *ProcessingState) ProgressUnmarshalFunc() error {
	if len(s.Progress) == 0 {
		s.ProgressUnmarshal = nil
		return nil
	}
	var p Progress
	if err := json.Unmarshal(s.Progress, &p); err != nil {
		return err
	}
	s.ProgressUnmarshal = &p
	return nil
}

// ProgressMarshal encodes ProgressUnmarshal into the jsonb progress column.
// A nil ProgressUnmarshal produces an empty object.
func (s *ProcessingState) ProgressMarshal() error {
	if s.ProgressUnmarshal == nil {
		s.Progress = datatypes.JSON("{}")
		return nil
	}
	data, err := json.Marshal(s.ProgressUnmarshal)
	if err != nil {
		return err
	}
	s.Progress = datatypes.JSON(data)
	return nil
}

// table columns map
type ProcessingStateColumns struct {
	DocumentID    string
	Status        string
	Progress      string
	StartedAt     string
	LastUpdatedAt string
	CompletedAt   string
	Error         string
}

var ProcessingStateColumn = ProcessingStateColumns{
	DocumentID:    "document_id",
	Status:        "status",
	Progress:      "progress",
	StartedAt:     "started_at",
	LastUpdatedAt: "last_updated_at",
	CompletedAt:   "completed_at",
	Error:         "error",
}

// StateStore persists processing states. Get returns nil without error when
// no record exists.
type StateStore interface {
	Get(ctx context.Context, documentID string) (*ProcessingState, error)
	Upsert(ctx context.Context, state *ProcessingState) error
	// DeleteOlderThan removes states whose last update precedes the cutoff
	// and returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type stateStore struct {
	db *gorm.DB
}

// NewStateStore returns a StateStore backed by postgres.
func NewStateStore(db *gorm.DB) StateStore {
	return &stateStore{db: db}
}

func (s *stateStore) Get(ctx context.Context, documentID string) (*ProcessingState, error) {
	var state ProcessingState
	err := s.db.WithContext(ctx).
		Where(ProcessingStateColumn.DocumentID+" = ?", documentID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := state.ProgressUnmarshalFunc(); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *stateStore) Upsert(ctx context.Context, state *ProcessingState) error {
	if err := state.ProgressMarshal(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(state).Error
}

func (s *stateStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where(ProcessingStateColumn.LastUpdatedAt+" < ?", cutoff).
		Delete(&ProcessingState{})
	return result.RowsAffected, result.Error
}
