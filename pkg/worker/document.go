package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/pkg/coordinator"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/repository"
	"github.com/docuflow/ingest-backend/pkg/service"
)

// Pipeline steps in order. Percentage anchors: entering preprocessing is 0,
// chunking 25, embedding 50, then per-chunk progress runs linearly to 90,
// and completion is 100.
const (
	stepPreprocessing = "preprocessing"
	stepChunking      = "chunking"
	stepEmbedding     = "embedding"
	stepCompleted     = "completed"

	pipelineTotalSteps = 4

	// lockExtendEvery is how many chunks are processed between lock
	// lifetime extensions.
	lockExtendEvery = 10
)

// DocumentProcessor runs the ingestion pipeline for a single document. It
// also handles update and delete messages, which share the lock and
// artifact-invalidation machinery.
type DocumentProcessor struct {
	coord    *coordinator.Coordinator
	collab   service.Collaborators
	workerID string
	lockTTL  time.Duration
}

// NewDocumentProcessor wires the pipeline to its coordinator and external
// collaborators. A non-positive lockTTL defers to the coordinator default.
func NewDocumentProcessor(coord *coordinator.Coordinator, collab service.Collaborators, workerID string, lockTTL time.Duration) *DocumentProcessor {
	return &DocumentProcessor{
		coord:    coord,
		collab:   collab,
		workerID: workerID,
		lockTTL:  lockTTL,
	}
}

// ContentHash is the dedup identity of a document's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (p *DocumentProcessor) Process(ctx context.Context, msg *queue.Message) (*ProcessingResult, error) {
	switch msg.Type {
	case queue.TypeDocumentIngestion:
		return p.ingest(ctx, msg.DocumentIngestion)
	case queue.TypeDocumentUpdate:
		return p.ingest(ctx, &queue.DocumentIngestionPayload{
			DocumentID:     msg.DocumentUpdate.DocumentID,
			Content:        msg.DocumentUpdate.Content,
			Metadata:       msg.DocumentUpdate.Metadata,
			ForceReprocess: true,
		})
	case queue.TypeDocumentDelete:
		return p.delete(ctx, msg.DocumentDelete)
	default:
		return nil, fmt.Errorf("document processor: unexpected message type %q", msg.Type)
	}
}

func (p *DocumentProcessor) ingest(ctx context.Context, payload *queue.DocumentIngestionPayload) (*ProcessingResult, error) {
	log, _ := logger.GetZapLogger(ctx)
	start := time.Now()
	docID := payload.DocumentID

	grant, err := p.coord.AcquireLock(ctx, docID, repository.LockTypeProcessing, p.lockTTL, p.workerID)
	if err != nil {
		// Another worker owns the document right now. Retrying later
		// is correct: the lock expires or is released.
		return failureResult(start, "LOCK_CONFLICT", err, errorsx.IsRetryable(err)), nil
	}

	hash := ContentHash(payload.Content)
	dedup, err := p.coord.Deduplicate(ctx, docID, hash)
	if err != nil {
		return p.fail(ctx, start, docID, grant, "DEDUP_FAILED", err), nil
	}
	if dedup.IsDuplicate && !payload.ForceReprocess {
		p.releaseLock(ctx, docID, grant)
		log.Info("duplicate_skipped",
			zap.String("documentID", docID),
			zap.String("existingDocumentID", dedup.ExistingDocumentID))
		result := successResult(start)
		result.Metadata = map[string]string{
			"skipped":              "duplicate",
			"existing_document_id": dedup.ExistingDocumentID,
		}
		return result, nil
	}

	if err := p.setProgress(ctx, docID, &start, repository.StatusProcessing, stepPreprocessing, 0, 0); err != nil {
		return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
	}
	content := service.CleanText(payload.Content)

	if err := p.setProgress(ctx, docID, nil, repository.StatusProcessing, stepChunking, 1, 25); err != nil {
		return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
	}
	chunks := service.SplitChunks(content, payload.ChunkSize)

	if err := p.setProgress(ctx, docID, nil, repository.StatusProcessing, stepEmbedding, 2, 50); err != nil {
		return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
	}

	embeddings := 0
	for i, chunk := range chunks {
		// Long documents outlive the initial TTL; extend while we
		// still hold the lock.
		if i > 0 && i%lockExtendEvery == 0 {
			if _, err := p.coord.AcquireLock(ctx, docID, repository.LockTypeProcessing, p.lockTTL, p.workerID); err != nil {
				return p.fail(ctx, start, docID, grant, "LOCK_EXTEND_FAILED", err), nil
			}
		}
		redacted, err := p.collab.Redactor.Redact(ctx, chunk)
		if err != nil {
			return p.fail(ctx, start, docID, grant, "DLP_FAILED", err), nil
		}
		vectors, err := p.collab.Embedder.Embed(ctx, []string{redacted})
		if err != nil {
			return p.fail(ctx, start, docID, grant, "EMBED_FAILED", err), nil
		}
		key := service.ChunkKey(docID, i)
		if err := p.collab.Blobs.PutChunk(ctx, key, []byte(redacted), payload.Metadata); err != nil {
			return p.fail(ctx, start, docID, grant, "BLOB_FAILED", err), nil
		}
		entry := service.VectorEntry{
			ID:         fmt.Sprintf("%s-%05d", docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			Vector:     vectors[0],
			Metadata:   payload.Metadata,
		}
		if err := p.collab.Vectors.Upsert(ctx, []service.VectorEntry{entry}); err != nil {
			return p.fail(ctx, start, docID, grant, "VECTOR_FAILED", err), nil
		}
		embeddings++

		// Linear from 50 to 90 across the chunk loop.
		pct := 50 + (i+1)*40/len(chunks)
		if err := p.setProgress(ctx, docID, nil, repository.StatusProcessing, stepEmbedding, 2, pct); err != nil {
			return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
		}
	}

	completedAt := time.Now()
	status := repository.StatusCompleted
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID:  docID,
		Status:      &status,
		CompletedAt: &completedAt,
		Progress: &repository.Progress{
			CurrentStep:    stepCompleted,
			StepsCompleted: pipelineTotalSteps,
			TotalSteps:     pipelineTotalSteps,
			Percentage:     100,
		},
	}); err != nil {
		return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
	}

	p.releaseLock(ctx, docID, grant)

	log.Info("document_ingested",
		zap.String("documentID", docID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)))

	result := successResult(start)
	result.ChunksProcessed = len(chunks)
	result.EmbeddingsGenerated = embeddings
	return result, nil
}

// delete removes a document's chunks and vectors and closes its state. A
// fresh delete cycle replaces any terminal record.
func (p *DocumentProcessor) delete(ctx context.Context, payload *queue.DocumentDeletePayload) (*ProcessingResult, error) {
	start := time.Now()
	docID := payload.DocumentID

	grant, err := p.coord.AcquireLock(ctx, docID, repository.LockTypeDeleting, p.lockTTL, p.workerID)
	if err != nil {
		return failureResult(start, "LOCK_CONFLICT", err, errorsx.IsRetryable(err)), nil
	}

	if err := p.collab.Blobs.DeleteDocument(ctx, docID); err != nil {
		return p.fail(ctx, start, docID, grant, "BLOB_FAILED", err), nil
	}
	if err := p.collab.Vectors.DeleteDocument(ctx, docID); err != nil {
		return p.fail(ctx, start, docID, grant, "VECTOR_FAILED", err), nil
	}

	now := time.Now()
	status := repository.StatusCancelled
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID:  docID,
		Status:      &status,
		StartedAt:   &start,
		CompletedAt: &now,
	}); err != nil {
		return p.fail(ctx, start, docID, grant, "STATE_FAILED", err), nil
	}

	p.releaseLock(ctx, docID, grant)
	return successResult(start), nil
}

// setProgress writes one pipeline checkpoint. startedAt is non-nil only on
// the first checkpoint of a cycle, where it resets any prior terminal
// record.
func (p *DocumentProcessor) setProgress(ctx context.Context, docID string, startedAt *time.Time, status repository.ProcessingStatus, step string, stepsDone, pct int) error {
	_, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID: docID,
		Status:     &status,
		StartedAt:  startedAt,
		Progress: &repository.Progress{
			CurrentStep:    step,
			StepsCompleted: stepsDone,
			TotalSteps:     pipelineTotalSteps,
			Percentage:     pct,
		},
	})
	return err
}

// fail marks the document failed, releases the lock and converts the error
// into a result whose retryability follows its classification.
func (p *DocumentProcessor) fail(ctx context.Context, start time.Time, docID string, grant *coordinator.LockGrant, code string, cause error) *ProcessingResult {
	log, _ := logger.GetZapLogger(ctx)

	status := repository.StatusFailed
	msg := cause.Error()
	now := time.Now()
	// StartedAt marks this cycle's beginning so the failure records even
	// when the previous cycle left the document in a terminal state and no
	// progress checkpoint of this cycle has landed yet.
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID:  docID,
		Status:      &status,
		StartedAt:   &start,
		CompletedAt: &now,
		Error:       &msg,
	}); err != nil {
		log.Error("failed_state_write",
			zap.String("documentID", docID),
			zap.Error(err))
	}
	p.releaseLock(ctx, docID, grant)

	log.Error("document_processing_failed",
		zap.String("documentID", docID),
		zap.String("code", code),
		zap.Error(cause))

	return failureResult(start, code, cause, errorsx.IsRetryable(cause))
}

func (p *DocumentProcessor) releaseLock(ctx context.Context, docID string, grant *coordinator.LockGrant) {
	if grant == nil {
		return
	}
	if err := p.coord.ReleaseLock(ctx, docID, grant.Lock.LockID, p.workerID); err != nil {
		log, _ := logger.GetZapLogger(ctx)
		log.Warn("lock_release_failed",
			zap.String("documentID", docID),
			zap.Error(err))
	}
}
