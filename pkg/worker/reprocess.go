package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docuflow/ingest-backend/pkg/coordinator"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/repository"
	"github.com/docuflow/ingest-backend/pkg/service"
)

const (
	reprocessSubBatchSize = 5
	// Pause between sub-batches so bulk jobs cannot starve downstream
	// systems of capacity.
	reprocessSubBatchDelay = 100 * time.Millisecond
)

// ReprocessProcessor re-runs documents through part of the pipeline. The
// reason chooses how much of the pipeline repeats: a model update re-embeds
// the stored chunks in place, a schema change invalidates chunks and
// vectors and re-ingests the reassembled content, a manual reindex
// re-ingests over the existing artifacts, a policy change only re-stamps
// chunk metadata.
type ReprocessProcessor struct {
	coord     *coordinator.Coordinator
	collab    service.Collaborators
	publisher Publisher
	workerID  string
}

func NewReprocessProcessor(coord *coordinator.Coordinator, collab service.Collaborators, publisher Publisher, workerID string) *ReprocessProcessor {
	return &ReprocessProcessor{
		coord:     coord,
		collab:    collab,
		publisher: publisher,
		workerID:  workerID,
	}
}

func (p *ReprocessProcessor) Process(ctx context.Context, msg *queue.Message) (*ProcessingResult, error) {
	if msg.Type != queue.TypeBatchReprocess {
		return nil, fmt.Errorf("reprocess processor: unexpected message type %q", msg.Type)
	}
	log, _ := logger.GetZapLogger(ctx)
	start := time.Now()
	payload := msg.BatchReprocess

	if !payload.Reason.Known() {
		return failureResult(start, "UNKNOWN_REASON",
			fmt.Errorf("unknown reprocess reason %q", payload.Reason), false), nil
	}
	if len(payload.DocumentIDs) == 0 {
		return successResult(start), nil
	}

	var processed, failed int
	for offset := 0; offset < len(payload.DocumentIDs); offset += reprocessSubBatchSize {
		if offset > 0 {
			select {
			case <-time.After(reprocessSubBatchDelay):
			case <-ctx.Done():
				return failureResult(start, "CANCELLED", ctx.Err(), true), nil
			}
		}
		end := offset + reprocessSubBatchSize
		if end > len(payload.DocumentIDs) {
			end = len(payload.DocumentIDs)
		}
		sub := payload.DocumentIDs[offset:end]

		// Documents within a sub-batch run concurrently; the sub-batch
		// drains before the next one starts.
		var subFailed int64
		eg, egCtx := errgroup.WithContext(ctx)
		for _, docID := range sub {
			docID := docID
			eg.Go(func() error {
				if err := p.reprocessOne(egCtx, docID, payload.Reason); err != nil {
					atomic.AddInt64(&subFailed, 1)
					log.Warn("reprocess_document_failed",
						zap.String("documentID", docID),
						zap.String("reason", string(payload.Reason)),
						zap.Error(err))
				}
				return nil
			})
		}
		_ = eg.Wait()

		// A mostly-failing sub-batch points at a systemic fault, not
		// per-document problems. Count the whole sub-batch failed so
		// the batch retries as a unit.
		subFailedCount := int(subFailed)
		if subFailedCount*2 > len(sub) {
			subFailedCount = len(sub)
		}
		failed += subFailedCount
		processed += len(sub) - subFailedCount
	}

	log.Info("batch_reprocess_completed",
		zap.String("reason", string(payload.Reason)),
		zap.String("requestedBy", payload.RequestedBy),
		zap.Int("processed", processed),
		zap.Int("failed", failed))

	if failed > 0 {
		err := fmt.Errorf("%d of %d documents failed: %w",
			failed, len(payload.DocumentIDs), errorsx.ErrBatchPartialFailure)
		result := failureResult(start, "PARTIAL_FAILURE", errorsx.Classify(err, errorsx.Transient), true)
		result.Metadata = map[string]string{
			"processed": strconv.Itoa(processed),
			"failed":    strconv.Itoa(failed),
		}
		return result, nil
	}

	result := successResult(start)
	result.Metadata = map[string]string{
		"processed": strconv.Itoa(processed),
	}
	return result, nil
}

// reprocessOne re-runs one document per the reason. Every path starts from
// the stored chunks, so a document with no artifacts is a per-document
// failure rather than a silent no-op.
func (p *ReprocessProcessor) reprocessOne(ctx context.Context, docID string, reason queue.ReprocessReason) error {
	keys, err := p.collab.Blobs.ListChunks(ctx, docID)
	if err != nil {
		return fmt.Errorf("listing stored chunks: %w", err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("document %s has no stored chunks", docID)
	}

	switch reason {
	case queue.ReasonModelUpdate:
		return p.reembed(ctx, docID, keys)
	case queue.ReasonSchemaChange:
		return p.reingest(ctx, docID, keys, true)
	case queue.ReasonManualReindex:
		return p.reingest(ctx, docID, keys, false)
	case queue.ReasonPolicyChange:
		return p.refreshMetadata(ctx, docID, keys)
	}
	return fmt.Errorf("unknown reprocess reason %q", reason)
}

// refreshMetadata re-stamps the stored chunks so downstream access filters
// pick up the new policy. Chunk content, vectors and processing state are
// untouched.
func (p *ReprocessProcessor) refreshMetadata(ctx context.Context, docID string, keys []string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, key := range keys {
		chunk, err := p.collab.Blobs.GetChunk(ctx, key)
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", key, err)
		}
		if err := p.collab.Blobs.PutChunk(ctx, key, chunk, map[string]string{
			"policy-refreshed-at": stamp,
		}); err != nil {
			return fmt.Errorf("refreshing chunk %s: %w", key, err)
		}
	}
	return nil
}

// reembed regenerates the document's vectors from its stored chunks. The
// chunks themselves are untouched: only the embedding model changed.
func (p *ReprocessProcessor) reembed(ctx context.Context, docID string, keys []string) error {
	grant, err := p.coord.AcquireLock(ctx, docID, repository.LockTypeUpdating, 0, p.workerID)
	if err != nil {
		return fmt.Errorf("locking document: %w", err)
	}
	defer func() {
		if err := p.coord.ReleaseLock(ctx, docID, grant.Lock.LockID, p.workerID); err != nil {
			log, _ := logger.GetZapLogger(ctx)
			log.Warn("lock_release_failed",
				zap.String("documentID", docID),
				zap.Error(err))
		}
	}()

	now := time.Now()
	processing := repository.StatusProcessing
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID: docID,
		Status:     &processing,
		StartedAt:  &now,
		Progress: &repository.Progress{
			CurrentStep:    stepEmbedding,
			StepsCompleted: 2,
			TotalSteps:     pipelineTotalSteps,
			Percentage:     50,
		},
	}); err != nil {
		return fmt.Errorf("starting re-embed cycle: %w", err)
	}

	if err := p.collab.Vectors.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("invalidating vectors: %w", err)
	}
	for i, key := range keys {
		chunk, err := p.collab.Blobs.GetChunk(ctx, key)
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", key, err)
		}
		vectors, err := p.collab.Embedder.Embed(ctx, []string{string(chunk)})
		if err != nil {
			return fmt.Errorf("re-embedding chunk %s: %w", key, err)
		}
		entry := service.VectorEntry{
			ID:         fmt.Sprintf("%s-%05d", docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			Vector:     vectors[0],
		}
		if err := p.collab.Vectors.Upsert(ctx, []service.VectorEntry{entry}); err != nil {
			return fmt.Errorf("upserting vector for chunk %s: %w", key, err)
		}
	}

	completedAt := time.Now()
	completed := repository.StatusCompleted
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID:  docID,
		Status:      &completed,
		CompletedAt: &completedAt,
		Progress: &repository.Progress{
			CurrentStep:    stepCompleted,
			StepsCompleted: pipelineTotalSteps,
			TotalSteps:     pipelineTotalSteps,
			Percentage:     100,
		},
	}); err != nil {
		return fmt.Errorf("completing re-embed cycle: %w", err)
	}
	return nil
}

// reingest reassembles the document's content from its stored chunks and
// sends it back through the ingestion queue. invalidate additionally drops
// the stored artifacts first so the fresh cycle cannot leave stale chunks
// behind when the chunking changes.
func (p *ReprocessProcessor) reingest(ctx context.Context, docID string, keys []string, invalidate bool) error {
	parts := make([]string, len(keys))
	for i, key := range keys {
		chunk, err := p.collab.Blobs.GetChunk(ctx, key)
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", key, err)
		}
		parts[i] = string(chunk)
	}
	content := strings.Join(parts, "")

	if invalidate {
		if err := p.collab.Blobs.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("invalidating chunks: %w", err)
		}
		if err := p.collab.Vectors.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("invalidating vectors: %w", err)
		}
	}

	msg := &queue.Message{
		Type:     queue.TypeDocumentIngestion,
		Metadata: queue.Metadata{Source: "reprocess"},
		DocumentIngestion: &queue.DocumentIngestionPayload{
			DocumentID:     docID,
			Content:        content,
			ForceReprocess: true,
		},
	}
	if _, err := p.publisher.Publish(ctx, queue.QueueDocumentIngestion, msg); err != nil {
		return fmt.Errorf("enqueueing re-ingestion: %w", err)
	}

	now := time.Now()
	queued := repository.StatusQueued
	if _, err := p.coord.UpdateState(ctx, coordinator.StateUpdate{
		DocumentID: docID,
		Status:     &queued,
		StartedAt:  &now,
		Progress:   &repository.Progress{TotalSteps: pipelineTotalSteps},
	}); err != nil {
		return fmt.Errorf("resetting state: %w", err)
	}
	return nil
}
