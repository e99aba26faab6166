package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/docuflow/ingest-backend/pkg/coordinator"
	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/repository"
	"github.com/docuflow/ingest-backend/pkg/service"
)

// failingVectors wraps a vector index with an injectable deletion failure.
type failingVectors struct {
	service.VectorIndex
	deleteErr error
}

func (f *failingVectors) DeleteDocument(ctx context.Context, documentID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.VectorIndex.DeleteDocument(ctx, documentID)
}

func newTestReprocessProcessor() (*ReprocessProcessor, *coordinator.Coordinator, *fakeCollaborators, *fakePublisher) {
	coord := coordinator.New(repository.NewMemoryRepository(), coordinator.Options{})
	fakes := newFakeCollaborators()
	publisher := &fakePublisher{}
	proc := NewReprocessProcessor(coord, fakes.collaborators(), publisher, "worker-test")
	return proc, coord, fakes, publisher
}

// ingestDocs runs documents through the full pipeline so reprocessing has
// stored chunks and vectors to start from.
func ingestDocs(c *qt.C, coord *coordinator.Coordinator, fakes *fakeCollaborators, docIDs ...string) {
	docProc := NewDocumentProcessor(coord, fakes.collaborators(), "worker-test", 0)
	for i, docID := range docIDs {
		result, err := docProc.Process(context.Background(),
			ingestionMessage(docID, fmt.Sprintf("stored content of %s number %d", docID, i)))
		c.Assert(err, qt.IsNil)
		c.Assert(result.Success, qt.IsTrue)
	}
}

func reprocessMessage(reason queue.ReprocessReason, docIDs ...string) *queue.Message {
	return &queue.Message{
		Type: queue.TypeBatchReprocess,
		BatchReprocess: &queue.BatchReprocessPayload{
			DocumentIDs: docIDs,
			Reason:      reason,
			RequestedBy: "ops",
		},
	}
}

func TestReprocessProcessor_ModelUpdateReembedsStoredChunks(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, coord, fakes, publisher := newTestReprocessProcessor()

	ingestDocs(c, coord, fakes, "doc-1")
	blobsBefore := len(fakes.blobs)
	embedsBefore := len(fakes.embedded)

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonModelUpdate, "doc-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)
	c.Check(result.Metadata["processed"], qt.Equals, "1")

	// The stored chunks are re-embedded in place: chunks untouched, the
	// old vectors replaced with fresh ones, nothing re-enqueued.
	c.Check(len(fakes.blobs), qt.Equals, blobsBefore)
	c.Check(len(fakes.embedded), qt.Equals, embedsBefore+1)
	c.Check(len(fakes.vectors), qt.Equals, 1)
	c.Check(fakes.vectors["doc-1-00000"].DocumentID, qt.Equals, "doc-1")
	c.Check(fakes.deletedVectorDocs, qt.DeepEquals, []string{"doc-1"})
	c.Check(len(publisher.published), qt.Equals, 0)

	state, err := coord.GetState(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state.Status, qt.Equals, repository.StatusCompleted)
	c.Check(state.CompletedAt, qt.IsNotNil)

	// The re-embed lock is released when the document finishes.
	lock, err := coord.CheckLock(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(lock, qt.IsNil)
}

func TestReprocessProcessor_SchemaChangeInvalidatesAndReingests(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, coord, fakes, publisher := newTestReprocessProcessor()

	ingestDocs(c, coord, fakes, "doc-1")

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonSchemaChange, "doc-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	// Stale artifacts are gone; the content goes back through ingestion.
	c.Check(len(fakes.blobs), qt.Equals, 0)
	c.Check(len(fakes.vectors), qt.Equals, 0)

	c.Assert(len(publisher.published), qt.Equals, 1)
	pub := publisher.published[0]
	c.Check(pub.Queue, qt.Equals, queue.QueueDocumentIngestion)
	c.Check(pub.Msg.Type, qt.Equals, queue.TypeDocumentIngestion)
	c.Assert(pub.Msg.DocumentIngestion, qt.IsNotNil)
	c.Check(pub.Msg.DocumentIngestion.DocumentID, qt.Equals, "doc-1")
	c.Check(pub.Msg.DocumentIngestion.Content, qt.Equals, "stored content of doc-1 number 0")
	c.Check(pub.Msg.DocumentIngestion.ForceReprocess, qt.IsTrue)

	state, err := coord.GetState(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state.Status, qt.Equals, repository.StatusQueued)
	c.Check(state.CompletedAt, qt.IsNil)
}

func TestReprocessProcessor_ManualReindexKeepsArtifactsUntilReingest(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, coord, fakes, publisher := newTestReprocessProcessor()

	ingestDocs(c, coord, fakes, "doc-1")

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonManualReindex, "doc-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	// The existing artifacts serve reads until the fresh cycle overwrites
	// them.
	c.Check(len(fakes.blobs), qt.Equals, 1)
	c.Check(len(fakes.vectors), qt.Equals, 1)

	c.Assert(len(publisher.published), qt.Equals, 1)
	c.Check(publisher.published[0].Msg.DocumentIngestion.ForceReprocess, qt.IsTrue)

	state, err := coord.GetState(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state.Status, qt.Equals, repository.StatusQueued)
}

func TestReprocessProcessor_PolicyChangeOnlyTouchesMetadata(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, coord, fakes, publisher := newTestReprocessProcessor()

	ingestDocs(c, coord, fakes, "doc-1")
	embedsBefore := len(fakes.embedded)

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonPolicyChange, "doc-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	// Chunks and vectors survive, nothing is re-embedded or re-enqueued,
	// and the document stays completed.
	c.Check(len(fakes.blobs), qt.Equals, 1)
	c.Check(len(fakes.vectors), qt.Equals, 1)
	c.Check(len(fakes.embedded), qt.Equals, embedsBefore)
	c.Check(len(publisher.published), qt.Equals, 0)

	state, err := coord.GetState(ctx, "doc-1")
	c.Assert(err, qt.IsNil)
	c.Check(state.Status, qt.Equals, repository.StatusCompleted)
}

func TestReprocessProcessor_MissingChunksFailsDocument(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, _, _, publisher := newTestReprocessProcessor()

	// The document was never ingested, so there is nothing to reprocess.
	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonModelUpdate, "doc-ghost"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsFalse)
	c.Check(result.Err.Code, qt.Equals, "PARTIAL_FAILURE")
	c.Check(result.Metadata["failed"], qt.Equals, "1")
	c.Check(len(publisher.published), qt.Equals, 0)
}

func TestReprocessProcessor_SubBatches(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, coord, fakes, publisher := newTestReprocessProcessor()

	docIDs := make([]string, 12)
	for i := range docIDs {
		docIDs[i] = fmt.Sprintf("doc-%d", i)
	}
	ingestDocs(c, coord, fakes, docIDs...)

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonManualReindex, docIDs...))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)
	c.Check(result.Metadata["processed"], qt.Equals, "12")
	c.Check(len(publisher.published), qt.Equals, 12)

	for _, docID := range docIDs {
		state, err := coord.GetState(ctx, docID)
		c.Assert(err, qt.IsNil)
		c.Assert(state, qt.IsNotNil)
		c.Check(state.Status, qt.Equals, repository.StatusQueued)
	}
}

func TestReprocessProcessor_SystemicFailureFailsSubBatch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	coord := coordinator.New(repository.NewMemoryRepository(), coordinator.Options{})
	fakes := newFakeCollaborators()
	docIDs := []string{"doc-0", "doc-1", "doc-2", "doc-3", "doc-4"}
	ingestDocs(c, coord, fakes, docIDs...)

	collab := fakes.collaborators()
	collab.Vectors = &failingVectors{
		VectorIndex: collab.Vectors,
		deleteErr:   errors.New("vector index unavailable: connection refused"),
	}
	proc := NewReprocessProcessor(coord, collab, &fakePublisher{}, "worker-test")

	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonModelUpdate, docIDs...))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsFalse)
	c.Check(result.Err.Code, qt.Equals, "PARTIAL_FAILURE")
	c.Check(result.Err.Retryable, qt.IsTrue)
	// Every document in the sub-batch failed, so the whole sub-batch is
	// reported failed.
	c.Check(result.Metadata["failed"], qt.Equals, "5")
}

func TestReprocessProcessor_UnknownReasonAndEmptyBatch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	proc, _, _, _ := newTestReprocessProcessor()

	// An empty batch is a no-op success.
	result, err := proc.Process(ctx, reprocessMessage(queue.ReasonPolicyChange))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	result, err = proc.Process(ctx, reprocessMessage("vibes", "doc-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsFalse)
	c.Check(result.Err.Code, qt.Equals, "UNKNOWN_REASON")
	c.Check(result.Err.Retryable, qt.IsFalse)
}

func TestReprocessProcessor_PartialFailureWrapsSentinel(t *testing.T) {
	c := qt.New(t)

	err := fmt.Errorf("2 of 5 documents failed: %w", errorsx.ErrBatchPartialFailure)
	c.Check(errors.Is(err, errorsx.ErrBatchPartialFailure), qt.IsTrue)
}
