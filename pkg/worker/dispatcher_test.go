package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/queue"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked []string
}

func (f *fakeAcker) Ack(_ context.Context, _ queue.Name, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeAcker) ackedIDs() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool, len(f.acked))
	for _, id := range f.acked {
		ids[id] = true
	}
	return ids
}

// processorFunc adapts a function to the Processor interface.
type processorFunc func(ctx context.Context, msg *queue.Message) (*ProcessingResult, error)

func (f processorFunc) Process(ctx context.Context, msg *queue.Message) (*ProcessingResult, error) {
	return f(ctx, msg)
}

func ingestionDelivery(c *qt.C, id, docID string, deliveryCount int) queue.Delivery {
	msg := &queue.Message{
		Type: queue.TypeDocumentIngestion,
		DocumentIngestion: &queue.DocumentIngestionPayload{
			DocumentID: docID,
			Content:    "content of " + docID,
		},
	}
	body, err := msg.EncodeBody()
	c.Assert(err, qt.IsNil)
	return queue.Delivery{ID: id, Body: body, DeliveryCount: deliveryCount}
}

func TestDispatcher_ProcessBatch_OneFailureDoesNotAbort(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}

	dispatcher := NewDispatcher(acker, map[queue.MessageType]Processor{
		queue.TypeDocumentIngestion: processorFunc(func(_ context.Context, msg *queue.Message) (*ProcessingResult, error) {
			if msg.DocumentIngestion.DocumentID == "doc-4" {
				panic("boom")
			}
			return &ProcessingResult{Success: true}, nil
		}),
	})

	deliveries := make([]queue.Delivery, 10)
	for i := range deliveries {
		deliveries[i] = ingestionDelivery(c, fmt.Sprintf("msg-%d", i), fmt.Sprintf("doc-%d", i), 1)
	}

	summary, err := dispatcher.ProcessBatch(ctx, "document-ingestion", deliveries)
	c.Assert(err, qt.IsNil)
	c.Check(summary.Total, qt.Equals, 10)
	c.Check(summary.SuccessCount, qt.Equals, 9)
	c.Check(summary.FailureCount, qt.Equals, 1)
	c.Check(summary.SuccessCount+summary.FailureCount, qt.Equals, summary.Total)
	// The panicking message is retryable: it is not acked, everything
	// else is.
	c.Check(summary.Acked, qt.Equals, 9)
	c.Check(summary.Retried, qt.Equals, 1)
	acked := acker.ackedIDs()
	c.Check(acked["msg-4"], qt.IsFalse)
	c.Check(len(acked), qt.Equals, 9)

	// The failed message carries a result too.
	c.Assert(summary.Results[4].Err, qt.IsNotNil)
	c.Check(summary.Results[4].Err.Code, qt.Equals, "PROCESSOR_PANIC")
	c.Check(summary.Results[4].Err.Retryable, qt.IsTrue)
}

func TestDispatcher_ProcessBatch_NonRetryableIsDropped(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}

	permanent := errorsx.Classify(errors.New("schema validation failed"), errorsx.Permanent)
	dispatcher := NewDispatcher(acker, map[queue.MessageType]Processor{
		queue.TypeDocumentIngestion: processorFunc(func(_ context.Context, _ *queue.Message) (*ProcessingResult, error) {
			return nil, permanent
		}),
	})

	deliveries := []queue.Delivery{ingestionDelivery(c, "msg-0", "doc-0", 1)}
	summary, err := dispatcher.ProcessBatch(ctx, "document-ingestion", deliveries)
	c.Assert(err, qt.IsNil)
	c.Check(summary.Dropped, qt.Equals, 1)
	c.Check(summary.Retried, qt.Equals, 0)
	c.Check(acker.ackedIDs()["msg-0"], qt.IsTrue)
}

func TestDispatcher_ProcessBatch_RetryBudgetExhaustedIsDropped(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}

	transient := errorsx.Classify(errors.New("connection refused"), errorsx.Transient)
	dispatcher := NewDispatcher(acker, map[queue.MessageType]Processor{
		queue.TypeDocumentIngestion: processorFunc(func(_ context.Context, _ *queue.Message) (*ProcessingResult, error) {
			return nil, transient
		}),
	})

	// document-ingestion allows 3 redeliveries. Within budget: retried.
	summary, err := dispatcher.ProcessBatch(ctx, "document-ingestion",
		[]queue.Delivery{ingestionDelivery(c, "msg-young", "doc-0", 2)})
	c.Assert(err, qt.IsNil)
	c.Check(summary.Retried, qt.Equals, 1)

	// Past budget: dropped.
	summary, err = dispatcher.ProcessBatch(ctx, "document-ingestion",
		[]queue.Delivery{ingestionDelivery(c, "msg-old", "doc-0", 4)})
	c.Assert(err, qt.IsNil)
	c.Check(summary.Dropped, qt.Equals, 1)
	c.Check(acker.ackedIDs()["msg-old"], qt.IsTrue)
}

func TestDispatcher_ProcessBatch_UnknownQueueAcksEverything(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}
	dispatcher := NewDispatcher(acker, nil)

	deliveries := []queue.Delivery{
		ingestionDelivery(c, "msg-0", "doc-0", 1),
		ingestionDelivery(c, "msg-1", "doc-1", 1),
	}
	_, err := dispatcher.ProcessBatch(ctx, "mystery-queue", deliveries)
	c.Assert(err, qt.IsNotNil)
	c.Check(errors.Is(err, errorsx.ErrUnsupportedQueue), qt.IsTrue)
	c.Check(len(acker.ackedIDs()), qt.Equals, 2)
}

func TestDispatcher_ProcessBatch_MalformedBodyIsDropped(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}
	dispatcher := NewDispatcher(acker, nil)

	deliveries := []queue.Delivery{{ID: "msg-bad", Body: []byte("not json"), DeliveryCount: 1}}
	summary, err := dispatcher.ProcessBatch(ctx, "document-ingestion", deliveries)
	c.Assert(err, qt.IsNil)
	c.Check(summary.Dropped, qt.Equals, 1)
	c.Assert(summary.Results[0].Err, qt.IsNotNil)
	c.Check(summary.Results[0].Err.Code, qt.Equals, "DECODE_FAILED")
	c.Check(summary.Results[0].Err.Retryable, qt.IsFalse)
	c.Check(acker.ackedIDs()["msg-bad"], qt.IsTrue)
}

func TestDispatcher_ProcessBatch_ConcurrencyCap(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	acker := &fakeAcker{}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	dispatcher := NewDispatcher(acker, map[queue.MessageType]Processor{
		queue.TypeDocumentIngestion: processorFunc(func(_ context.Context, _ *queue.Message) (*ProcessingResult, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &ProcessingResult{Success: true}, nil
		}),
	})

	deliveries := make([]queue.Delivery, 10)
	for i := range deliveries {
		deliveries[i] = ingestionDelivery(c, fmt.Sprintf("msg-%d", i), fmt.Sprintf("doc-%d", i), 1)
	}
	summary, err := dispatcher.ProcessBatch(ctx, "document-ingestion", deliveries)
	c.Assert(err, qt.IsNil)
	c.Check(summary.SuccessCount, qt.Equals, 10)
	// document-ingestion caps in-flight messages at 5.
	c.Check(peak <= 5, qt.IsTrue)
}
