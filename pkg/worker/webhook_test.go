package worker

import (
	"context"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/service"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		Queue queue.Name
		Msg   *queue.Message
	}
}

func (f *fakePublisher) Publish(_ context.Context, q queue.Name, msg *queue.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, struct {
		Queue queue.Name
		Msg   *queue.Message
	}{q, msg})
	return "stream-id", nil
}

func newTestWebhookProcessor() (*WebhookProcessor, *fakePublisher) {
	publisher := &fakePublisher{}
	fetch := service.NewSourceFetcher(&fakeCollaborators{})
	return NewWebhookProcessor(fetch, publisher), publisher
}

func webhookMessage(source queue.SourceType, event queue.EventType) *queue.Message {
	return &queue.Message{
		Type: queue.TypeWebhookSync,
		WebhookSync: &queue.WebhookSyncPayload{
			SourceType:  source,
			EventType:   event,
			ResourceID:  "page-1",
			ResourceURL: "https://example.com/page-1",
		},
	}
}

func TestWebhookProcessor_Created(t *testing.T) {
	c := qt.New(t)
	proc, publisher := newTestWebhookProcessor()

	result, err := proc.Process(context.Background(), webhookMessage(queue.SourceWebsite, queue.EventCreated))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	c.Assert(len(publisher.published), qt.Equals, 1)
	pub := publisher.published[0]
	c.Check(pub.Queue, qt.Equals, queue.QueueDocumentIngestion)
	c.Check(pub.Msg.Type, qt.Equals, queue.TypeDocumentIngestion)
	c.Assert(pub.Msg.DocumentIngestion, qt.IsNotNil)
	c.Check(pub.Msg.DocumentIngestion.DocumentID, qt.Equals, "website-page-1")
	c.Check(pub.Msg.DocumentIngestion.Content, qt.Equals, "fetched content of https://example.com/page-1")
	c.Check(pub.Msg.DocumentIngestion.ForceReprocess, qt.IsFalse)
}

func TestWebhookProcessor_UpdatedForcesReprocess(t *testing.T) {
	c := qt.New(t)
	proc, publisher := newTestWebhookProcessor()

	result, err := proc.Process(context.Background(), webhookMessage(queue.SourceWebsite, queue.EventUpdated))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)
	c.Assert(len(publisher.published), qt.Equals, 1)
	c.Check(publisher.published[0].Msg.DocumentIngestion.ForceReprocess, qt.IsTrue)
}

func TestWebhookProcessor_Deleted(t *testing.T) {
	c := qt.New(t)
	proc, publisher := newTestWebhookProcessor()

	result, err := proc.Process(context.Background(), webhookMessage(queue.SourceWebsite, queue.EventDeleted))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	c.Assert(len(publisher.published), qt.Equals, 1)
	pub := publisher.published[0]
	c.Check(pub.Msg.Type, qt.Equals, queue.TypeDocumentDelete)
	c.Check(pub.Msg.DocumentDelete.DocumentID, qt.Equals, "website-page-1")
}

func TestWebhookProcessor_Moved(t *testing.T) {
	c := qt.New(t)
	proc, publisher := newTestWebhookProcessor()

	msg := webhookMessage(queue.SourceWebsite, queue.EventMoved)
	msg.WebhookSync.PreviousResourceID = "page-0"

	result, err := proc.Process(context.Background(), msg)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsTrue)

	// Old location is deleted, new location is ingested.
	c.Assert(len(publisher.published), qt.Equals, 2)
	c.Check(publisher.published[0].Msg.Type, qt.Equals, queue.TypeDocumentDelete)
	c.Check(publisher.published[0].Msg.DocumentDelete.DocumentID, qt.Equals, "website-page-0")
	c.Check(publisher.published[1].Msg.Type, qt.Equals, queue.TypeDocumentIngestion)
	c.Check(publisher.published[1].Msg.DocumentIngestion.DocumentID, qt.Equals, "website-page-1")
}

func TestWebhookProcessor_UnknownVariants(t *testing.T) {
	c := qt.New(t)
	proc, publisher := newTestWebhookProcessor()

	result, err := proc.Process(context.Background(), webhookMessage("filesystem", queue.EventCreated))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsFalse)
	c.Check(result.Err.Code, qt.Equals, "UNKNOWN_SOURCE")
	c.Check(result.Err.Retryable, qt.IsFalse)
	// The raw variant is preserved for diagnosis.
	c.Check(result.Err.Message, qt.Contains, "filesystem")

	result, err = proc.Process(context.Background(), webhookMessage(queue.SourceJira, "renamed"))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Success, qt.IsFalse)
	c.Check(result.Err.Code, qt.Equals, "UNKNOWN_EVENT")
	c.Check(result.Err.Retryable, qt.IsFalse)

	c.Check(len(publisher.published), qt.Equals, 0)
}

func TestWebhookProcessor_StubbedSourcesStillEnqueue(t *testing.T) {
	c := qt.New(t)

	// SharePoint, Confluence and Jira run on placeholder connectors, but
	// their webhooks must still flow into ingestion.
	for _, source := range []queue.SourceType{queue.SourceSharePoint, queue.SourceConfluence, queue.SourceJira} {
		proc, publisher := newTestWebhookProcessor()

		result, err := proc.Process(context.Background(), webhookMessage(source, queue.EventCreated))
		c.Assert(err, qt.IsNil)
		c.Assert(result.Success, qt.IsTrue)

		c.Assert(len(publisher.published), qt.Equals, 1)
		pub := publisher.published[0]
		c.Check(pub.Queue, qt.Equals, queue.QueueDocumentIngestion)
		c.Check(pub.Msg.Type, qt.Equals, queue.TypeDocumentIngestion)
		c.Check(pub.Msg.DocumentIngestion.DocumentID, qt.Equals, string(source)+"-page-1")
		c.Check(pub.Msg.DocumentIngestion.Content, qt.Not(qt.Equals), "")
	}
}
