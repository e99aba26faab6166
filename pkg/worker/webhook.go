package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/queue"
	"github.com/docuflow/ingest-backend/pkg/service"
)

// Publisher is the slice of the transport processors use to enqueue
// follow-up work.
type Publisher interface {
	Publish(ctx context.Context, q queue.Name, msg *queue.Message) (string, error)
}

// WebhookProcessor mirrors external source changes into the ingestion
// pipeline. It never processes documents itself: it fetches content where
// needed and enqueues the matching document message.
type WebhookProcessor struct {
	fetch     *service.SourceFetcher
	publisher Publisher
}

func NewWebhookProcessor(fetch *service.SourceFetcher, publisher Publisher) *WebhookProcessor {
	return &WebhookProcessor{fetch: fetch, publisher: publisher}
}

// WebhookDocumentID derives the pipeline document id for an external
// resource. The id is stable across events so updates and deletes land on
// the same document.
func WebhookDocumentID(sourceType queue.SourceType, resourceID string) string {
	return fmt.Sprintf("%s-%s", sourceType, resourceID)
}

func (p *WebhookProcessor) Process(ctx context.Context, msg *queue.Message) (*ProcessingResult, error) {
	if msg.Type != queue.TypeWebhookSync {
		return nil, fmt.Errorf("webhook processor: unexpected message type %q", msg.Type)
	}
	log, _ := logger.GetZapLogger(ctx)
	start := time.Now()
	payload := msg.WebhookSync

	// Unknown variants are preserved verbatim in the failure so the
	// dropped message can be diagnosed from the log alone.
	if !payload.SourceType.Known() {
		return failureResult(start, "UNKNOWN_SOURCE",
			fmt.Errorf("unknown webhook source type %q (event %q, resource %q)",
				payload.SourceType, payload.EventType, payload.ResourceID), false), nil
	}
	if !payload.EventType.Known() {
		return failureResult(start, "UNKNOWN_EVENT",
			fmt.Errorf("unknown webhook event type %q (source %q, resource %q)",
				payload.EventType, payload.SourceType, payload.ResourceID), false), nil
	}

	log.Info("webhook_received",
		zap.String("sourceType", string(payload.SourceType)),
		zap.String("eventType", string(payload.EventType)),
		zap.String("resourceID", payload.ResourceID))

	var err error
	switch payload.EventType {
	case queue.EventCreated:
		err = p.enqueueIngestion(ctx, payload, payload.ResourceID, false)
	case queue.EventUpdated:
		err = p.enqueueIngestion(ctx, payload, payload.ResourceID, true)
	case queue.EventDeleted:
		err = p.enqueueDeletion(ctx, payload, payload.ResourceID)
	case queue.EventMoved:
		// Old location goes away, new location is ingested fresh.
		if payload.PreviousResourceID != "" {
			err = p.enqueueDeletion(ctx, payload, payload.PreviousResourceID)
		}
		if err == nil {
			err = p.enqueueIngestion(ctx, payload, payload.ResourceID, true)
		}
	}
	if err != nil {
		return failureResult(start, "WEBHOOK_FAILED", err, errorsx.IsRetryable(err)), nil
	}
	return successResult(start), nil
}

func (p *WebhookProcessor) enqueueIngestion(ctx context.Context, payload *queue.WebhookSyncPayload, resourceID string, force bool) error {
	content, err := p.fetch.Fetch(ctx, payload.SourceType, payload.ResourceURL, payload.AuthContext)
	if err != nil {
		return fmt.Errorf("fetching %s resource %s: %w", payload.SourceType, resourceID, err)
	}
	msg := &queue.Message{
		Type:     queue.TypeDocumentIngestion,
		Metadata: queue.Metadata{Source: string(payload.SourceType)},
		DocumentIngestion: &queue.DocumentIngestionPayload{
			DocumentID:     WebhookDocumentID(payload.SourceType, resourceID),
			Content:        content,
			ForceReprocess: force,
			Metadata: map[string]string{
				"source_type":  string(payload.SourceType),
				"resource_id":  resourceID,
				"resource_url": payload.ResourceURL,
			},
		},
	}
	if _, err := p.publisher.Publish(ctx, queue.QueueDocumentIngestion, msg); err != nil {
		return fmt.Errorf("enqueueing ingestion for %s: %w", resourceID, err)
	}
	return nil
}

func (p *WebhookProcessor) enqueueDeletion(ctx context.Context, payload *queue.WebhookSyncPayload, resourceID string) error {
	msg := &queue.Message{
		Type:     queue.TypeDocumentDelete,
		Metadata: queue.Metadata{Source: string(payload.SourceType)},
		DocumentDelete: &queue.DocumentDeletePayload{
			DocumentID: WebhookDocumentID(payload.SourceType, resourceID),
			Source:     string(payload.SourceType),
		},
	}
	if _, err := p.publisher.Publish(ctx, queue.QueueDocumentIngestion, msg); err != nil {
		return fmt.Errorf("enqueueing deletion for %s: %w", resourceID, err)
	}
	return nil
}
