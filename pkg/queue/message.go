package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags the payload variant carried by a queue message.
type MessageType string

const (
	TypeDocumentIngestion MessageType = "document_ingestion"
	TypeWebhookSync       MessageType = "webhook_sync"
	TypeBatchReprocess    MessageType = "batch_reprocess"
	TypeDocumentUpdate    MessageType = "document_update"
	TypeDocumentDelete    MessageType = "document_delete"
)

// Metadata is the per-delivery envelope metadata. RetryCount comes from the
// transport's delivery-attempt counter, MaxRetries from the queue
// definition, CorrelationID from the transport message id.
type Metadata struct {
	Priority      string     `json:"priority,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	CorrelationID string     `json:"correlation_id"`
	Source        string     `json:"source,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// SourceType is the origin system of a webhook event. Values outside the
// known set are preserved verbatim so dispatch can report them.
type SourceType string

const (
	SourceSharePoint SourceType = "sharepoint"
	SourceConfluence SourceType = "confluence"
	SourceJira       SourceType = "jira"
	SourceWebsite    SourceType = "website"
)

// Known reports whether the source type is one the webhook processor can
// dispatch on.
func (s SourceType) Known() bool {
	switch s {
	case SourceSharePoint, SourceConfluence, SourceJira, SourceWebsite:
		return true
	}
	return false
}

// EventType is the kind of change a webhook reports.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
	EventMoved   EventType = "moved"
)

// Known reports whether the event type is one the webhook processor can
// dispatch on.
func (e EventType) Known() bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted, EventMoved:
		return true
	}
	return false
}

// ReprocessReason is why a batch of documents is being reprocessed. The
// reason selects how much of the pipeline re-runs.
type ReprocessReason string

const (
	ReasonSchemaChange  ReprocessReason = "schema_change"
	ReasonModelUpdate   ReprocessReason = "model_update"
	ReasonPolicyChange  ReprocessReason = "policy_change"
	ReasonManualReindex ReprocessReason = "manual_reindex"
)

// Known reports whether the reason is one the reprocess processor supports.
func (r ReprocessReason) Known() bool {
	switch r {
	case ReasonSchemaChange, ReasonModelUpdate, ReasonPolicyChange, ReasonManualReindex:
		return true
	}
	return false
}

// DocumentIngestionPayload carries one document's content through the
// ingestion pipeline.
type DocumentIngestionPayload struct {
	DocumentID     string            `json:"document_id"`
	Title          string            `json:"title,omitempty"`
	Content        string            `json:"content"`
	ChunkSize      int               `json:"chunk_size,omitempty"`
	ForceReprocess bool              `json:"force_reprocess,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// WebhookSyncPayload describes an external source change to mirror.
type WebhookSyncPayload struct {
	SourceType         SourceType        `json:"source_type"`
	EventType          EventType         `json:"event_type"`
	ResourceID         string            `json:"resource_id"`
	ResourceURL        string            `json:"resource_url,omitempty"`
	PreviousResourceID string            `json:"previous_resource_id,omitempty"`
	AuthContext        map[string]string `json:"auth_context,omitempty"`
}

// BatchReprocessPayload lists documents to re-run through part of the
// pipeline.
type BatchReprocessPayload struct {
	DocumentIDs []string        `json:"document_ids"`
	Reason      ReprocessReason `json:"reason"`
	RequestedBy string          `json:"requested_by,omitempty"`
}

// DocumentUpdatePayload replaces an existing document's content.
type DocumentUpdatePayload struct {
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DocumentDeletePayload removes a document and its derived artifacts.
type DocumentDeletePayload struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source,omitempty"`
}

// Message is the uniform internal envelope the dispatcher builds from a
// transport delivery. Exactly one payload field matching Type is set. The
// envelope is a per-delivery view and is never persisted.
type Message struct {
	Type     MessageType `json:"type"`
	Metadata Metadata    `json:"metadata"`

	DocumentIngestion *DocumentIngestionPayload `json:"-"`
	WebhookSync       *WebhookSyncPayload       `json:"-"`
	BatchReprocess    *BatchReprocessPayload    `json:"-"`
	DocumentUpdate    *DocumentUpdatePayload    `json:"-"`
	DocumentDelete    *DocumentDeletePayload    `json:"-"`
}

// wireMessage is the transport body layout.
type wireMessage struct {
	Type     MessageType     `json:"type"`
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// DecodeBody parses a transport message body into the typed envelope.
func DecodeBody(body []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding message body: %w", err)
	}

	msg := &Message{Type: wire.Type, Metadata: wire.Metadata}
	switch wire.Type {
	case TypeDocumentIngestion:
		msg.DocumentIngestion = &DocumentIngestionPayload{}
		return msg, unmarshalPayload(wire.Payload, msg.DocumentIngestion)
	case TypeWebhookSync:
		msg.WebhookSync = &WebhookSyncPayload{}
		return msg, unmarshalPayload(wire.Payload, msg.WebhookSync)
	case TypeBatchReprocess:
		msg.BatchReprocess = &BatchReprocessPayload{}
		return msg, unmarshalPayload(wire.Payload, msg.BatchReprocess)
	case TypeDocumentUpdate:
		msg.DocumentUpdate = &DocumentUpdatePayload{}
		return msg, unmarshalPayload(wire.Payload, msg.DocumentUpdate)
	case TypeDocumentDelete:
		msg.DocumentDelete = &DocumentDeletePayload{}
		return msg, unmarshalPayload(wire.Payload, msg.DocumentDelete)
	default:
		return nil, fmt.Errorf("unknown message type %q", wire.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("message payload is empty")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decoding message payload: %w", err)
	}
	return nil
}

// EncodeBody serializes the envelope for publishing. The payload field
// matching Type must be set.
func (m *Message) EncodeBody() ([]byte, error) {
	var payload any
	switch m.Type {
	case TypeDocumentIngestion:
		payload = m.DocumentIngestion
	case TypeWebhookSync:
		payload = m.WebhookSync
	case TypeBatchReprocess:
		payload = m.BatchReprocess
	case TypeDocumentUpdate:
		payload = m.DocumentUpdate
	case TypeDocumentDelete:
		payload = m.DocumentDelete
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
	if payload == nil || isNilPointer(payload) {
		return nil, fmt.Errorf("message type %s has no payload", m.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Type, Metadata: m.Metadata, Payload: raw})
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *DocumentIngestionPayload:
		return p == nil
	case *WebhookSyncPayload:
		return p == nil
	case *BatchReprocessPayload:
		return p == nil
	case *DocumentUpdatePayload:
		return p == nil
	case *DocumentDeletePayload:
		return p == nil
	}
	return false
}
