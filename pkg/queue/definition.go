package queue

// Name identifies one of the prioritized work queues. The name doubles as
// the redis stream key.
type Name string

const (
	QueueDocumentIngestion Name = "document-ingestion"
	QueueWebhookProcessing Name = "webhook-processing"
	QueueBatchReprocessing Name = "batch-reprocessing"
)

// Definition is the static per-queue processing configuration.
type Definition struct {
	// BatchSize is the maximum number of messages delivered per batch.
	BatchSize int
	// MaxRetries is the redelivery budget tagged into each envelope.
	MaxRetries int
	// MaxConcurrency caps in-flight messages within a batch. 1 means
	// strictly sequential. The effective concurrency is
	// min(BatchSize, MaxConcurrency).
	MaxConcurrency int
}

// Definitions maps each queue to its configuration. Bulk reprocessing runs
// sequentially so it cannot overwhelm downstream systems.
var Definitions = map[Name]Definition{
	QueueDocumentIngestion: {BatchSize: 10, MaxRetries: 3, MaxConcurrency: 5},
	QueueWebhookProcessing: {BatchSize: 5, MaxRetries: 5, MaxConcurrency: 10},
	QueueBatchReprocessing: {BatchSize: 20, MaxRetries: 2, MaxConcurrency: 1},
}

// All lists the queues in consumption order, highest priority first.
var All = []Name{
	QueueDocumentIngestion,
	QueueWebhookProcessing,
	QueueBatchReprocessing,
}

// Lookup resolves a queue identifier to its definition.
func Lookup(name string) (Definition, bool) {
	def, ok := Definitions[Name(name)]
	return def, ok
}
