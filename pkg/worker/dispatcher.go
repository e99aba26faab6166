package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/metrics"
	"github.com/docuflow/ingest-backend/pkg/queue"
)

// Processor handles one decoded message and reports its result. Returning
// an error is reserved for infrastructure faults; domain failures belong in
// the result.
type Processor interface {
	Process(ctx context.Context, msg *queue.Message) (*ProcessingResult, error)
}

// Acker is the slice of the transport the dispatcher needs to settle
// messages.
type Acker interface {
	Ack(ctx context.Context, q queue.Name, id string) error
}

// Dispatcher fans one delivery batch out to processors under the queue's
// concurrency cap and settles each message by its result.
type Dispatcher struct {
	acker      Acker
	processors map[queue.MessageType]Processor
}

// NewDispatcher builds a dispatcher routing each message type to its
// processor.
func NewDispatcher(acker Acker, processors map[queue.MessageType]Processor) *Dispatcher {
	return &Dispatcher{acker: acker, processors: processors}
}

// Message dispositions.
const (
	outcomeAck   = "ack"
	outcomeRetry = "retry"
	outcomeDrop  = "drop"
)

// BatchSummary aggregates one batch's dispositions.
type BatchSummary struct {
	Queue        queue.Name
	Total        int
	SuccessCount int
	FailureCount int
	Acked        int
	Retried      int
	Dropped      int
	Duration     time.Duration
	Results      []*ProcessingResult
}

// ProcessBatch runs every delivery in the batch through its processor.
// Deliveries are processed in chunks of the queue's concurrency cap; a
// chunk fully drains before the next one starts, so at most cap messages
// are in flight at once. Per message: success acks, a retryable failure
// within the retry budget stays pending for redelivery, anything else is
// acked away (dropped). A single failure never aborts the batch.
//
// An unknown queue acks every delivery so malformed work cannot wedge the
// stream, and reports ErrUnsupportedQueue.
func (d *Dispatcher) ProcessBatch(ctx context.Context, queueName string, deliveries []queue.Delivery) (*BatchSummary, error) {
	log, _ := logger.GetZapLogger(ctx)
	start := time.Now()

	def, ok := queue.Lookup(queueName)
	if !ok {
		for _, delivery := range deliveries {
			_ = d.acker.Ack(ctx, queue.Name(queueName), delivery.ID)
		}
		return nil, fmt.Errorf("queue %q: %w", queueName, errorsx.ErrUnsupportedQueue)
	}
	q := queue.Name(queueName)

	log.Info("batch_started",
		zap.String("queue", queueName),
		zap.Int("batchSize", len(deliveries)),
		zap.Int("concurrency", def.MaxConcurrency))

	summary := &BatchSummary{
		Queue:   q,
		Total:   len(deliveries),
		Results: make([]*ProcessingResult, len(deliveries)),
	}

	concurrency := def.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for offset := 0; offset < len(deliveries); offset += concurrency {
		end := offset + concurrency
		if end > len(deliveries) {
			end = len(deliveries)
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			eg.Go(func() error {
				summary.Results[i] = d.processOne(egCtx, q, def, deliveries[i])
				return nil
			})
		}
		_ = eg.Wait()
	}

	for i, result := range summary.Results {
		d.settle(ctx, q, deliveries[i], result, summary)
	}

	summary.Duration = time.Since(start)
	metrics.BatchProcessingTime.WithLabelValues(queueName).Observe(summary.Duration.Seconds())
	if summary.Total > 0 {
		metrics.BatchSuccessRate.WithLabelValues(queueName).Set(float64(summary.SuccessCount) / float64(summary.Total))
	}

	log.Info("batch_completed",
		zap.String("queue", queueName),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount),
		zap.Int("acked", summary.Acked),
		zap.Int("retried", summary.Retried),
		zap.Int("dropped", summary.Dropped),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// processOne decodes, routes and runs a single delivery, converting panics
// and routing failures into results.
func (d *Dispatcher) processOne(ctx context.Context, q queue.Name, def queue.Definition, delivery queue.Delivery) (result *ProcessingResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log, _ := logger.GetZapLogger(ctx)
			log.Error("processor_panic",
				zap.String("queue", string(q)),
				zap.String("messageID", delivery.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = failureResult(start, "PROCESSOR_PANIC", fmt.Errorf("processor panic: %v", r), true)
			result.MessageID = delivery.ID
		}
	}()

	msg, err := queue.DecodeBody(delivery.Body)
	if err != nil {
		result = failureResult(start, "DECODE_FAILED", err, false)
		result.MessageID = delivery.ID
		return result
	}
	msg.Metadata.CorrelationID = delivery.ID
	msg.Metadata.RetryCount = delivery.DeliveryCount - 1
	if msg.Metadata.RetryCount < 0 {
		msg.Metadata.RetryCount = 0
	}
	msg.Metadata.MaxRetries = def.MaxRetries

	proc, ok := d.processors[msg.Type]
	if !ok {
		result = failureResult(start, "UNSUPPORTED_TYPE", fmt.Errorf("no processor for message type %q", msg.Type), false)
		result.MessageID = delivery.ID
		return result
	}

	result, err = proc.Process(ctx, msg)
	if err != nil {
		result = failureResult(start, "PROCESSOR_ERROR", err, errorsx.IsRetryable(err))
	}
	result.MessageID = delivery.ID
	return result
}

// settle applies a result's disposition to the transport and the summary.
// Retrying is the absence of an ack: the message stays pending until the
// min idle time elapses and it is reclaimed.
func (d *Dispatcher) settle(ctx context.Context, q queue.Name, delivery queue.Delivery, result *ProcessingResult, summary *BatchSummary) {
	log, _ := logger.GetZapLogger(ctx)

	if result.Success {
		summary.SuccessCount++
	} else {
		summary.FailureCount++
	}

	outcome := outcomeAck
	switch {
	case result.Success:
		summary.Acked++
	case result.Err != nil && result.Err.Retryable && delivery.DeliveryCount <= d.retryBudget(q):
		outcome = outcomeRetry
		summary.Retried++
	default:
		outcome = outcomeDrop
		summary.Dropped++
		if result.Err != nil {
			log.Warn("message_dropped",
				zap.String("queue", string(q)),
				zap.String("messageID", delivery.ID),
				zap.String("code", result.Err.Code),
				zap.String("error", result.Err.Message),
				zap.Int("deliveryCount", delivery.DeliveryCount))
		}
	}

	if outcome != outcomeRetry {
		if err := d.acker.Ack(ctx, q, delivery.ID); err != nil {
			log.Error("ack_failed",
				zap.String("queue", string(q)),
				zap.String("messageID", delivery.ID),
				zap.Error(err))
		}
	}
	metrics.BatchMessagesTotal.WithLabelValues(string(q), outcome).Inc()
}

// retryBudget is the total delivery attempts a message gets: the first
// delivery plus MaxRetries redeliveries.
func (d *Dispatcher) retryBudget(q queue.Name) int {
	def, ok := queue.Lookup(string(q))
	if !ok {
		return 0
	}
	return def.MaxRetries
}
