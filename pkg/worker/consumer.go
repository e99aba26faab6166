package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/queue"
)

// Consumer polls the queues in priority order and feeds each non-empty
// batch to the dispatcher. Document ingestion always drains ahead of
// webhooks, which drain ahead of bulk reprocessing.
type Consumer struct {
	transport    *queue.Transport
	dispatcher   *Dispatcher
	pollInterval time.Duration
}

func NewConsumer(transport *queue.Transport, dispatcher *Dispatcher, pollInterval time.Duration) *Consumer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Consumer{
		transport:    transport,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
	}
}

// Run consumes until the context is cancelled. Transport errors are logged
// and retried on the next poll rather than stopping the loop.
func (c *Consumer) Run(ctx context.Context) error {
	log, _ := logger.GetZapLogger(ctx)

	if err := c.transport.EnsureGroups(ctx); err != nil {
		return err
	}

	for {
		worked := false
		for _, q := range queue.All {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			def := queue.Definitions[q]
			deliveries, err := c.transport.ReadBatch(ctx, q, def.BatchSize)
			if err != nil {
				log.Error("read_batch_failed",
					zap.String("queue", string(q)),
					zap.Error(err))
				continue
			}
			if len(deliveries) == 0 {
				continue
			}
			worked = true
			if _, err := c.dispatcher.ProcessBatch(ctx, string(q), deliveries); err != nil {
				log.Error("process_batch_failed",
					zap.String("queue", string(q)),
					zap.Error(err))
			}
		}
		if !worked {
			select {
			case <-time.After(c.pollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
