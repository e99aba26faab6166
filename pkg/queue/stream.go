package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// Delivery is one transport message handed to the dispatcher. ID is the
// stream entry id; DeliveryCount starts at 1 on first delivery and grows on
// each reclaim.
type Delivery struct {
	ID            string
	Body          []byte
	DeliveryCount int
}

// Transport consumes and publishes queue messages over redis streams with
// one consumer group shared by the worker fleet. Acknowledged entries are
// removed; unacknowledged entries stay pending and are claimed again by a
// consumer once they exceed the minimum idle time, which is the redelivery
// mechanism.
type Transport struct {
	client   *redis.Client
	group    string
	consumer string
	minIdle  time.Duration
}

// NewTransport returns a Transport for the given consumer identity.
func NewTransport(client *redis.Client, group, consumer string, minIdle time.Duration) *Transport {
	return &Transport{
		client:   client,
		group:    group,
		consumer: consumer,
		minIdle:  minIdle,
	}
}

// EnsureGroups creates the consumer group on every queue stream, creating
// the streams as needed. Existing groups are left untouched.
func (t *Transport) EnsureGroups(ctx context.Context) error {
	for _, queue := range All {
		err := t.client.XGroupCreateMkStream(ctx, string(queue), t.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("creating consumer group on %s: %w", queue, err)
		}
	}
	return nil
}

// ReadBatch collects up to the queue's batch size: first redeliveries whose
// idle time exceeded the minimum, then fresh entries. It returns an empty
// batch when the queue has nothing deliverable.
func (t *Transport) ReadBatch(ctx context.Context, queue Name, batchSize int) ([]Delivery, error) {
	deliveries := make([]Delivery, 0, batchSize)

	claimed, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   string(queue),
		Group:    t.group,
		Consumer: t.consumer,
		MinIdle:  t.minIdle,
		Start:    "0-0",
		Count:    int64(batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claiming pending entries on %s: %w", queue, err)
	}
	if len(claimed) > 0 {
		counts, err := t.deliveryCounts(ctx, queue, len(claimed))
		if err != nil {
			return nil, err
		}
		for _, msg := range claimed {
			delivery, ok := toDelivery(msg)
			if !ok {
				// Malformed entry with no body field: drop it.
				t.client.XAck(ctx, string(queue), t.group, msg.ID)
				t.client.XDel(ctx, string(queue), msg.ID)
				continue
			}
			delivery.DeliveryCount = counts[msg.ID]
			deliveries = append(deliveries, delivery)
		}
	}

	remaining := batchSize - len(deliveries)
	if remaining <= 0 {
		return deliveries, nil
	}

	streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    t.group,
		Consumer: t.consumer,
		Streams:  []string{string(queue), ">"},
		Count:    int64(remaining),
		Block:    -1,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading %s: %w", queue, err)
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			delivery, ok := toDelivery(msg)
			if !ok {
				t.client.XAck(ctx, string(queue), t.group, msg.ID)
				t.client.XDel(ctx, string(queue), msg.ID)
				continue
			}
			delivery.DeliveryCount = 1
			deliveries = append(deliveries, delivery)
		}
	}

	return deliveries, nil
}

// Ack acknowledges and removes a delivered entry. Not calling Ack leaves
// the entry pending for redelivery, which is how a retry is requested.
func (t *Transport) Ack(ctx context.Context, queue Name, id string) error {
	if err := t.client.XAck(ctx, string(queue), t.group, id).Err(); err != nil {
		return fmt.Errorf("acknowledging %s on %s: %w", id, queue, err)
	}
	if err := t.client.XDel(ctx, string(queue), id).Err(); err != nil {
		return fmt.Errorf("deleting %s on %s: %w", id, queue, err)
	}
	return nil
}

// Publish appends a message to a queue stream and returns the entry id.
func (t *Transport) Publish(ctx context.Context, queue Name, msg *Message) (string, error) {
	body, err := msg.EncodeBody()
	if err != nil {
		return "", err
	}
	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(queue),
		Values: map[string]any{bodyField: body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", queue, err)
	}
	return id, nil
}

func (t *Transport) deliveryCounts(ctx context.Context, queue Name, count int) (map[string]int, error) {
	pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(queue),
		Group:    t.group,
		Start:    "-",
		End:      "+",
		Count:    int64(count),
		Consumer: t.consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading pending info on %s: %w", queue, err)
	}
	counts := make(map[string]int, len(pending))
	for _, p := range pending {
		counts[p.ID] = int(p.RetryCount)
	}
	return counts, nil
}

func toDelivery(msg redis.XMessage) (Delivery, bool) {
	raw, ok := msg.Values[bodyField]
	if !ok {
		return Delivery{}, false
	}
	body, ok := raw.(string)
	if !ok {
		return Delivery{}, false
	}
	return Delivery{ID: msg.ID, Body: []byte(body)}, true
}
