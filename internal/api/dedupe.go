/**
 * @description
 * This file implements a Redis-backed deduper for gateway webhook event ids.
 * The gateway may deliver the same event more than once; every commit in the
 * reconciliation path is idempotent anyway, so the deduper only saves the
 * redundant work. It therefore fails open: on any Redis error the event is
 * treated as unseen and processed normally.
 */
package api

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "jobforge:webhook_event:"
	dedupeTTL       = 24 * time.Hour
)

// EventDeduper remembers recently processed webhook event ids.
type EventDeduper struct {
	client *redis.Client
}

// NewEventDeduper creates a deduper over the given Redis client.
func NewEventDeduper(client *redis.Client) *EventDeduper {
	return &EventDeduper{client: client}
}

// Seen reports whether the event id was already fully processed.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	n, err := d.client.Exists(ctx, dedupeKeyPrefix+eventID).Result()
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"dedupe lookup failed; processing anyway\" event_id=%s err=%v", eventID, err)
		return false
	}
	return n > 0
}

// MarkProcessed records an event id after its durable write completed.
// Recording only after success keeps a failed processing attempt eligible
// for redelivery.
func (d *EventDeduper) MarkProcessed(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := d.client.Set(ctx, dedupeKeyPrefix+eventID, 1, dedupeTTL).Err(); err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to record processed event\" event_id=%s err=%v", eventID, err)
	}
}
