package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jd-summary-service/internal/entity"
)

// AdminReprocessor serves operator requests from a process that does not run
// the pipeline. Replay here means re-publishing the stored message to its
// origin stream; the owning consumer group picks it up like any fresh message.
type AdminReprocessor struct {
	store  ReprocessStore
	rdb    *redis.Client
	maxLen int64
}

func NewAdminReprocessor(store ReprocessStore, rdb *redis.Client, maxLen int64) *AdminReprocessor {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &AdminReprocessor{store: store, rdb: rdb, maxLen: maxLen}
}

func (a *AdminReprocessor) ReprocessOne(ctx context.Context, id uuid.UUID) error {
	ev, err := a.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ev.Status != entity.FailedEventFailed {
		return fmt.Errorf("failed event %s is %s, not FAILED", id, ev.Status)
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(ev.Value), &values); err != nil {
		return fmt.Errorf("failed event %s: stored value not decodable: %v", id, err)
	}

	msgID, err := a.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ev.Stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("republish to %s: %w", ev.Stream, err)
	}

	if err := a.store.MarkReprocessed(ctx, ev.ID); err != nil {
		return err
	}
	log.Printf("[recovery] failed_event_id=%s republished to %s message_id=%s", ev.ID, ev.Stream, msgID)
	return nil
}

func (a *AdminReprocessor) IgnoreOne(ctx context.Context, id uuid.UUID, reason string) error {
	return a.store.MarkIgnored(ctx, id, reason)
}
