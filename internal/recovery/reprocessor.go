package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
)

type ReprocessStore interface {
	ListFailed(ctx context.Context, limit int) ([]entity.FailedEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.FailedEvent, error)
	MarkReprocessed(ctx context.Context, id uuid.UUID) error
	MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error
	BumpRetry(ctx context.Context, id uuid.UUID) error
}

type ReprocessorConfig struct {
	Every      time.Duration // sweep interval
	BatchSize  int
	MaxAge     time.Duration // events older than this are ignored, not replayed
	MaxRetries int
}

func (c ReprocessorConfig) withDefaults() ReprocessorConfig {
	if c.Every <= 0 {
		c.Every = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// Reprocessor periodically replays dead-lettered messages through the same
// handler the live consumer uses, so a replay exercises the exact pipeline
// path that originally failed.
type Reprocessor struct {
	store   ReprocessStore
	handler stream.Handler
	cfg     ReprocessorConfig
}

func NewReprocessor(store ReprocessStore, handler stream.Handler, cfg ReprocessorConfig) *Reprocessor {
	return &Reprocessor{store: store, handler: handler, cfg: cfg.withDefaults()}
}

func (r *Reprocessor) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				log.Printf("[recovery] reprocess sweep failed: %v", err)
			}
		}
	}
}

// RunOnce replays one batch of FAILED events, oldest first.
func (r *Reprocessor) RunOnce(ctx context.Context) error {
	batch, err := r.store.ListFailed(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list failed events: %w", err)
	}

	for i := range batch {
		ev := &batch[i]
		if age := time.Since(ev.CreatedAt); age > r.cfg.MaxAge {
			reason := fmt.Sprintf("expired: %s old, limit %s", age.Round(time.Minute), r.cfg.MaxAge)
			if err := r.store.MarkIgnored(ctx, ev.ID, reason); err != nil {
				log.Printf("[recovery] failed_event_id=%s could not ignore: %v", ev.ID, err)
			}
			continue
		}
		r.replay(ctx, ev)
	}
	return nil
}

// ReprocessOne replays a single event on operator request, bypassing the age
// window and the batch schedule.
func (r *Reprocessor) ReprocessOne(ctx context.Context, id uuid.UUID) error {
	ev, err := r.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ev.Status != entity.FailedEventFailed {
		return fmt.Errorf("failed event %s is %s, not FAILED", id, ev.Status)
	}
	r.replay(ctx, ev)

	// replay outcome is reflected in the row; report it back to the caller
	after, err := r.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if after.Status == entity.FailedEventFailed {
		return fmt.Errorf("failed event %s: replay failed again (retry_count=%d)", id, after.RetryCount)
	}
	return nil
}

// IgnoreOne marks a single event IGNORED on operator request.
func (r *Reprocessor) IgnoreOne(ctx context.Context, id uuid.UUID, reason string) error {
	return r.store.MarkIgnored(ctx, id, reason)
}

func (r *Reprocessor) replay(ctx context.Context, ev *entity.FailedEvent) {
	var values map[string]interface{}
	if err := json.Unmarshal([]byte(ev.Value), &values); err != nil {
		// truncated or corrupt snapshot of the original message; it will
		// never replay
		if ierr := r.store.MarkIgnored(ctx, ev.ID, "stored value not decodable: "+err.Error()); ierr != nil {
			log.Printf("[recovery] failed_event_id=%s could not ignore: %v", ev.ID, ierr)
		}
		return
	}

	msg := stream.Message{ID: ev.MessageID, Values: values, Deliveries: int64(ev.RetryCount)}
	err := r.handler(ctx, msg)
	if err == nil {
		if merr := r.store.MarkReprocessed(ctx, ev.ID); merr != nil && !errors.Is(merr, postgresql.ErrNotFound) {
			log.Printf("[recovery] failed_event_id=%s could not mark reprocessed: %v", ev.ID, merr)
		}
		log.Printf("[recovery] failed_event_id=%s reprocessed message_id=%s", ev.ID, ev.MessageID)
		return
	}

	if errors.Is(err, stream.ErrUnprocessable) {
		if ierr := r.store.MarkIgnored(ctx, ev.ID, "unprocessable on replay: "+err.Error()); ierr != nil {
			log.Printf("[recovery] failed_event_id=%s could not ignore: %v", ev.ID, ierr)
		}
		return
	}

	if berr := r.store.BumpRetry(ctx, ev.ID); berr != nil {
		log.Printf("[recovery] failed_event_id=%s could not bump retry: %v", ev.ID, berr)
	}
	if ev.RetryCount+1 >= r.cfg.MaxRetries {
		reason := fmt.Sprintf("retry budget exhausted after %d attempts: %v", ev.RetryCount+1, err)
		if ierr := r.store.MarkIgnored(ctx, ev.ID, reason); ierr != nil {
			log.Printf("[recovery] failed_event_id=%s could not ignore: %v", ev.ID, ierr)
		}
		return
	}
	log.Printf("[recovery] failed_event_id=%s replay failed retry_count=%d: %v", ev.ID, ev.RetryCount+1, err)
}
