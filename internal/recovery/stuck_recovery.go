package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/llm"
	"jd-summary-service/internal/metrics"
)

type StuckLister interface {
	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]entity.ProcessingRecord, error)
	MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error
}

type SnapshotGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.JdSnapshot, error)
}

type Completer interface {
	CompleteFromResult(ctx context.Context, recordID, snapshotID uuid.UUID, brandHint, positionHint string, result entity.StructuredResult) error
}

type StuckRecoveryConfig struct {
	Every      time.Duration
	StuckAfter time.Duration // SUMMARIZING older than this is considered stuck
	BatchSize  int
}

func (c StuckRecoveryConfig) withDefaults() StuckRecoveryConfig {
	if c.Every <= 0 {
		c.Every = time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	return c
}

// StuckRecovery finishes records that paid for an LLM call but crashed before
// the completion commit. It replays only the Post-LLM stage from the cached
// result; it never calls the model again.
type StuckRecovery struct {
	records   StuckLister
	snapshots SnapshotGetter
	completer Completer
	cfg       StuckRecoveryConfig
}

func NewStuckRecovery(records StuckLister, snapshots SnapshotGetter, completer Completer, cfg StuckRecoveryConfig) *StuckRecovery {
	return &StuckRecovery{records: records, snapshots: snapshots, completer: completer, cfg: cfg.withDefaults()}
}

func (s *StuckRecovery) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.Printf("[recovery] stuck sweep failed: %v", err)
			}
		}
	}
}

func (s *StuckRecovery) RunOnce(ctx context.Context) error {
	stuck, err := s.records.ListStuck(ctx, s.cfg.StuckAfter, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stuck records: %w", err)
	}

	for i := range stuck {
		s.recover(ctx, &stuck[i])
	}
	return nil
}

func (s *StuckRecovery) recover(ctx context.Context, rec *entity.ProcessingRecord) {
	if rec.SnapshotID == nil {
		// cannot happen through the normal pipeline; park it for operators
		s.fail(ctx, rec.ID, "stuck record has no snapshot")
		return
	}

	result, err := llm.ParseResult(rec.LLMResult)
	if err != nil {
		// cached result no longer passes the schema; a new attempt needs a
		// fresh submission, not a replay
		s.fail(ctx, rec.ID, "cached llm result unusable: "+err.Error())
		return
	}

	snap, err := s.snapshots.GetByID(ctx, *rec.SnapshotID)
	if err != nil {
		log.Printf("[recovery] processing_id=%s snapshot lookup failed: %v", rec.ID, err)
		return
	}

	// the completer settles completion races itself: when another record
	// already committed this snapshot, it adopts that summary and the record
	// still leaves SUMMARIZING
	if err := s.completer.CompleteFromResult(ctx, rec.ID, snap.ID, snap.BrandHint, snap.PositionHint, result); err != nil {
		// still retryable next sweep
		log.Printf("[recovery] processing_id=%s recovery attempt failed: %v", rec.ID, err)
		return
	}
	metrics.StuckRecovered.Inc()
	log.Printf("[recovery] processing_id=%s recovered from cached result", rec.ID)
}

func (s *StuckRecovery) fail(ctx context.Context, id uuid.UUID, msg string) {
	if err := s.records.MarkFailed(ctx, id, entity.ErrCodeRecoveryExhausted, msg); err != nil {
		log.Printf("[recovery] processing_id=%s could not park record: %v", id, err)
		return
	}
	metrics.RecordsTerminal.WithLabelValues(string(entity.StatusFailed)).Inc()
	log.Printf("[recovery] processing_id=%s status=FAILED error_code=%s", id, entity.ErrCodeRecoveryExhausted)
}
