package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/metrics"
	"jd-summary-service/internal/repository/postgresql"
)

// CompleteFromResult is the Post-LLM stage: resolve taxonomy identities, then
// commit summary + outbox row + record completion atomically. Stuck recovery
// replays exactly this from a cached result, so it must not touch the LLM.
func (p *Processor) CompleteFromResult(
	ctx context.Context,
	recordID, snapshotID uuid.UUID,
	brandHint, positionHint string,
	result entity.StructuredResult,
) error {
	brandName := firstNonEmpty(result.BrandName, brandHint, "Unknown")
	brand, err := p.taxonomy.GetOrCreateBrand(ctx, brandName)
	if err != nil {
		return err
	}

	position, err := p.taxonomy.ResolvePosition(ctx, firstNonEmpty(result.PositionName, positionHint))
	if err != nil {
		return err
	}

	link, err := p.taxonomy.GetOrCreateBrandPosition(ctx, brand.ID, position.ID)
	if err != nil {
		return err
	}

	summary := &entity.JobSummary{
		ID:              uuid.New(),
		SnapshotID:      snapshotID,
		BrandID:         brand.ID,
		BrandName:       brand.Name,
		PositionID:      position.ID,
		PositionName:    position.Name,
		BrandPositionID: link.ID,
		CategoryID:      position.CategoryID,
		Result:          result,
		Active:          true,
	}

	outbox, err := buildOutboxEvent(recordID, summary)
	if err != nil {
		return err
	}

	if err := p.committer.CompleteSummarization(ctx, recordID, summary, outbox); err != nil {
		if errors.Is(err, postgresql.ErrAlreadyCompleted) {
			return p.adoptExisting(ctx, recordID, snapshotID)
		}
		return err
	}
	metrics.RecordsTerminal.WithLabelValues(string(entity.StatusCompleted)).Inc()
	return nil
}

// adoptExisting resolves a lost completion race. Another record already
// committed this snapshot's summary, so this record points at that summary
// and completes too; without this the loser would sit in SUMMARIZING and the
// stuck sweep would re-list it forever.
func (p *Processor) adoptExisting(ctx context.Context, recordID, snapshotID uuid.UUID) error {
	existing, err := p.committer.GetBySnapshotID(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			// no summary for the snapshot: the record itself left SUMMARIZING
			// by another path, nothing to adopt
			log.Printf("[worker] processing_id=%s completion raced but no summary exists, record already settled", recordID)
			return nil
		}
		return err
	}

	if err := p.records.AdoptSummary(ctx, recordID, existing.ID); err != nil {
		if errors.Is(err, postgresql.ErrStaleTransition) {
			return nil // this record was the one completed after all
		}
		return err
	}
	metrics.RecordsTerminal.WithLabelValues(string(entity.StatusCompleted)).Inc()
	log.Printf("[worker] processing_id=%s adopted summary_id=%s committed by a concurrent attempt", recordID, existing.ID)
	return nil
}

// buildOutboxEvent flattens the fact into a serialization-stable payload; no
// nested domain types cross the outbox boundary.
func buildOutboxEvent(recordID uuid.UUID, s *entity.JobSummary) (*entity.OutboxEvent, error) {
	eventID := uuid.New()
	payload, err := json.Marshal(map[string]any{
		"event_id":          eventID.String(),
		"summary_id":        s.ID.String(),
		"snapshot_id":       s.SnapshotID.String(),
		"record_id":         recordID.String(),
		"brand_id":          s.BrandID,
		"brand_name":        s.BrandName,
		"position_id":       s.PositionID,
		"position_name":     s.PositionName,
		"brand_position_id": s.BrandPositionID,
		"career_type":       s.Result.CareerType,
		"summary":           s.Result.Summary,
		"occurred_at":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}

	return &entity.OutboxEvent{
		ID:            eventID,
		AggregateType: entity.AggregateJobSummary,
		AggregateID:   s.ID.String(),
		EventType:     entity.EventSummaryCompleted,
		Payload:       payload,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
