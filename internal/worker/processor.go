package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/llm"
	"jd-summary-service/internal/metrics"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
)

type RecordRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error)
	MarkSummarizing(ctx context.Context, id, snapshotID uuid.UUID) error
	CacheLLMResult(ctx context.Context, id uuid.UUID, raw []byte) error
	AdoptSummary(ctx context.Context, id, summaryID uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error
}

type TaxonomyRepo interface {
	GetOrCreateBrand(ctx context.Context, name string) (entity.Brand, error)
	ResolvePosition(ctx context.Context, name string) (entity.Position, error)
	GetOrCreateBrandPosition(ctx context.Context, brandID, positionID int64) (entity.BrandPosition, error)
	PositionNames(ctx context.Context) ([]string, error)
}

type Committer interface {
	CompleteSummarization(ctx context.Context, recordID uuid.UUID, summary *entity.JobSummary, outbox *entity.OutboxEvent) error
	GetBySnapshotID(ctx context.Context, snapshotID uuid.UUID) (*entity.JobSummary, error)
}

type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (entity.StructuredResult, []byte, error)
}

// Processor runs one submission through Pre-LLM -> LLM -> Post-LLM. A nil
// return means the message may be acknowledged; an error means the work is
// retryable and the message must stay pending.
type Processor struct {
	records   RecordRepo
	taxonomy  TaxonomyRepo
	committer Committer
	invoker   Invoker
}

func NewProcessor(records RecordRepo, taxonomy TaxonomyRepo, committer Committer, invoker Invoker) *Processor {
	return &Processor{records: records, taxonomy: taxonomy, committer: committer, invoker: invoker}
}

func (p *Processor) Process(ctx context.Context, sub stream.Submission) error {
	start := time.Now()
	id := sub.RecordID

	// Pre-LLM: pin the snapshot and enter SUMMARIZING
	if err := p.records.MarkSummarizing(ctx, id, sub.SnapshotID); err != nil {
		if errors.Is(err, postgresql.ErrStaleTransition) {
			// already terminal (completed by recovery, failed, duplicate)
			log.Printf("[worker] processing_id=%s stale transition, skipping", id)
			return nil
		}
		return err
	}

	rec, err := p.records.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// LLM stage, skipped when a replayed message already has a cached result
	raw := rec.LLMResult
	var result entity.StructuredResult
	if len(raw) > 0 {
		cached, perr := llm.ParseResult(raw)
		if perr == nil {
			result = cached
			log.Printf("[worker] processing_id=%s using cached llm result", id)
		} else {
			raw = nil // cache unusable, call again
		}
	}
	if len(raw) == 0 {
		candidates, err := p.taxonomy.PositionNames(ctx)
		if err != nil {
			return err
		}

		metrics.LLMInFlight.Inc()
		result, raw, err = p.invoker.Invoke(ctx, llm.Request{
			CorrelationID:      id.String(),
			BrandHint:          sub.BrandHint,
			PositionHint:       sub.PositionHint,
			PositionCandidates: candidates,
			Skills:             sub.Skills,
			CanonicalText:      sub.Canonical,
		})
		metrics.LLMInFlight.Dec()
		if err != nil {
			if errors.Is(err, llm.ErrParse) {
				// prompt/schema drift is terminal for this attempt, not retryable
				if ferr := p.records.MarkFailed(ctx, id, entity.ErrCodeLLMParse, err.Error()); ferr != nil &&
					!errors.Is(ferr, postgresql.ErrStaleTransition) {
					return ferr
				}
				metrics.RecordsTerminal.WithLabelValues(string(entity.StatusFailed)).Inc()
				log.Printf("[worker] processing_id=%s status=FAILED error_code=%s duration_ms=%d",
					id, entity.ErrCodeLLMParse, time.Since(start).Milliseconds())
				return nil
			}
			// transport/infra: leave the message pending for redelivery
			return err
		}

		if err := p.records.CacheLLMResult(ctx, id, raw); err != nil {
			if errors.Is(err, postgresql.ErrStaleTransition) {
				return nil
			}
			return err
		}
	}

	// Post-LLM: taxonomy resolution + the atomic commit
	if err := p.CompleteFromResult(ctx, id, sub.SnapshotID, sub.BrandHint, sub.PositionHint, result); err != nil {
		return err
	}

	log.Printf("[worker] processing_id=%s status=COMPLETED duration_ms=%d",
		id, time.Since(start).Milliseconds())
	return nil
}
