package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jd-summary-service/internal/entity"
)

// ErrAlreadyCompleted means another committer (live processing vs. stuck
// recovery) finished this snapshot first. The loser must treat its own work
// as done, not as a failure.
var ErrAlreadyCompleted = errors.New("summarization already completed")

type SummaryRepository struct {
	pool *pgxpool.Pool
}

func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{pool: pool}
}

// CompleteSummarization is the pipeline's consistency anchor: the summary
// row, its outbox fact and the record's COMPLETED transition commit as one
// transaction or not at all. The unique index on job_summaries.snapshot_id
// and the status-guarded UPDATE both enforce at-most-once completion.
func (r *SummaryRepository) CompleteSummarization(
	ctx context.Context,
	recordID uuid.UUID,
	summary *entity.JobSummary,
	outbox *entity.OutboxEvent,
) error {
	resultJSON, err := json.Marshal(summary.Result)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insSummary = `
INSERT INTO job_summaries
	(id, snapshot_id, brand_id, brand_name, position_id, position_name, brand_position_id, category_id, result, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
RETURNING created_at;
`
	err = tx.QueryRow(ctx, insSummary,
		summary.ID,
		summary.SnapshotID,
		summary.BrandID,
		summary.BrandName,
		summary.PositionID,
		summary.PositionName,
		summary.BrandPositionID,
		summary.CategoryID,
		resultJSON,
	).Scan(&summary.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyCompleted
		}
		return err
	}

	const insOutbox = `
INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`
	err = tx.QueryRow(ctx, insOutbox,
		outbox.ID,
		outbox.AggregateType,
		outbox.AggregateID,
		outbox.EventType,
		string(outbox.Payload),
	).Scan(&outbox.CreatedAt)
	if err != nil {
		return err
	}

	const updRecord = `
UPDATE processing_records
SET status = 'COMPLETED', summary_id = $2, updated_at = now()
WHERE id = $1 AND status = 'SUMMARIZING';
`
	tag, err := tx.Exec(ctx, updRecord, recordID, summary.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCompleted
	}

	return tx.Commit(ctx)
}

func (r *SummaryRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.JobSummary, error) {
	const q = selectSummary + `WHERE id = $1;`
	return r.getOne(ctx, q, id)
}

// GetBySnapshotID finds the summary another committer already wrote for a
// snapshot. Race losers use it to adopt the winner's result.
func (r *SummaryRepository) GetBySnapshotID(ctx context.Context, snapshotID uuid.UUID) (*entity.JobSummary, error) {
	const q = selectSummary + `WHERE snapshot_id = $1;`
	return r.getOne(ctx, q, snapshotID)
}

const selectSummary = `
SELECT id, snapshot_id, brand_id, brand_name, position_id, position_name,
       brand_position_id, category_id, result, active, created_at
FROM job_summaries
`

func (r *SummaryRepository) getOne(ctx context.Context, q string, arg any) (*entity.JobSummary, error) {
	var (
		s          entity.JobSummary
		resultJSON []byte
	)
	err := r.pool.QueryRow(ctx, q, arg).Scan(
		&s.ID,
		&s.SnapshotID,
		&s.BrandID,
		&s.BrandName,
		&s.PositionID,
		&s.PositionName,
		&s.BrandPositionID,
		&s.CategoryID,
		&resultJSON,
		&s.Active,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(resultJSON, &s.Result); err != nil {
		return nil, err
	}
	return &s, nil
}
