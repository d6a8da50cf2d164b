package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jd-summary-service/internal/entity"
)

// ErrStaleTransition means the record already left the state the caller
// assumed. Status moves are monotonic, so callers treat this as "someone
// else got there first" and stop.
var ErrStaleTransition = errors.New("stale status transition")

type RecordRepository struct {
	pool *pgxpool.Pool
}

func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func (r *RecordRepository) Create(ctx context.Context, rec *entity.ProcessingRecord) error {
	const q = `
INSERT INTO processing_records
	(id, source_type, source_url, content_hash, simhash, status, snapshot_id, duplicate_reason, error_code, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at, updated_at;
`
	return r.pool.QueryRow(ctx, q,
		rec.ID,
		string(rec.SourceType),
		rec.SourceURL,
		rec.ContentHash,
		int64(rec.Simhash),
		string(rec.Status),
		rec.SnapshotID,
		rec.DuplicateReason,
		rec.ErrorCode,
		rec.ErrorMsg,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error) {
	const q = `
SELECT id, source_type, source_url, content_hash, simhash, status, snapshot_id, summary_id,
       llm_result, duplicate_reason, error_code, error_message, created_at, updated_at
FROM processing_records
WHERE id = $1;
`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// MarkSummarizing moves RECEIVED -> SUMMARIZING and pins the snapshot id.
// FAILED may re-enter too: that is the reprocess path, and it clears the old
// error fields. A record already in SUMMARIZING is fine (replay); COMPLETED
// and DUPLICATE are stale transitions.
func (r *RecordRepository) MarkSummarizing(ctx context.Context, id, snapshotID uuid.UUID) error {
	const q = `
UPDATE processing_records
SET status = 'SUMMARIZING', snapshot_id = $2, error_code = NULL, error_message = NULL, updated_at = now()
WHERE id = $1 AND status IN ('RECEIVED', 'FAILED');
`
	tag, err := r.pool.Exec(ctx, q, id, snapshotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == entity.StatusSummarizing {
		return nil
	}
	return ErrStaleTransition
}

// CacheLLMResult stores the raw structured result so a crash between the LLM
// call and the commit never costs a second LLM call.
func (r *RecordRepository) CacheLLMResult(ctx context.Context, id uuid.UUID, raw []byte) error {
	const q = `
UPDATE processing_records
SET llm_result = $2, updated_at = now()
WHERE id = $1 AND status = 'SUMMARIZING';
`
	tag, err := r.pool.Exec(ctx, q, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// AdoptSummary completes a record against a summary another record already
// committed for the same snapshot. This is how a completion-race loser leaves
// SUMMARIZING instead of lingering there forever.
func (r *RecordRepository) AdoptSummary(ctx context.Context, id, summaryID uuid.UUID) error {
	const q = `
UPDATE processing_records
SET status = 'COMPLETED', summary_id = $2, updated_at = now()
WHERE id = $1 AND status = 'SUMMARIZING';
`
	tag, err := r.pool.Exec(ctx, q, id, summaryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkFailed is terminal and only reachable from non-terminal states.
func (r *RecordRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error {
	const q = `
UPDATE processing_records
SET status = 'FAILED', error_code = $2, error_message = $3, updated_at = now()
WHERE id = $1 AND status IN ('RECEIVED', 'SUMMARIZING');
`
	tag, err := r.pool.Exec(ctx, q, id, code, entity.Truncate(msg, entity.FailedEventErrorCap))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListStuck returns SUMMARIZING records whose LLM result was cached but whose
// commit never ran, untouched for at least olderThan.
func (r *RecordRepository) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]entity.ProcessingRecord, error) {
	const q = `
SELECT id, source_type, source_url, content_hash, simhash, status, snapshot_id, summary_id,
       llm_result, duplicate_reason, error_code, error_message, created_at, updated_at
FROM processing_records
WHERE status = 'SUMMARIZING'
  AND llm_result IS NOT NULL
  AND updated_at < now() - $1::interval
ORDER BY updated_at
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, olderThan.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*entity.ProcessingRecord, error) {
	var (
		rec        entity.ProcessingRecord
		sourceType string
		status     string
		simhash    int64
	)
	if err := row.Scan(
		&rec.ID,
		&sourceType,
		&rec.SourceURL,
		&rec.ContentHash,
		&simhash,
		&status,
		&rec.SnapshotID,
		&rec.SummaryID,
		&rec.LLMResult,
		&rec.DuplicateReason,
		&rec.ErrorCode,
		&rec.ErrorMsg,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.SourceType = entity.SourceType(sourceType)
	rec.Status = entity.ProcessingStatus(status)
	rec.Simhash = uint64(simhash)
	return &rec, nil
}
