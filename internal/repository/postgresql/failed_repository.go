package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jd-summary-service/internal/entity"
)

type FailedEventRepository struct {
	pool *pgxpool.Pool
}

func NewFailedEventRepository(pool *pgxpool.Pool) *FailedEventRepository {
	return &FailedEventRepository{pool: pool}
}

// Create persists the dead-lettered message. Diagnostic fields are capped
// before the write so the failure table cannot itself be poisoned.
func (r *FailedEventRepository) Create(ctx context.Context, ev *entity.FailedEvent) error {
	const q = `
INSERT INTO failed_events
	(id, stream, message_id, key, value, consumer_group, error_type, error_message, stack, retry_count, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'FAILED')
RETURNING created_at, updated_at;
`
	return r.pool.QueryRow(ctx, q,
		ev.ID,
		ev.Stream,
		ev.MessageID,
		ev.Key,
		entity.Truncate(ev.Value, entity.FailedEventValueCap),
		ev.ConsumerGroup,
		entity.Truncate(ev.ErrorType, entity.FailedEventErrorCap),
		entity.Truncate(ev.ErrorMessage, entity.FailedEventErrorCap),
		entity.Truncate(ev.Stack, entity.FailedEventStackCap),
		ev.RetryCount,
	).Scan(&ev.CreatedAt, &ev.UpdatedAt)
}

func (r *FailedEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.FailedEvent, error) {
	const q = `
SELECT id, stream, message_id, key, value, consumer_group, error_type, error_message, stack,
       retry_count, status, ignore_reason, created_at, updated_at
FROM failed_events
WHERE id = $1;
`
	ev, err := scanFailedEvent(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

// ListFailed returns the oldest still-FAILED events first, capped to one
// reprocessing batch.
func (r *FailedEventRepository) ListFailed(ctx context.Context, limit int) ([]entity.FailedEvent, error) {
	const q = `
SELECT id, stream, message_id, key, value, consumer_group, error_type, error_message, stack,
       retry_count, status, ignore_reason, created_at, updated_at
FROM failed_events
WHERE status = 'FAILED'
ORDER BY created_at
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.FailedEvent
	for rows.Next() {
		ev, err := scanFailedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (r *FailedEventRepository) MarkReprocessed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE failed_events SET status = 'REPROCESSED', updated_at = now() WHERE id = $1 AND status = 'FAILED';`
	return r.execGuarded(ctx, q, id)
}

func (r *FailedEventRepository) MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `
UPDATE failed_events
SET status = 'IGNORED', ignore_reason = $2, updated_at = now()
WHERE id = $1 AND status = 'FAILED';
`
	tag, err := r.pool.Exec(ctx, q, id, entity.Truncate(reason, entity.FailedEventErrorCap))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FailedEventRepository) BumpRetry(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE failed_events SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1;`
	return r.execGuarded(ctx, q, id)
}

func (r *FailedEventRepository) execGuarded(ctx context.Context, q string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFailedEvent(row rowScanner) (*entity.FailedEvent, error) {
	var (
		ev     entity.FailedEvent
		status string
	)
	if err := row.Scan(
		&ev.ID,
		&ev.Stream,
		&ev.MessageID,
		&ev.Key,
		&ev.Value,
		&ev.ConsumerGroup,
		&ev.ErrorType,
		&ev.ErrorMessage,
		&ev.Stack,
		&ev.RetryCount,
		&status,
		&ev.IgnoreReason,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ev.Status = entity.FailedEventStatus(status)
	return &ev, nil
}
