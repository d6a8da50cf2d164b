package postgresql

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedEventRepository backs the idempotent-consumer check: a
// (event_id, consumer_group) row means that group already acted.
type ProcessedEventRepository struct {
	pool *pgxpool.Pool
}

func NewProcessedEventRepository(pool *pgxpool.Pool) *ProcessedEventRepository {
	return &ProcessedEventRepository{pool: pool}
}

func (r *ProcessedEventRepository) AlreadyProcessed(ctx context.Context, eventID uuid.UUID, group string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer_group = $2);`

	var exists bool
	if err := r.pool.QueryRow(ctx, q, eventID, group).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Mark records the event as acted on. ON CONFLICT DO NOTHING makes the mark
// safe under concurrent redelivery; the side effect itself must be
// repeatable, which the document upsert is.
func (r *ProcessedEventRepository) Mark(ctx context.Context, eventID uuid.UUID, group string) error {
	const q = `
INSERT INTO processed_events (event_id, consumer_group)
VALUES ($1, $2)
ON CONFLICT (event_id, consumer_group) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, q, eventID, group)
	return err
}
