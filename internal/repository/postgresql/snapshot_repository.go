package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jd-summary-service/internal/entity"
)

type SnapshotRepository struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Create inserts the snapshot; on a content-hash collision (another consumer
// won the race) it re-reads and returns the stored row's id in snap.ID.
func (r *SnapshotRepository) Create(ctx context.Context, snap *entity.JdSnapshot) error {
	const q = `
INSERT INTO jd_snapshots
	(id, canonical_text, content_hash, simhash, brand_hint, position_hint, period_from, period_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at;
`
	err := r.pool.QueryRow(ctx, q,
		snap.ID,
		snap.CanonicalText,
		snap.ContentHash,
		int64(snap.Simhash),
		snap.BrandHint,
		snap.PositionHint,
		snap.PeriodFrom,
		snap.PeriodTo,
	).Scan(&snap.CreatedAt)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}

	existing, err := r.GetByContentHash(ctx, snap.ContentHash)
	if err != nil {
		return err
	}
	*snap = *existing
	return nil
}

func (r *SnapshotRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.JdSnapshot, error) {
	const q = `
SELECT id, canonical_text, content_hash, simhash, brand_hint, position_hint, period_from, period_to, created_at
FROM jd_snapshots
WHERE id = $1;
`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

func (r *SnapshotRepository) GetByContentHash(ctx context.Context, hash string) (*entity.JdSnapshot, error) {
	const q = `
SELECT id, canonical_text, content_hash, simhash, brand_hint, position_hint, period_from, period_to, created_at
FROM jd_snapshots
WHERE content_hash = $1;
`
	return r.scanOne(r.pool.QueryRow(ctx, q, hash))
}

// FindByContentHash returns the snapshot together with the fate of its most
// recent processing attempt, which is what the intake policy decides on.
func (r *SnapshotRepository) FindByContentHash(ctx context.Context, hash string) (*entity.SnapshotMatch, error) {
	const q = `
SELECT s.id, s.canonical_text, s.content_hash, s.simhash, s.brand_hint, s.position_hint,
       s.period_from, s.period_to, s.created_at,
       COALESCE((
           SELECT pr.status FROM processing_records pr
           WHERE pr.snapshot_id = s.id
           ORDER BY pr.created_at DESC
           LIMIT 1
       ), 'RECEIVED'),
       EXISTS(SELECT 1 FROM job_summaries js WHERE js.snapshot_id = s.id)
FROM jd_snapshots s
WHERE s.content_hash = $1;
`
	var (
		m       entity.SnapshotMatch
		simhash int64
		status  string
	)
	err := r.pool.QueryRow(ctx, q, hash).Scan(
		&m.Snapshot.ID,
		&m.Snapshot.CanonicalText,
		&m.Snapshot.ContentHash,
		&simhash,
		&m.Snapshot.BrandHint,
		&m.Snapshot.PositionHint,
		&m.Snapshot.PeriodFrom,
		&m.Snapshot.PeriodTo,
		&m.Snapshot.CreatedAt,
		&status,
		&m.HasSummary,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Snapshot.Simhash = uint64(simhash)
	m.LatestStatus = entity.ProcessingStatus(status)
	return &m, nil
}

// ActiveSummaryExistsForURL reports whether the URL already produced an
// active summary through any prior record.
func (r *SnapshotRepository) ActiveSummaryExistsForURL(ctx context.Context, url string) (bool, error) {
	const q = `
SELECT EXISTS(
	SELECT 1
	FROM processing_records pr
	JOIN job_summaries js ON js.id = pr.summary_id
	WHERE pr.source_url = $1 AND js.active
);
`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, url).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// RecentFingerprints returns the newest snapshots' fingerprints for the
// near-duplicate scan. Hamming distance is computed in Go; the window keeps
// the scan bounded.
func (r *SnapshotRepository) RecentFingerprints(ctx context.Context, limit int) ([]entity.JdSnapshot, error) {
	const q = `
SELECT id, content_hash, simhash, brand_hint
FROM jd_snapshots
ORDER BY created_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.JdSnapshot
	for rows.Next() {
		var (
			s       entity.JdSnapshot
			simhash int64
		)
		if err := rows.Scan(&s.ID, &s.ContentHash, &simhash, &s.BrandHint); err != nil {
			return nil, err
		}
		s.Simhash = uint64(simhash)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) scanOne(row pgx.Row) (*entity.JdSnapshot, error) {
	var (
		s       entity.JdSnapshot
		simhash int64
	)
	err := row.Scan(
		&s.ID,
		&s.CanonicalText,
		&s.ContentHash,
		&simhash,
		&s.BrandHint,
		&s.PositionHint,
		&s.PeriodFrom,
		&s.PeriodTo,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Simhash = uint64(simhash)
	return &s, nil
}
