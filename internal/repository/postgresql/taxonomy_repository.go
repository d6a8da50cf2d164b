package postgresql

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jd-summary-service/internal/entity"
)

// UnknownPosition is the seeded fallback row for model output that matches
// no known position.
const UnknownPosition = "UNKNOWN"

type TaxonomyRepository struct {
	pool *pgxpool.Pool
}

func NewTaxonomyRepository(pool *pgxpool.Pool) *TaxonomyRepository {
	return &TaxonomyRepository{pool: pool}
}

// NormalizeName is the stable brand key: lower-cased, whitespace collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// GetOrCreateBrand resolves a brand by normalized name. Multiple consumers
// race here, so the insert relies on the unique constraint and re-reads on
// conflict instead of assuming a single writer.
func (r *TaxonomyRepository) GetOrCreateBrand(ctx context.Context, name string) (entity.Brand, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return entity.Brand{}, errors.New("empty brand name")
	}

	brand, err := r.findBrand(ctx, normalized)
	if err == nil {
		return brand, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return entity.Brand{}, err
	}

	const ins = `
INSERT INTO brands (name, normalized_name)
VALUES ($1, $2)
RETURNING id;
`
	var id int64
	err = r.pool.QueryRow(ctx, ins, name, normalized).Scan(&id)
	if err == nil {
		return entity.Brand{ID: id, Name: name, NormalizedName: normalized}, nil
	}
	if !isUniqueViolation(err) {
		return entity.Brand{}, err
	}
	return r.findBrand(ctx, normalized)
}

func (r *TaxonomyRepository) findBrand(ctx context.Context, normalized string) (entity.Brand, error) {
	const q = `SELECT id, name, normalized_name FROM brands WHERE normalized_name = $1;`

	var b entity.Brand
	err := r.pool.QueryRow(ctx, q, normalized).Scan(&b.ID, &b.Name, &b.NormalizedName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Brand{}, ErrNotFound
		}
		return entity.Brand{}, err
	}
	return b, nil
}

// ResolvePosition matches the model's choice against the fixed taxonomy,
// falling back to the UNKNOWN row. Positions are never created from LLM
// output.
func (r *TaxonomyRepository) ResolvePosition(ctx context.Context, name string) (entity.Position, error) {
	const q = `SELECT id, name, category_id FROM positions WHERE lower(name) = lower($1);`

	var p entity.Position
	err := r.pool.QueryRow(ctx, q, name).Scan(&p.ID, &p.Name, &p.CategoryID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return entity.Position{}, err
	}

	err = r.pool.QueryRow(ctx, q, UnknownPosition).Scan(&p.ID, &p.Name, &p.CategoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Position{}, ErrNotFound // taxonomy not seeded
		}
		return entity.Position{}, err
	}
	return p, nil
}

// GetOrCreateBrandPosition links a brand to a position, same race discipline
// as GetOrCreateBrand.
func (r *TaxonomyRepository) GetOrCreateBrandPosition(ctx context.Context, brandID, positionID int64) (entity.BrandPosition, error) {
	bp, err := r.findBrandPosition(ctx, brandID, positionID)
	if err == nil {
		return bp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return entity.BrandPosition{}, err
	}

	const ins = `
INSERT INTO brand_positions (brand_id, position_id)
VALUES ($1, $2)
RETURNING id;
`
	var id int64
	err = r.pool.QueryRow(ctx, ins, brandID, positionID).Scan(&id)
	if err == nil {
		return entity.BrandPosition{ID: id, BrandID: brandID, PositionID: positionID}, nil
	}
	if !isUniqueViolation(err) {
		return entity.BrandPosition{}, err
	}
	return r.findBrandPosition(ctx, brandID, positionID)
}

// PositionNames lists the fixed taxonomy (minus UNKNOWN) for the prompt's
// candidate list.
func (r *TaxonomyRepository) PositionNames(ctx context.Context) ([]string, error) {
	const q = `SELECT name FROM positions WHERE name <> $1 ORDER BY name;`

	rows, err := r.pool.Query(ctx, q, UnknownPosition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (r *TaxonomyRepository) findBrandPosition(ctx context.Context, brandID, positionID int64) (entity.BrandPosition, error) {
	const q = `SELECT id, brand_id, position_id FROM brand_positions WHERE brand_id = $1 AND position_id = $2;`

	var bp entity.BrandPosition
	err := r.pool.QueryRow(ctx, q, brandID, positionID).Scan(&bp.ID, &bp.BrandID, &bp.PositionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.BrandPosition{}, ErrNotFound
		}
		return entity.BrandPosition{}, err
	}
	return bp, nil
}
