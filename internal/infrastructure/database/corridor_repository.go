package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CorridorRepository answers corridor permissions from the permit table,
// supplemented by statically configured origin-destination pairs. A static
// pair (e.g. "NL-DE") permits the corridor for every holder category.
type CorridorRepository struct {
	db     *pgxpool.Pool
	static map[string]bool
}

// NewCorridorRepository creates a repository over the corridor permit table.
// staticCorridors entries are "XX-YY" pairs; malformed entries are ignored.
func NewCorridorRepository(db *pgxpool.Pool, staticCorridors []string) *CorridorRepository {
	static := make(map[string]bool, len(staticCorridors))
	for _, pair := range staticCorridors {
		parts := strings.SplitN(pair, "-", 2)
		if len(parts) != 2 {
			continue
		}
		origin, err := values.NewCountry(parts[0])
		if err != nil {
			continue
		}
		destination, err := values.NewCountry(parts[1])
		if err != nil {
			continue
		}
		static[origin.Code()+"-"+destination.Code()] = true
	}
	return &CorridorRepository{db: db, static: static}
}

// Permitted reports whether goods may move from origin to destination for
// the holder category. The permit table rows either name a category or
// apply to all (empty category).
func (r *CorridorRepository) Permitted(ctx context.Context, origin, destination values.Country, category trade.CustomerCategory) (bool, error) {
	if r.static[origin.Code()+"-"+destination.Code()] {
		return true, nil
	}

	var permitted bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permitted_corridors
			WHERE origin = $1
			  AND destination = $2
			  AND (customer_category = '' OR customer_category = $3)
		)
	`, origin.Code(), destination.Code(), string(category)).Scan(&permitted)
	if err != nil {
		return false, errors.NewInternalError("failed to query corridor permits").WithCause(err)
	}

	return permitted, nil
}
