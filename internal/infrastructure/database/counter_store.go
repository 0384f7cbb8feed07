package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CounterStore persists threshold bucket totals. Each bucket is one row
// keyed by the bucket key; expired buckets are never read again because
// the key embeds the period, so they can be purged out of band.
type CounterStore struct {
	db *pgxpool.Pool
}

// NewCounterStore creates a PostgreSQL counter store.
func NewCounterStore(db *pgxpool.Pool) *CounterStore {
	return &CounterStore{db: db}
}

// Total returns the committed total for the bucket, zero if unseen.
func (s *CounterStore) Total(ctx context.Context, key string) (values.Quantity, error) {
	var grams string
	err := s.db.QueryRow(ctx, `
		SELECT total_grams::TEXT
		FROM threshold_counters
		WHERE bucket_key = $1
	`, key).Scan(&grams)

	if err != nil {
		if err == pgx.ErrNoRows {
			return values.ZeroQuantity(), nil
		}
		return values.Quantity{}, errors.NewInternalError("failed to read counter").WithCause(err)
	}

	return parseCounterTotal(grams)
}

// Add increments the bucket atomically and returns the new total. The
// delta may be negative when a commit is being rolled back.
func (s *CounterStore) Add(ctx context.Context, key string, delta values.Quantity) (values.Quantity, error) {
	var grams string
	err := s.db.QueryRow(ctx, `
		INSERT INTO threshold_counters (bucket_key, total_grams, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (bucket_key) DO UPDATE SET
			total_grams = threshold_counters.total_grams + EXCLUDED.total_grams,
			updated_at = NOW()
		RETURNING total_grams::TEXT
	`, key, delta.Grams().String()).Scan(&grams)

	if err != nil {
		return values.Quantity{}, errors.NewInternalError("failed to increment counter").WithCause(err)
	}

	return parseCounterTotal(grams)
}

// parseCounterTotal converts the stored NUMERIC text into a Quantity.
// Totals can dip negative mid-rollback, so parsing skips the usual
// non-negative validation.
func parseCounterTotal(grams string) (values.Quantity, error) {
	dec, err := decimal.NewFromString(grams)
	if err != nil {
		return values.Quantity{}, errors.NewInternalError("corrupt counter value in database").WithCause(err)
	}
	return values.NewGrams(dec), nil
}
