package database

import (
	"context"
	goerrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
)

// CustomerRepository resolves customer accounts against the replicated
// customer master. The master system owns the data; this table is a
// read-only projection kept current by an upstream sync.
type CustomerRepository struct {
	db *pgxpool.Pool
}

// NewCustomerRepository creates a PostgreSQL customer repository.
func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Resolve returns the holder identity for an account. Unknown accounts are a
// not-found condition, not an empty holder.
func (r *CustomerRepository) Resolve(ctx context.Context, account string) (trade.Holder, error) {
	var holder trade.Holder
	var category string

	err := r.db.QueryRow(ctx, `
		SELECT account, legal_entity, category
		FROM customers
		WHERE account = $1
	`, account).Scan(&holder.CustomerAccount, &holder.LegalEntity, &category)
	if goerrors.Is(err, pgx.ErrNoRows) {
		return trade.Holder{}, errors.ErrCustomerNotFound
	}
	if err != nil {
		return trade.Holder{}, errors.NewInternalError("failed to resolve customer").WithCause(err)
	}

	holder.Category = trade.CustomerCategory(category)
	return holder, nil
}

// ProductRepository resolves the substance behind an item, per data area.
// Substance codes always come from here; callers never supply them.
type ProductRepository struct {
	db *pgxpool.Pool
}

// NewProductRepository creates a PostgreSQL product repository.
func NewProductRepository(db *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: db}
}

// ResolveSubstance returns the substance code an item carries, empty when
// the product is not substance-bearing. An unknown item is an error: the
// engine must not silently treat it as exempt.
func (r *ProductRepository) ResolveSubstance(ctx context.Context, itemNumber, dataAreaID string) (string, error) {
	var substanceCode string

	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(substance_code, '')
		FROM products
		WHERE item_number = $1 AND data_area_id = $2
	`, itemNumber, dataAreaID).Scan(&substanceCode)
	if goerrors.Is(err, pgx.ErrNoRows) {
		return "", errors.NewNotFoundError("product")
	}
	if err != nil {
		return "", errors.NewInternalError("failed to resolve product substance").WithCause(err)
	}

	return substanceCode, nil
}
