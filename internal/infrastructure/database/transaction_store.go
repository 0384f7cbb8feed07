package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
)

// TransactionStore persists transaction aggregates. The full aggregate is
// stored as a JSONB document; the scalar columns exist for querying and
// reporting and are derived from the document on every save.
type TransactionStore struct {
	db *pgxpool.Pool
}

// NewTransactionStore creates a PostgreSQL transaction store.
func NewTransactionStore(db *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{db: db}
}

// Get retrieves a transaction by ID.
func (s *TransactionStore) Get(ctx context.Context, id uuid.UUID) (*trade.Transaction, error) {
	var document json.RawMessage

	err := s.db.QueryRow(ctx, `
		SELECT document
		FROM compliance_transactions
		WHERE id = $1
	`, id).Scan(&document)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, errors.NewInternalError("failed to get transaction").WithCause(err)
	}

	var tx trade.Transaction
	if err := json.Unmarshal(document, &tx); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal transaction").WithCause(err)
	}

	return &tx, nil
}

// Save creates or updates a transaction.
func (s *TransactionStore) Save(ctx context.Context, tx *trade.Transaction) error {
	document, err := json.Marshal(tx)
	if err != nil {
		return errors.NewInternalError("failed to marshal transaction").WithCause(err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO compliance_transactions (
			id, external_ref, customer_account, legal_entity, status,
			transaction_date, document, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, tx.ID, tx.ExternalRef, tx.Holder.CustomerAccount, tx.Holder.LegalEntity,
		tx.Status.String(), tx.TransactionDate, document, tx.CreatedAt, tx.UpdatedAt)

	if err != nil {
		return errors.NewInternalError("failed to save transaction").WithCause(err)
	}

	return nil
}

// ListByStatus returns transactions in the given status, newest first.
// Used by the override queue endpoint.
func (s *TransactionStore) ListByStatus(ctx context.Context, status trade.ValidationStatus, limit int) ([]*trade.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT document
		FROM compliance_transactions
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, status.String(), limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list transactions").WithCause(err)
	}
	defer rows.Close()

	var result []*trade.Transaction
	for rows.Next() {
		var document json.RawMessage
		if err := rows.Scan(&document); err != nil {
			return nil, errors.NewInternalError("failed to scan transaction").WithCause(err)
		}

		var tx trade.Transaction
		if err := json.Unmarshal(document, &tx); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal transaction").WithCause(err)
		}
		result = append(result, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate transactions").WithCause(err)
	}

	return result, nil
}
