package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// LicenceRepository implements licence.Repository against the replicated
// licence master data tables.
type LicenceRepository struct {
	db *pgxpool.Pool
}

// NewLicenceRepository creates a PostgreSQL licence repository.
func NewLicenceRepository(db *pgxpool.Pool) *LicenceRepository {
	return &LicenceRepository{db: db}
}

// FindActiveMappings returns substance mappings effective on asOf for the
// holder, with the parent licence populated. Licence usability is not
// filtered here; the coverage matcher applies that rule.
func (r *LicenceRepository) FindActiveMappings(ctx context.Context, substanceCode string, holder trade.Holder, asOf time.Time) ([]*licence.SubstanceMapping, error) {
	day := asOf.UTC().Format("2006-01-02")

	rows, err := r.db.Query(ctx, `
		SELECT
			m.id, m.licence_id, m.substance_code, m.effective_date, m.expiry_date,
			m.max_qty_per_transaction_grams::TEXT, m.max_qty_per_period_grams::TEXT,
			l.id, l.number, l.licence_type_id, l.holder_type, l.holder_id, l.authority,
			l.issue_date, l.expiry_date, l.status,
			l.can_possess, l.can_supply, l.can_import, l.can_export, l.scope
		FROM licence_substance_mappings m
		JOIN licences l ON l.id = m.licence_id
		WHERE m.substance_code = $1
		  AND l.holder_id = $2
		  AND m.effective_date <= $3::DATE
		  AND (m.expiry_date IS NULL OR m.expiry_date >= $3::DATE)
	`, substanceCode, holder.CustomerAccount, day)
	if err != nil {
		return nil, errors.NewInternalError("failed to query licence mappings").WithCause(err)
	}
	defer rows.Close()

	var mappings []*licence.SubstanceMapping
	for rows.Next() {
		m, err := scanMapping(rows.Scan)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate licence mappings").WithCause(err)
	}

	return mappings, nil
}

func scanMapping(scan func(dest ...any) error) (*licence.SubstanceMapping, error) {
	var (
		m          licence.SubstanceMapping
		l          licence.Licence
		mExpiry    sql.NullTime
		lExpiry    sql.NullTime
		perTx      sql.NullString
		perPeriod  sql.NullString
		status     string
		holderType string
	)

	err := scan(
		&m.ID, &m.LicenceID, &m.SubstanceCode, &m.EffectiveDate, &mExpiry,
		&perTx, &perPeriod,
		&l.ID, &l.Number, &l.TypeID, &holderType, &l.HolderID, &l.Authority,
		&l.IssueDate, &lExpiry, &status,
		&l.Activities.Possess, &l.Activities.Supply, &l.Activities.Import, &l.Activities.Export, &l.Scope,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan licence mapping").WithCause(err)
	}

	if mExpiry.Valid {
		t := mExpiry.Time
		m.ExpiryDate = &t
	}
	if lExpiry.Valid {
		t := lExpiry.Time
		l.ExpiryDate = &t
	}

	l.Status, err = licence.ParseStatus(status)
	if err != nil {
		return nil, errors.NewInternalError("invalid licence status in database").WithCause(err)
	}
	l.HolderType, err = licence.ParseHolderType(holderType)
	if err != nil {
		return nil, errors.NewInternalError("invalid holder type in database").WithCause(err)
	}

	if m.MaxQuantityPerTransaction, err = nullableGrams(perTx); err != nil {
		return nil, err
	}
	if m.MaxQuantityPerPeriod, err = nullableGrams(perPeriod); err != nil {
		return nil, err
	}

	m.Licence = &l
	return &m, nil
}

func nullableGrams(v sql.NullString) (*values.Quantity, error) {
	if !v.Valid {
		return nil, nil
	}
	dec, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, errors.NewInternalError("invalid quantity in database").WithCause(err)
	}
	q := values.NewGrams(dec)
	return &q, nil
}
