package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/threshold"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// ThresholdRepository implements threshold.Repository against the
// threshold master data table.
type ThresholdRepository struct {
	db *pgxpool.Pool
}

// NewThresholdRepository creates a PostgreSQL threshold repository.
func NewThresholdRepository(db *pgxpool.Pool) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// FindApplicable returns every threshold whose scope covers the substance,
// holder and covering licence types. Overlap resolution happens in the
// domain layer.
func (r *ThresholdRepository) FindApplicable(ctx context.Context, substanceCode string, holder trade.Holder, licenceTypeIDs []string) ([]*threshold.Threshold, error) {
	if licenceTypeIDs == nil {
		licenceTypeIDs = []string{}
	}
	rows, err := r.db.Query(ctx, `
		SELECT
			id, name, substance_code, licence_type_id, customer_category,
			customer_account, regulatory_list, limit_grams::TEXT, period,
			warning_percent, allow_override, max_override_percent::TEXT
		FROM thresholds
		WHERE substance_code = $1
		  AND (customer_account = '' OR customer_account = $2)
		  AND (customer_category = '' OR customer_category = $3)
		  AND (licence_type_id = '' OR licence_type_id = ANY($4))
	`, substanceCode, holder.CustomerAccount, string(holder.Category), licenceTypeIDs)
	if err != nil {
		return nil, errors.NewInternalError("failed to query thresholds").WithCause(err)
	}
	defer rows.Close()

	var result []*threshold.Threshold
	for rows.Next() {
		var (
			t           threshold.Threshold
			category    string
			limitGrams  string
			period      string
			maxOverride sql.NullString
		)

		err := rows.Scan(
			&t.ID, &t.Name, &t.SubstanceCode, &t.LicenceTypeID, &category,
			&t.CustomerAccount, &t.RegulatoryList, &limitGrams, &period,
			&t.WarningPercent, &t.AllowOverride, &maxOverride,
		)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan threshold").WithCause(err)
		}

		t.CustomerCategory = trade.CustomerCategory(category)

		limit, err := decimal.NewFromString(limitGrams)
		if err != nil {
			return nil, errors.NewInternalError("invalid threshold limit in database").WithCause(err)
		}
		t.Limit = values.NewGrams(limit)

		if t.Period, err = threshold.ParsePeriodType(period); err != nil {
			return nil, errors.NewInternalError("invalid threshold period in database").WithCause(err)
		}

		if maxOverride.Valid {
			if t.MaxOverridePercent, err = decimal.NewFromString(maxOverride.String); err != nil {
				return nil, errors.NewInternalError("invalid override percent in database").WithCause(err)
			}
		}

		result = append(result, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate thresholds").WithCause(err)
	}

	return result, nil
}
