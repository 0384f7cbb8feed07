package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CrossBorderPolicy validates direction/origin/destination combinations
// against permitted corridors. Table-driven over the corridor repository;
// no routing logic.
type CrossBorderPolicy struct {
	corridors CorridorRepository
	logger    *zap.Logger
}

// NewCrossBorderPolicy creates a policy over the corridor repository.
func NewCrossBorderPolicy(corridors CorridorRepository, logger *zap.Logger) *CrossBorderPolicy {
	return &CrossBorderPolicy{corridors: corridors, logger: logger}
}

// Validate returns at most one transaction-level violation. Cross-border
// findings are never overridable.
func (p *CrossBorderPolicy) Validate(ctx context.Context, tx *trade.Transaction) (*trade.Violation, error) {
	switch tx.Direction {
	case trade.DirectionInternal:
		if !tx.Origin.Equal(tx.Destination) {
			return &trade.Violation{
				Code:     trade.CodeOriginDestinationMismatch,
				Message:  fmt.Sprintf("internal transaction must stay within one country: origin %s, destination %s", countryOrNone(tx.Origin), countryOrNone(tx.Destination)),
				Severity: trade.SeverityError,
			}, nil
		}
		return nil, nil

	case trade.DirectionInbound, trade.DirectionOutbound:
		if tx.Origin.IsZero() {
			return &trade.Violation{
				Code:     trade.CodeMissingOriginCountry,
				Message:  "cross-border transaction is missing an origin country",
				Severity: trade.SeverityError,
			}, nil
		}
		if tx.Destination.IsZero() {
			return &trade.Violation{
				Code:     trade.CodeMissingDestinationCountry,
				Message:  "cross-border transaction is missing a destination country",
				Severity: trade.SeverityError,
			}, nil
		}

		permitted, err := p.corridors.Permitted(ctx, tx.Origin, tx.Destination, tx.Holder.Category)
		if err != nil {
			return nil, err
		}
		if !permitted {
			p.logger.Debug("corridor not permitted",
				zap.String("origin", tx.Origin.Code()),
				zap.String("destination", tx.Destination.Code()),
				zap.String("category", string(tx.Holder.Category)),
			)
			return &trade.Violation{
				Code:     trade.CodeCorridorNotPermitted,
				Message:  fmt.Sprintf("corridor %s->%s is not permitted for %s holders", tx.Origin.Code(), tx.Destination.Code(), tx.Holder.Category),
				Severity: trade.SeverityError,
			}, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func countryOrNone(c values.Country) string {
	if c.IsZero() {
		return "(none)"
	}
	return c.Code()
}
