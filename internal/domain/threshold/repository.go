package threshold

import (
	"context"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
)

// Repository is the read contract for threshold master data.
type Repository interface {
	// FindApplicable returns every threshold whose scope covers the
	// substance, holder and the licence types coverage draws on. Overlap
	// resolution is the caller's concern (see SelectAuthoritative).
	FindApplicable(ctx context.Context, substanceCode string, holder trade.Holder, licenceTypeIDs []string) ([]*Threshold, error)
}
