package licence

import (
	"context"
	"time"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
)

// Repository is the persistence contract for licences. Master data lives in
// an external system; the engine only reads it.
type Repository interface {
	// FindActiveMappings returns every substance mapping for the holder and
	// substance whose effective window contains asOf, with the parent Licence
	// populated. Licence validity itself is not filtered here; the coverage
	// matcher applies that rule.
	FindActiveMappings(ctx context.Context, substanceCode string, holder trade.Holder, asOf time.Time) ([]*SubstanceMapping, error)
}
