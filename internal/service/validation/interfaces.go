package validation

import (
	"context"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CustomerRepository resolves a customer account into a holder identity with
// its category. Backed by the customer master (Dataverse) outside the core.
type CustomerRepository interface {
	Resolve(ctx context.Context, account string) (trade.Holder, error)
}

// ProductRepository resolves the substance a product carries. Transaction
// lines never supply a raw substance code; it always comes from the product
// master. An empty code means the product is not substance-bearing and the
// line is exempt from coverage and threshold checks.
type ProductRepository interface {
	ResolveSubstance(ctx context.Context, itemNumber, dataAreaID string) (string, error)
}

// CorridorRepository answers whether a cross-border origin/destination
// pairing is permitted for a holder category, from regulatory permit data.
type CorridorRepository interface {
	Permitted(ctx context.Context, origin, destination values.Country, category trade.CustomerCategory) (bool, error)
}

// PeriodUsage exposes committed per-period consumption for arbitrary bucket
// keys. Implemented by the threshold ledger.
type PeriodUsage interface {
	Consumed(ctx context.Context, key string) (values.Quantity, error)
}
