package validation

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CoverageAllocation records how much of a line's quantity one licence
// mapping absorbs.
type CoverageAllocation struct {
	Mapping  *licence.SubstanceMapping
	Quantity values.Quantity
}

// Coverage is the matcher's answer for one line: the greedy allocation across
// usable licences plus the uncovered remainder. Shortfall handling is the
// engine's concern, not the matcher's.
type Coverage struct {
	Requested   values.Quantity
	Allocations []CoverageAllocation
	Shortfall   values.Quantity
}

// Covered returns the total quantity the allocations absorb.
func (c *Coverage) Covered() values.Quantity {
	total := values.ZeroQuantity()
	for _, a := range c.Allocations {
		total = total.Add(a.Quantity)
	}
	return total
}

// Full reports whether the whole requested quantity is covered.
func (c *Coverage) Full() bool {
	return c.Shortfall.IsZero()
}

// CoverageMatcher finds the set of valid licences authorizing a substance for
// a holder and allocates the required quantity across them.
type CoverageMatcher struct {
	licences licence.Repository
	usage    PeriodUsage
	logger   *zap.Logger
}

// NewCoverageMatcher creates a matcher over the licence repository, using
// the ledger for remaining per-period mapping capacity.
func NewCoverageMatcher(licences licence.Repository, usage PeriodUsage, logger *zap.Logger) *CoverageMatcher {
	return &CoverageMatcher{
		licences: licences,
		usage:    usage,
		logger:   logger,
	}
}

// FindCoverage retrieves the mappings effective on asOf, keeps those whose
// parent licence is currently usable, and consumes them greedily
// soonest-expiring first so the licence closest to lapsing is drawn down
// before longer-lived ones. A missing mapping is not an error: it surfaces
// as full shortfall.
func (m *CoverageMatcher) FindCoverage(ctx context.Context, holder trade.Holder, substanceCode string, asOf time.Time, required values.Quantity) (*Coverage, error) {
	mappings, err := m.licences.FindActiveMappings(ctx, substanceCode, holder, asOf)
	if err != nil {
		return nil, err
	}

	candidates := make([]*licence.SubstanceMapping, 0, len(mappings))
	for _, mapping := range mappings {
		if mapping.Licence == nil || !mapping.Licence.IsUsable(asOf) || !mapping.Covers(asOf) {
			continue
		}
		candidates = append(candidates, mapping)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return expiryBefore(effectiveExpiry(candidates[i]), effectiveExpiry(candidates[j]))
	})

	coverage := &Coverage{Requested: required}
	remaining := required

	for _, mapping := range candidates {
		if remaining.IsZero() {
			break
		}

		available, err := m.availableQuantity(ctx, mapping, asOf)
		if err != nil {
			return nil, err
		}
		take := available.Min(remaining)
		if !take.IsPositive() {
			continue
		}

		coverage.Allocations = append(coverage.Allocations, CoverageAllocation{
			Mapping:  mapping,
			Quantity: take,
		})
		remaining = remaining.Sub(take)
	}

	coverage.Shortfall = remaining

	m.logger.Debug("licence coverage matched",
		zap.String("substance", substanceCode),
		zap.String("customer", holder.CustomerAccount),
		zap.Int("candidates", len(candidates)),
		zap.Int("allocations", len(coverage.Allocations)),
		zap.String("shortfall", coverage.Shortfall.String()),
	)

	return coverage, nil
}

// availableQuantity is the headroom one mapping can absorb in a single
// transaction: the per-transaction cap and the remaining per-period cap,
// whichever is tighter. Absent caps impose no bound.
func (m *CoverageMatcher) availableQuantity(ctx context.Context, mapping *licence.SubstanceMapping, asOf time.Time) (values.Quantity, error) {
	available := values.Quantity{}
	bounded := false

	if mapping.MaxQuantityPerTransaction != nil {
		available = *mapping.MaxQuantityPerTransaction
		bounded = true
	}

	if mapping.MaxQuantityPerPeriod != nil {
		consumed, err := m.usage.Consumed(ctx, mapping.PeriodBucketKey(asOf))
		if err != nil {
			return values.Quantity{}, err
		}
		periodRemaining := mapping.MaxQuantityPerPeriod.Sub(consumed)
		if bounded {
			available = available.Min(periodRemaining)
		} else {
			available = periodRemaining
			bounded = true
		}
	}

	if !bounded {
		// No caps: the mapping can absorb anything the licence authorizes.
		return values.NewGrams(maxAllocatable.Grams()), nil
	}
	return available, nil
}

// maxAllocatable stands in for an unbounded mapping allocation.
var maxAllocatable = values.MustGramsFromString("1000000000000")

func effectiveExpiry(mapping *licence.SubstanceMapping) *time.Time {
	expiry := mapping.Licence.ExpiryDate
	if mapping.ExpiryDate != nil && (expiry == nil || mapping.ExpiryDate.Before(*expiry)) {
		expiry = mapping.ExpiryDate
	}
	return expiry
}

// expiryBefore orders expiries soonest first, with no expiry last.
func expiryBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}
