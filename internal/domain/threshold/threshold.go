package threshold

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// PeriodType is the aggregation window a threshold is enforced over.
type PeriodType int

const (
	PeriodPerTransaction PeriodType = iota
	PeriodDaily
	PeriodMonthly
	PeriodYearly
)

func (p PeriodType) String() string {
	switch p {
	case PeriodPerTransaction:
		return "per_transaction"
	case PeriodDaily:
		return "daily"
	case PeriodMonthly:
		return "monthly"
	case PeriodYearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// ParsePeriodType decodes a period type from its wire value.
func ParsePeriodType(s string) (PeriodType, error) {
	switch s {
	case "per_transaction":
		return PeriodPerTransaction, nil
	case "daily":
		return PeriodDaily, nil
	case "monthly":
		return PeriodMonthly, nil
	case "yearly":
		return PeriodYearly, nil
	default:
		return 0, errors.NewInvalidEnumError("period_type", s)
	}
}

// MarshalJSON encodes the period as its wire string.
func (p PeriodType) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the period from its wire string.
func (p *PeriodType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePeriodType(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Threshold is a regulator-defined consumption limit. Scope narrows from
// substance-only down to a single customer account; the most specific
// applicable threshold of each period type is authoritative.
type Threshold struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Scope discriminators. SubstanceCode is mandatory; the others narrow.
	// RegulatoryList is a reporting grouping carried from the regulator's
	// schedule; no collaborator resolves substance membership, so it does
	// not participate in AppliesTo.
	SubstanceCode    string                 `json:"substance_code"`
	LicenceTypeID    string                 `json:"licence_type_id,omitempty"`
	CustomerCategory trade.CustomerCategory `json:"customer_category,omitempty"`
	CustomerAccount  string                 `json:"customer_account,omitempty"`
	RegulatoryList   string                 `json:"regulatory_list,omitempty"`

	Limit  values.Quantity `json:"limit"`
	Period PeriodType      `json:"period"`

	// WarningPercent is the fill ratio (0–100) at which a non-blocking
	// warning is raised.
	WarningPercent int64 `json:"warning_percent"`

	AllowOverride      bool            `json:"allow_override"`
	MaxOverridePercent decimal.Decimal `json:"max_override_percent"`
}

// AppliesTo reports whether the threshold's scope covers the given
// substance, holder and the licence types providing coverage. A threshold
// scoped to a licence type binds only lines drawing on a licence of that
// type; licenceTypeIDs carries the types of the covering licences.
func (t *Threshold) AppliesTo(substanceCode string, holder trade.Holder, licenceTypeIDs []string) bool {
	if t.SubstanceCode != substanceCode {
		return false
	}
	if t.CustomerAccount != "" && t.CustomerAccount != holder.CustomerAccount {
		return false
	}
	if t.CustomerCategory != "" && t.CustomerCategory != holder.Category {
		return false
	}
	if t.LicenceTypeID != "" && !containsType(licenceTypeIDs, t.LicenceTypeID) {
		return false
	}
	return true
}

func containsType(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Specificity ranks scope narrowness: customer-specific beats category beats
// licence-type beats substance-only.
func (t *Threshold) Specificity() int {
	switch {
	case t.CustomerAccount != "":
		return 4
	case t.CustomerCategory != "":
		return 3
	case t.LicenceTypeID != "":
		return 2
	default:
		return 1
	}
}

// BucketKey derives the ledger key for this threshold, customer and date.
// Bucket derivation is UTC so two nodes never disagree on the day boundary.
// Per-transaction thresholds have no persistent bucket; callers use a fresh
// key per evaluation.
func (t *Threshold) BucketKey(customerAccount string, asOf time.Time) string {
	u := asOf.UTC()
	switch t.Period {
	case PeriodDaily:
		return fmt.Sprintf("threshold:%s:%s:%04d-%02d-%02d", t.ID, customerAccount, u.Year(), int(u.Month()), u.Day())
	case PeriodMonthly:
		return fmt.Sprintf("threshold:%s:%s:%04d-%02d", t.ID, customerAccount, u.Year(), int(u.Month()))
	case PeriodYearly:
		return fmt.Sprintf("threshold:%s:%s:%04d", t.ID, customerAccount, u.Year())
	default:
		return fmt.Sprintf("threshold:%s:%s:tx:%s", t.ID, customerAccount, uuid.NewString())
	}
}

// WarningFloor is the quantity at which the warning band begins.
func (t *Threshold) WarningFloor() values.Quantity {
	if t.WarningPercent <= 0 {
		return t.Limit
	}
	pct := decimal.NewFromInt(t.WarningPercent).Div(decimal.NewFromInt(100))
	return values.NewGrams(t.Limit.Grams().Mul(pct))
}

// OverrideCeiling is the maximum total admissible under an approved
// override: limit plus MaxOverridePercent headroom.
func (t *Threshold) OverrideCeiling() values.Quantity {
	if !t.AllowOverride {
		return t.Limit
	}
	headroom := t.MaxOverridePercent.Div(decimal.NewFromInt(100))
	return values.NewGrams(t.Limit.Grams().Mul(decimal.NewFromInt(1).Add(headroom)))
}

// SelectAuthoritative resolves overlapping thresholds: within each period
// type, only the most specific scope applies; among equal specificity the
// lowest limit wins (conservative). Thresholds of different period types all
// remain in force.
func SelectAuthoritative(candidates []*Threshold) []*Threshold {
	byPeriod := make(map[PeriodType]*Threshold, len(candidates))
	for _, c := range candidates {
		cur, ok := byPeriod[c.Period]
		if !ok {
			byPeriod[c.Period] = c
			continue
		}
		switch {
		case c.Specificity() > cur.Specificity():
			byPeriod[c.Period] = c
		case c.Specificity() == cur.Specificity() && c.Limit.LessThan(cur.Limit):
			byPeriod[c.Period] = c
		}
	}

	selected := make([]*Threshold, 0, len(byPeriod))
	for _, t := range byPeriod {
		selected = append(selected, t)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Period < selected[j].Period })
	return selected
}
