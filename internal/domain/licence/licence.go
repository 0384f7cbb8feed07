package licence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// Status is the administrative state of a licence as recorded by the issuing
// authority.
type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusSuspended
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusSuspended:
		return "suspended"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// ParseStatus decodes a licence status from its wire value.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "valid":
		return StatusValid, nil
	case "expired":
		return StatusExpired, nil
	case "suspended":
		return StatusSuspended, nil
	case "revoked":
		return StatusRevoked, nil
	default:
		return 0, errors.NewInvalidEnumError("licence_status", s)
	}
}

// MarshalJSON encodes the status as its wire string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status from its wire string.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// HolderType distinguishes who a licence is issued to.
type HolderType int

const (
	HolderCustomer HolderType = iota
	HolderCompany
)

func (h HolderType) String() string {
	switch h {
	case HolderCustomer:
		return "customer"
	case HolderCompany:
		return "company"
	default:
		return "unknown"
	}
}

// ParseHolderType parses a holder type from its string form.
func ParseHolderType(s string) (HolderType, error) {
	switch s {
	case "customer":
		return HolderCustomer, nil
	case "company":
		return HolderCompany, nil
	default:
		return 0, errors.NewInvalidEnumError("holder_type", s)
	}
}

// MarshalJSON encodes the holder type as its wire string.
func (h HolderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the holder type from its wire string.
func (h *HolderType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseHolderType(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Activities are the permitted-activity flags on a licence.
type Activities struct {
	Possess bool `json:"possess"`
	Supply  bool `json:"supply"`
	Import  bool `json:"import"`
	Export  bool `json:"export"`
}

// Licence is a regulatory authorization held by a customer or company.
type Licence struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"`

	// TypeID names the licence type ("WDA", "GDP", ...) as issued by the
	// authority. Thresholds may scope themselves to one type.
	TypeID string `json:"licence_type_id"`

	HolderType HolderType `json:"holder_type"`
	HolderID   string     `json:"holder_id"`
	Authority  string     `json:"authority"`
	IssueDate  time.Time  `json:"issue_date"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Status     Status     `json:"status"`
	Activities Activities `json:"activities"`
	Scope      string     `json:"scope,omitempty"`
}

// IsUsable reports whether the licence can provide coverage on the given
// date: status valid, already issued, not yet expired.
func (l *Licence) IsUsable(asOf time.Time) bool {
	if l.Status != StatusValid {
		return false
	}
	day := toUTCDate(asOf)
	if toUTCDate(l.IssueDate).After(day) {
		return false
	}
	if l.ExpiryDate != nil && toUTCDate(*l.ExpiryDate).Before(day) {
		return false
	}
	return true
}

// SubstanceMapping links a licence to one substance code within an effective
// window, optionally capped per transaction and per period.
// (LicenceID, SubstanceCode, EffectiveDate) is unique.
type SubstanceMapping struct {
	ID            uuid.UUID  `json:"id"`
	LicenceID     uuid.UUID  `json:"licence_id"`
	SubstanceCode string     `json:"substance_code"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`

	MaxQuantityPerTransaction *values.Quantity `json:"max_quantity_per_transaction,omitempty"`
	MaxQuantityPerPeriod      *values.Quantity `json:"max_quantity_per_period,omitempty"`

	// Parent licence, populated by the repository on retrieval.
	Licence *Licence `json:"licence,omitempty"`
}

// Covers reports whether the mapping's effective window contains the date.
func (m *SubstanceMapping) Covers(asOf time.Time) bool {
	day := toUTCDate(asOf)
	if toUTCDate(m.EffectiveDate).After(day) {
		return false
	}
	if m.ExpiryDate != nil && toUTCDate(*m.ExpiryDate).Before(day) {
		return false
	}
	return true
}

// Validate checks the mapping's invariants against its parent licence.
func (m *SubstanceMapping) Validate() error {
	if m.SubstanceCode == "" {
		return fmt.Errorf("substance code cannot be empty")
	}
	if m.Licence == nil {
		return fmt.Errorf("mapping %s has no parent licence", m.ID)
	}
	if m.ExpiryDate != nil && m.Licence.ExpiryDate != nil && m.ExpiryDate.After(*m.Licence.ExpiryDate) {
		return fmt.Errorf("mapping expiry %s exceeds licence expiry %s",
			m.ExpiryDate.Format(time.DateOnly), m.Licence.ExpiryDate.Format(time.DateOnly))
	}
	return nil
}

// PeriodBucketKey is the ledger key for this mapping's per-period cap,
// month-bucketed in UTC.
func (m *SubstanceMapping) PeriodBucketKey(asOf time.Time) string {
	u := asOf.UTC()
	return fmt.Sprintf("mapping:%s:%04d-%02d", m.ID, u.Year(), int(u.Month()))
}

func toUTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
