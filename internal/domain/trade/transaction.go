package trade

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// TransactionType classifies the commercial shape of a proposed trade.
type TransactionType int

const (
	TypeOrder TransactionType = iota
	TypeShipment
	TypeReturn
	TypeTransfer
)

func (t TransactionType) String() string {
	switch t {
	case TypeOrder:
		return "order"
	case TypeShipment:
		return "shipment"
	case TypeReturn:
		return "return"
	case TypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// ParseTransactionType decodes a transaction type from its wire value. The
// set is closed; anything else is rejected with a typed error.
func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case "order":
		return TypeOrder, nil
	case "shipment":
		return TypeShipment, nil
	case "return":
		return TypeReturn, nil
	case "transfer":
		return TypeTransfer, nil
	default:
		return 0, errors.NewInvalidEnumError("transaction_type", s)
	}
}

// MarshalJSON encodes the type as its wire string.
func (t TransactionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the type from its wire string.
func (t *TransactionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTransactionType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Direction describes the movement of goods relative to the holder's entity.
type Direction int

const (
	DirectionInternal Direction = iota
	DirectionInbound
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInternal:
		return "internal"
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// ParseDirection decodes a direction from its wire value.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "internal":
		return DirectionInternal, nil
	case "inbound":
		return DirectionInbound, nil
	case "outbound":
		return DirectionOutbound, nil
	default:
		return 0, errors.NewInvalidEnumError("direction", s)
	}
}

// MarshalJSON encodes the direction as its wire string.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes the direction from its wire string.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ValidationStatus is the lifecycle state of a transaction's compliance
// decision.
//
//	Pending → Passed | Failed
//	Failed → RequiresOverride        (only when the failure is overridable)
//	RequiresOverride → ApprovedWithOverride | Rejected
type ValidationStatus int

const (
	StatusPending ValidationStatus = iota
	StatusPassed
	StatusFailed
	StatusRequiresOverride
	StatusApprovedWithOverride
	StatusRejected
)

func (s ValidationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusRequiresOverride:
		return "requires_override"
	case StatusApprovedWithOverride:
		return "approved_with_override"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ParseValidationStatus decodes a validation status from its wire value.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "passed":
		return StatusPassed, nil
	case "failed":
		return StatusFailed, nil
	case "requires_override":
		return StatusRequiresOverride, nil
	case "approved_with_override":
		return StatusApprovedWithOverride, nil
	case "rejected":
		return StatusRejected, nil
	default:
		return 0, errors.NewInvalidEnumError("validation_status", s)
	}
}

// MarshalJSON encodes the status as its wire string.
func (s ValidationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status from its wire string.
func (s *ValidationStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseValidationStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transition is defined for s.
func (s ValidationStatus) IsTerminal() bool {
	return s == StatusPassed || s == StatusApprovedWithOverride || s == StatusRejected
}

// CanProceed reports whether a transaction in this state may trade.
func (s ValidationStatus) CanProceed() bool {
	return s == StatusPassed || s == StatusApprovedWithOverride
}

// CustomerCategory buckets holders for threshold scoping.
type CustomerCategory string

const (
	CategoryWholesaler   CustomerCategory = "wholesaler"
	CategoryPharmacy     CustomerCategory = "pharmacy"
	CategoryManufacturer CustomerCategory = "manufacturer"
	CategoryHospital     CustomerCategory = "hospital"
)

// Holder identifies the customer a transaction belongs to, scoped to a legal
// entity.
type Holder struct {
	CustomerAccount string           `json:"customer_account"`
	LegalEntity     string           `json:"legal_entity"`
	Category        CustomerCategory `json:"category,omitempty"`
}

// TransactionLine is one substance position on a transaction. The substance
// code is resolved from the product master, never taken from the caller.
// Lines are immutable once the transaction has been validated; corrections
// require a new transaction.
type TransactionLine struct {
	LineNumber    int             `json:"line_number"`
	ItemNumber    string          `json:"item_number"`
	DataAreaID    string          `json:"data_area_id"`
	SubstanceCode string          `json:"substance_code,omitempty"`
	Quantity      values.Quantity `json:"quantity"`
}

// OverrideStatus tracks the human-override leg of the lifecycle.
type OverrideStatus int

const (
	OverrideNone OverrideStatus = iota
	OverrideRequested
	OverrideApproved
	OverrideRejected
)

func (s OverrideStatus) String() string {
	switch s {
	case OverrideNone:
		return "none"
	case OverrideRequested:
		return "requested"
	case OverrideApproved:
		return "approved"
	case OverrideRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the override status as its wire string.
func (s OverrideStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the override status from its wire string.
func (s *OverrideStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "none":
		*s = OverrideNone
	case "requested":
		*s = OverrideRequested
	case "approved":
		*s = OverrideApproved
	case "rejected":
		*s = OverrideRejected
	default:
		return errors.NewInvalidEnumError("override_status", raw)
	}
	return nil
}

// OverrideRecord captures who resolved an override and why.
type OverrideRecord struct {
	Status        OverrideStatus `json:"status"`
	ActorID       uuid.UUID      `json:"actor_id,omitempty"`
	Justification string         `json:"justification,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

// Transaction is the aggregate root for one proposed trade. It is created
// Pending by the caller and mutated only through the validation engine and
// the override workflow; it is never deleted, only appended to.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	ExternalRef     string            `json:"external_ref"`
	Holder          Holder            `json:"holder"`
	Type            TransactionType   `json:"type"`
	Direction       Direction         `json:"direction"`
	Origin          values.Country    `json:"origin"`
	Destination     values.Country    `json:"destination"`
	TransactionDate time.Time         `json:"transaction_date"`
	Lines           []TransactionLine `json:"lines"`

	Status        ValidationStatus `json:"status"`
	Override      OverrideRecord   `json:"override"`
	Violations    []Violation      `json:"violations"`
	LicenceUsages []LicenceUsage   `json:"licence_usages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTransaction creates a pending transaction for the given holder.
func NewTransaction(externalRef string, holder Holder, txType TransactionType, direction Direction, date time.Time) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:              uuid.New(),
		ExternalRef:     externalRef,
		Holder:          holder,
		Type:            txType,
		Direction:       direction,
		TransactionDate: date,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AddLine appends a line. Rejected after validation: lines are frozen once a
// compliance decision exists.
func (t *Transaction) AddLine(itemNumber, dataAreaID string, quantity values.Quantity) error {
	if t.Status != StatusPending {
		return errors.NewInvariantError("LINES_FROZEN", "cannot add lines after validation")
	}
	t.Lines = append(t.Lines, TransactionLine{
		LineNumber: len(t.Lines) + 1,
		ItemNumber: itemNumber,
		DataAreaID: dataAreaID,
		Quantity:   quantity,
	})
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// TotalQuantity sums the line quantities.
func (t *Transaction) TotalQuantity() values.Quantity {
	total := values.ZeroQuantity()
	for _, line := range t.Lines {
		total = total.Add(line.Quantity)
	}
	return total
}

// CanOverride reports whether every blocking violation on the transaction is
// individually overridable. A single non-overridable Error/Critical forces
// permanent rejection.
func (t *Transaction) CanOverride() bool {
	return AggregateCanOverride(t.Violations)
}

// ApplyValidation records the engine's decision. Valid from Pending and from
// a prior non-terminal failure (retries after a failed, never-overridden
// validation re-run from scratch).
func (t *Transaction) ApplyValidation(status ValidationStatus, violations []Violation, usages []LicenceUsage) error {
	if t.Status.IsTerminal() {
		return errors.NewInvariantError("ALREADY_DECIDED", "transaction already has a terminal compliance decision")
	}
	if status != StatusPassed && status != StatusFailed && status != StatusRequiresOverride {
		return errors.NewInvariantError("INVALID_TRANSITION", "validation may only produce passed, failed or requires_override")
	}
	t.Status = status
	t.Violations = violations
	t.LicenceUsages = usages
	if status == StatusRequiresOverride {
		t.Override = OverrideRecord{Status: OverrideRequested}
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ApproveOverride transitions RequiresOverride → ApprovedWithOverride.
// Re-invocation on a resolved transaction fails with AlreadyResolved.
func (t *Transaction) ApproveOverride(actorID uuid.UUID, justification string) error {
	if err := t.guardOverrideTransition(); err != nil {
		return err
	}
	if justification == "" {
		return errors.ErrMissingJustification
	}
	now := time.Now().UTC()
	t.Status = StatusApprovedWithOverride
	t.Override = OverrideRecord{
		Status:        OverrideApproved,
		ActorID:       actorID,
		Justification: justification,
		ResolvedAt:    &now,
	}
	t.UpdatedAt = now
	return nil
}

// RejectOverride transitions RequiresOverride → Rejected.
func (t *Transaction) RejectOverride(actorID uuid.UUID, reason string) error {
	if err := t.guardOverrideTransition(); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Status = StatusRejected
	t.Override = OverrideRecord{
		Status:        OverrideRejected,
		ActorID:       actorID,
		Justification: reason,
		ResolvedAt:    &now,
	}
	t.UpdatedAt = now
	return nil
}

func (t *Transaction) guardOverrideTransition() error {
	switch t.Status {
	case StatusRequiresOverride:
		return nil
	case StatusApprovedWithOverride, StatusRejected:
		return errors.ErrAlreadyResolved
	default:
		return errors.ErrNotOverridable
	}
}
