package trade

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// Violation codes form the closed taxonomy the classifier emits. A lapsed
// licence and a never-existing licence deliberately share NO_LICENCE_COVERAGE
// to keep the taxonomy small.
const (
	CodeNoLicenceCoverage           = "NO_LICENCE_COVERAGE"
	CodeInsufficientLicenceCoverage = "INSUFFICIENT_LICENCE_COVERAGE"
	CodeThresholdExceeded           = "THRESHOLD_EXCEEDED"
	CodeThresholdWarning            = "THRESHOLD_WARNING"
	CodeCorridorNotPermitted        = "CORRIDOR_NOT_PERMITTED"
	CodeMissingOriginCountry        = "MISSING_ORIGIN_COUNTRY"
	CodeMissingDestinationCountry   = "MISSING_DESTINATION_COUNTRY"
	CodeOriginDestinationMismatch   = "ORIGIN_DESTINATION_MISMATCH"
)

// Severity ranks violations for blocking behavior and display order.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its wire string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the severity from its wire string.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	case "critical":
		*s = SeverityCritical
	default:
		return errors.NewInvalidEnumError("severity", raw)
	}
	return nil
}

// IsBlocking reports whether a violation of this severity prevents the
// transaction from passing.
func (s Severity) IsBlocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Violation is one classified compliance finding on a transaction. Created
// only by the violation classifier. LineNumber 0 marks a transaction-level
// finding.
type Violation struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	Severity      Severity `json:"severity"`
	CanOverride   bool     `json:"can_override"`
	LineNumber    int      `json:"line_number,omitempty"`
	SubstanceCode string   `json:"substance_code,omitempty"`
}

// AggregateCanOverride is true iff at least one blocking violation exists and
// every blocking violation is individually overridable.
func AggregateCanOverride(violations []Violation) bool {
	blocking := 0
	for _, v := range violations {
		if !v.Severity.IsBlocking() {
			continue
		}
		blocking++
		if !v.CanOverride {
			return false
		}
	}
	return blocking > 0
}

// HasBlocking reports whether any Error or Critical violation is present.
func HasBlocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity.IsBlocking() {
			return true
		}
	}
	return false
}

// LicenceUsage attributes a covered quantity on one line to one licence. It
// is computed during validation and recomputed on every run, never stored
// independently.
type LicenceUsage struct {
	LicenceID     uuid.UUID       `json:"licence_id"`
	LicenceNumber string          `json:"licence_number"`
	LineNumber    int             `json:"line_number"`
	SubstanceCode string          `json:"substance_code"`
	Quantity      values.Quantity `json:"quantity"`
}
