package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/override"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/validation"
)

// QuantityRequest is the wire form of a substance quantity.
type QuantityRequest struct {
	Amount string `json:"amount" validate:"required"`
	Unit   string `json:"unit" validate:"required,oneof=g kg mg"`
}

// LineRequest is one position on a proposed transaction. Lines are numbered
// in request order starting at 1; violations reference those numbers.
type LineRequest struct {
	ItemNumber string          `json:"item_number" validate:"required,max=64"`
	DataAreaID string          `json:"data_area_id" validate:"required,max=16"`
	Quantity   QuantityRequest `json:"quantity" validate:"required"`
}

// ValidateTransactionRequest is the payload for POST /api/v1/transactions/validate.
// Substance codes are resolved server-side from the product master and are
// not accepted from the caller.
type ValidateTransactionRequest struct {
	ExternalRef     string        `json:"external_ref" validate:"required,max=128"`
	CustomerAccount string        `json:"customer_account" validate:"required,max=64"`
	LegalEntity     string        `json:"legal_entity" validate:"required,max=16"`
	Type            string        `json:"type" validate:"required"`
	Direction       string        `json:"direction" validate:"required"`
	Origin          string        `json:"origin,omitempty" validate:"omitempty,len=2"`
	Destination     string        `json:"destination,omitempty" validate:"omitempty,len=2"`
	TransactionDate time.Time     `json:"transaction_date" validate:"required"`
	Lines           []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ToDomain builds the transaction aggregate. Enum fields are decoded with
// closed parsing; unknown values are rejected, never defaulted.
func (r *ValidateTransactionRequest) ToDomain() (*trade.Transaction, error) {
	txType, err := trade.ParseTransactionType(r.Type)
	if err != nil {
		return nil, err
	}
	direction, err := trade.ParseDirection(r.Direction)
	if err != nil {
		return nil, err
	}

	holder := trade.Holder{
		CustomerAccount: r.CustomerAccount,
		LegalEntity:     r.LegalEntity,
	}
	tx := trade.NewTransaction(r.ExternalRef, holder, txType, direction, r.TransactionDate)

	if r.Origin != "" {
		if tx.Origin, err = values.NewCountry(r.Origin); err != nil {
			return nil, errors.NewValidationError("INVALID_ORIGIN", err.Error())
		}
	}
	if r.Destination != "" {
		if tx.Destination, err = values.NewCountry(r.Destination); err != nil {
			return nil, errors.NewValidationError("INVALID_DESTINATION", err.Error())
		}
	}

	for i, line := range r.Lines {
		qty, err := values.NewQuantityFromString(line.Quantity.Amount, line.Quantity.Unit)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_QUANTITY", err.Error()).
				WithDetails(map[string]interface{}{"line_number": i + 1})
		}
		if err := tx.AddLine(line.ItemNumber, line.DataAreaID, qty); err != nil {
			return nil, err
		}
	}

	return tx, nil
}

// OverrideDecisionRequest is the payload for the override approve and
// reject endpoints. Justification is mandatory for approvals; for
// rejections it doubles as the recorded reason.
type OverrideDecisionRequest struct {
	ActorID       uuid.UUID `json:"actor_id" validate:"required"`
	ActorRole     string    `json:"actor_role" validate:"required,oneof=compliance_manager trader"`
	Justification string    `json:"justification" validate:"max=1024"`
}

// Actor converts the request's actor fields.
func (r *OverrideDecisionRequest) Actor() override.Actor {
	return override.Actor{
		ID:   r.ActorID,
		Role: override.Role(r.ActorRole),
	}
}

// ValidationResponse is the body returned by the validate endpoint.
type ValidationResponse struct {
	TransactionID    uuid.UUID            `json:"transaction_id"`
	ExternalRef      string               `json:"external_ref"`
	Status           string               `json:"status"`
	IsValid          bool                 `json:"is_valid"`
	CanProceed       bool                 `json:"can_proceed"`
	CanOverride      bool                 `json:"can_override"`
	Violations       []trade.Violation    `json:"violations"`
	LicenceUsages    []trade.LicenceUsage `json:"licence_usages"`
	ValidationTimeMs int64                `json:"validation_time_ms"`
}

func newValidationResponse(tx *trade.Transaction, result *validation.Result) ValidationResponse {
	return ValidationResponse{
		TransactionID:    result.TransactionID,
		ExternalRef:      tx.ExternalRef,
		Status:           result.Status.String(),
		IsValid:          result.IsValid,
		CanProceed:       result.CanProceed,
		CanOverride:      result.CanOverride,
		Violations:       result.Violations,
		LicenceUsages:    result.LicenceUsages,
		ValidationTimeMs: result.ValidationTimeMs,
	}
}

// TransactionResponse is the body returned by override and lookup
// endpoints.
type TransactionResponse struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	ExternalRef   string               `json:"external_ref"`
	Status        string               `json:"status"`
	CanProceed    bool                 `json:"can_proceed"`
	Override      *OverrideResponse    `json:"override,omitempty"`
	Violations    []trade.Violation    `json:"violations,omitempty"`
	LicenceUsages []trade.LicenceUsage `json:"licence_usages,omitempty"`
}

// OverrideResponse reports who resolved an override and why.
type OverrideResponse struct {
	Status        string     `json:"status"`
	ActorID       uuid.UUID  `json:"actor_id,omitempty"`
	Justification string     `json:"justification,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func newTransactionResponse(tx *trade.Transaction) TransactionResponse {
	resp := TransactionResponse{
		TransactionID: tx.ID,
		ExternalRef:   tx.ExternalRef,
		Status:        tx.Status.String(),
		CanProceed:    tx.Status.CanProceed(),
		Violations:    tx.Violations,
		LicenceUsages: tx.LicenceUsages,
	}
	if tx.Override.Status != trade.OverrideNone {
		resp.Override = &OverrideResponse{
			Status:        tx.Override.Status.String(),
			ActorID:       tx.Override.ActorID,
			Justification: tx.Override.Justification,
			ResolvedAt:    tx.Override.ResolvedAt,
		}
	}
	return resp
}

// ErrorBody is the error envelope returned on any non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error code and context.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}
