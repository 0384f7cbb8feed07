package trade

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

func newTestTransaction(t *testing.T) *Transaction {
	t.Helper()
	tx := NewTransaction("SO-100234",
		Holder{CustomerAccount: "CUST-0042", LegalEntity: "nl01", Category: CategoryWholesaler},
		TypeOrder, DirectionOutbound,
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, tx.AddLine("ITEM-EPH-50", "nl01", values.MustGramsFromString("300")))
	return tx
}

func TestNewTransaction(t *testing.T) {
	tx := newTestTransaction(t)

	assert.NotEqual(t, uuid.Nil, tx.ID)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, OverrideNone, tx.Override.Status)
	assert.Empty(t, tx.Violations)
}

func TestAddLine(t *testing.T) {
	t.Run("numbers lines sequentially from 1", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.AddLine("ITEM-PSE-10", "nl01", values.MustGramsFromString("50")))

		require.Len(t, tx.Lines, 2)
		assert.Equal(t, 1, tx.Lines[0].LineNumber)
		assert.Equal(t, 2, tx.Lines[1].LineNumber)
	})

	t.Run("frozen after a compliance decision", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusPassed, nil, nil))

		err := tx.AddLine("ITEM-PSE-10", "nl01", values.MustGramsFromString("50"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, "LINES_FROZEN"))
	})
}

func TestTotalQuantity(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.AddLine("ITEM-PSE-10", "nl01", values.MustGramsFromString("200")))

	assert.True(t, tx.TotalQuantity().Equal(values.MustGramsFromString("500")))
}

func TestApplyValidation(t *testing.T) {
	overridable := Violation{
		Code: CodeThresholdExceeded, Severity: SeverityError, CanOverride: true, LineNumber: 1,
	}

	t.Run("pending to passed", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusPassed, nil, nil))
		assert.Equal(t, StatusPassed, tx.Status)
		assert.True(t, tx.Status.CanProceed())
	})

	t.Run("requires_override records a requested override", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusRequiresOverride, []Violation{overridable}, nil))
		assert.Equal(t, OverrideRequested, tx.Override.Status)
		assert.False(t, tx.Status.CanProceed())
	})

	t.Run("failed transactions may be revalidated", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusFailed, []Violation{
			{Code: CodeNoLicenceCoverage, Severity: SeverityCritical},
		}, nil))
		require.NoError(t, tx.ApplyValidation(StatusPassed, nil, nil))
		assert.Equal(t, StatusPassed, tx.Status)
		assert.Empty(t, tx.Violations)
	})

	t.Run("terminal states refuse revalidation", func(t *testing.T) {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusPassed, nil, nil))

		err := tx.ApplyValidation(StatusFailed, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, "ALREADY_DECIDED"))
	})

	t.Run("only decision statuses accepted", func(t *testing.T) {
		tx := newTestTransaction(t)
		err := tx.ApplyValidation(StatusApprovedWithOverride, nil, nil)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, "INVALID_TRANSITION"))
	})
}

func TestOverrideTransitions(t *testing.T) {
	actorID := uuid.New()
	parked := func(t *testing.T) *Transaction {
		tx := newTestTransaction(t)
		require.NoError(t, tx.ApplyValidation(StatusRequiresOverride, []Violation{
			{Code: CodeThresholdExceeded, Severity: SeverityError, CanOverride: true, LineNumber: 1},
		}, nil))
		return tx
	}

	t.Run("approve records actor and justification", func(t *testing.T) {
		tx := parked(t)
		require.NoError(t, tx.ApproveOverride(actorID, "permit IM-2231 on file"))

		assert.Equal(t, StatusApprovedWithOverride, tx.Status)
		assert.Equal(t, OverrideApproved, tx.Override.Status)
		assert.Equal(t, actorID, tx.Override.ActorID)
		require.NotNil(t, tx.Override.ResolvedAt)
		assert.True(t, tx.Status.CanProceed())
	})

	t.Run("approve without justification fails", func(t *testing.T) {
		tx := parked(t)
		err := tx.ApproveOverride(actorID, "")
		assert.ErrorIs(t, err, errors.ErrMissingJustification)
		assert.Equal(t, StatusRequiresOverride, tx.Status)
	})

	t.Run("reject is terminal", func(t *testing.T) {
		tx := parked(t)
		require.NoError(t, tx.RejectOverride(actorID, "no permit"))
		assert.Equal(t, StatusRejected, tx.Status)
		assert.False(t, tx.Status.CanProceed())
		assert.True(t, tx.Status.IsTerminal())
	})

	t.Run("resolved overrides refuse a second decision", func(t *testing.T) {
		tx := parked(t)
		require.NoError(t, tx.ApproveOverride(actorID, "permit IM-2231 on file"))

		assert.ErrorIs(t, tx.ApproveOverride(actorID, "again"), errors.ErrAlreadyResolved)
		assert.ErrorIs(t, tx.RejectOverride(actorID, "changed my mind"), errors.ErrAlreadyResolved)
	})

	t.Run("not parked transactions are not overridable", func(t *testing.T) {
		tx := newTestTransaction(t)
		assert.ErrorIs(t, tx.ApproveOverride(actorID, "x"), errors.ErrNotOverridable)

		require.NoError(t, tx.ApplyValidation(StatusPassed, nil, nil))
		assert.ErrorIs(t, tx.RejectOverride(actorID, "x"), errors.ErrNotOverridable)
	})
}

func TestEnumParsing(t *testing.T) {
	t.Run("transaction type round-trips", func(t *testing.T) {
		for _, v := range []TransactionType{TypeOrder, TypeShipment, TypeReturn, TypeTransfer} {
			parsed, err := ParseTransactionType(v.String())
			require.NoError(t, err)
			assert.Equal(t, v, parsed)
		}
	})

	t.Run("unknown values rejected with typed error", func(t *testing.T) {
		_, err := ParseTransactionType("speculation")
		assert.True(t, errors.HasCode(err, "INVALID_ENUM_VALUE"))

		_, err = ParseDirection("sideways")
		assert.True(t, errors.HasCode(err, "INVALID_ENUM_VALUE"))

		_, err = ParseValidationStatus("maybe")
		assert.True(t, errors.HasCode(err, "INVALID_ENUM_VALUE"))
	})

	t.Run("statuses marshal as wire strings", func(t *testing.T) {
		data, err := json.Marshal(StatusRequiresOverride)
		require.NoError(t, err)
		assert.Equal(t, `"requires_override"`, string(data))

		var s ValidationStatus
		require.NoError(t, json.Unmarshal([]byte(`"approved_with_override"`), &s))
		assert.Equal(t, StatusApprovedWithOverride, s)
	})
}

func TestAggregateCanOverride(t *testing.T) {
	overridable := Violation{Code: CodeThresholdExceeded, Severity: SeverityError, CanOverride: true}
	fatal := Violation{Code: CodeNoLicenceCoverage, Severity: SeverityCritical, CanOverride: false}
	warning := Violation{Code: CodeThresholdWarning, Severity: SeverityWarning, CanOverride: false}

	tests := []struct {
		name       string
		violations []Violation
		want       bool
	}{
		{"no violations", nil, false},
		{"only warnings", []Violation{warning}, false},
		{"single overridable error", []Violation{overridable}, true},
		{"overridable error plus warning", []Violation{overridable, warning}, true},
		{"one fatal poisons the aggregate", []Violation{overridable, fatal}, false},
		{"fatal alone", []Violation{fatal}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateCanOverride(tt.violations))
		})
	}
}

func TestSeverityBlocking(t *testing.T) {
	assert.False(t, SeverityInfo.IsBlocking())
	assert.False(t, SeverityWarning.IsBlocking())
	assert.True(t, SeverityError.IsBlocking())
	assert.True(t, SeverityCritical.IsBlocking())
}
