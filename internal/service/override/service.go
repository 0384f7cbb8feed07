package override

import (
	"context"
	goerrors "errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/audit"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/ledger"
)

// Role is the capability an actor holds. Authentication is the caller's
// concern; the workflow only checks capability.
type Role string

const (
	RoleComplianceManager Role = "compliance_manager"
	RoleTrader            Role = "trader"
)

// Actor identifies who is resolving an override.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// TransactionStore loads and persists transactions for the workflow. Get
// must return an instance the caller may mutate freely; changes become
// visible only through Save.
type TransactionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*trade.Transaction, error)
	Save(ctx context.Context, tx *trade.Transaction) error
}

// Workflow drives the human-override leg of the transaction lifecycle:
// RequiresOverride → ApprovedWithOverride | Rejected. Approval commits the
// ledger reservations parked at validation time; rejection discards them.
type Workflow struct {
	logger       *zap.Logger
	transactions TransactionStore
	ledger       *ledger.Ledger
	reservations *ledger.Registry
	auditSink    audit.Sink
}

// NewWorkflow wires the override workflow. The reservation registry must be
// the same instance the validation engine parks into.
func NewWorkflow(logger *zap.Logger, transactions TransactionStore, ledg *ledger.Ledger, reservations *ledger.Registry, auditSink audit.Sink) *Workflow {
	return &Workflow{
		logger:       logger,
		transactions: transactions,
		ledger:       ledg,
		reservations: reservations,
		auditSink:    auditSink,
	}
}

// Approve waives the transaction's overridable violations with a recorded
// justification and books the deferred ledger reservations. Re-invoking on a
// resolved transaction fails with AlreadyResolved; the ledger is incremented
// exactly once.
func (w *Workflow) Approve(ctx context.Context, transactionID uuid.UUID, actor Actor, justification string) (*trade.Transaction, error) {
	if actor.Role != RoleComplianceManager {
		return nil, errors.ErrForbiddenActor
	}
	if justification == "" {
		return nil, errors.ErrMissingJustification
	}

	tx, err := w.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := tx.ApproveOverride(actor.ID, justification); err != nil {
		return nil, err
	}

	// Commit before persisting the transition: if a concurrent transaction
	// has filled the bucket past even the override ceiling, the approval
	// fails and the transaction stays awaiting a decision.
	if reservation, ok := w.reservations.Take(transactionID); ok {
		if err := w.ledger.Commit(ctx, reservation, true); err != nil {
			var conflict *ledger.ConflictError
			if goerrors.As(err, &conflict) {
				w.reservations.Put(transactionID, reservation)
				return nil, errors.NewBusinessError("OVERRIDE_THRESHOLD_CONFLICT",
					"threshold headroom was consumed by a concurrent transaction: "+conflict.Error())
			}
			w.reservations.Put(transactionID, reservation)
			return nil, errors.NewExternalError("ledger", "committing override reservations").WithCause(err)
		}
	}

	if err := w.transactions.Save(ctx, tx); err != nil {
		return nil, errors.NewExternalError("transaction", "persisting override approval").WithCause(err)
	}

	w.recordAudit(ctx, audit.EventOverrideApproved, tx.ID, actor, justification)
	w.logger.Info("override approved",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return tx, nil
}

// Reject declines the override, discarding the parked reservations so no
// threshold consumption is ever booked for the transaction.
func (w *Workflow) Reject(ctx context.Context, transactionID uuid.UUID, actor Actor, reason string) (*trade.Transaction, error) {
	if actor.Role != RoleComplianceManager {
		return nil, errors.ErrForbiddenActor
	}

	tx, err := w.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := tx.RejectOverride(actor.ID, reason); err != nil {
		return nil, err
	}

	// Evaluate-then-discard: the buckets were never mutated, so dropping the
	// reservation is the entire rollback.
	w.reservations.Take(transactionID)

	if err := w.transactions.Save(ctx, tx); err != nil {
		return nil, errors.NewExternalError("transaction", "persisting override rejection").WithCause(err)
	}

	w.recordAudit(ctx, audit.EventOverrideRejected, tx.ID, actor, reason)
	w.logger.Info("override rejected",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return tx, nil
}

func (w *Workflow) recordAudit(ctx context.Context, eventType audit.EventType, transactionID uuid.UUID, actor Actor, note string) {
	event := audit.NewEvent(eventType, transactionID)
	event.ActorID = actor.ID
	event.Details = map[string]interface{}{"note": note, "role": string(actor.Role)}
	if err := w.auditSink.Record(ctx, event); err != nil {
		w.logger.Error("failed to record audit event",
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err),
		)
	}
}
