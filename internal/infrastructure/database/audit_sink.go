package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/audit"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
)

// AuditSink appends audit events to the compliance_audit_events table.
type AuditSink struct {
	db *pgxpool.Pool
}

// NewAuditSink creates a PostgreSQL audit sink.
func NewAuditSink(db *pgxpool.Pool) *AuditSink {
	return &AuditSink{db: db}
}

// Record implements audit.Sink.
func (s *AuditSink) Record(ctx context.Context, event audit.Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return errors.NewInternalError("failed to marshal audit details").WithCause(err)
	}

	actorID := ""
	if event.ActorID != uuid.Nil {
		actorID = event.ActorID.String()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO compliance_audit_events (
			id, event_type, transaction_id, actor_id, occurred_at, details
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, string(event.Type), event.TransactionID, actorID, event.OccurredAt, details)

	if err != nil {
		return errors.NewInternalError("failed to record audit event").WithCause(err)
	}

	return nil
}
