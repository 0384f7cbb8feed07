package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events the engine emits.
type EventType string

const (
	EventValidationCompleted EventType = "validation.completed"
	EventThresholdBreached   EventType = "threshold.breached"
	EventOverrideApproved    EventType = "override.approved"
	EventOverrideRejected    EventType = "override.rejected"
)

// Event is an append-only audit record of a compliance decision. Persistence
// is a collaborator's concern; the engine only emits.
type Event struct {
	ID            uuid.UUID              `json:"id"`
	Type          EventType              `json:"type"`
	TransactionID uuid.UUID              `json:"transaction_id"`
	ActorID       uuid.UUID              `json:"actor_id,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and UTC timestamp.
func NewEvent(eventType EventType, transactionID uuid.UUID) Event {
	return Event{
		ID:            uuid.New(),
		Type:          eventType,
		TransactionID: transactionID,
		OccurredAt:    time.Now().UTC(),
	}
}

// Sink accepts audit events. Recording is best-effort relative to the
// business decision: a failed write is logged by the caller, never surfaced,
// and never reverses the decision it describes.
type Sink interface {
	Record(ctx context.Context, event Event) error
}
