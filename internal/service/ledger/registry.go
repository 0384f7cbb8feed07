package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// Registry parks the reservations of transactions awaiting an override
// decision, keyed by transaction ID. Take removes the reservation, so every
// pending reservation is resolved exactly once; the transaction's own state
// machine guards repeat resolution attempts.
type Registry struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Reservation
}

// NewRegistry creates an empty reservation registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[uuid.UUID]*Reservation)}
}

// Put parks a reservation for the transaction, replacing any earlier one
// from a superseded validation run.
func (r *Registry) Put(transactionID uuid.UUID, res *Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[transactionID] = res
}

// Take removes and returns the parked reservation, if any.
func (r *Registry) Take(transactionID uuid.UUID) (*Reservation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.pending[transactionID]
	if ok {
		delete(r.pending, transactionID)
	}
	return res, ok
}
