package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/threshold"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

// CounterStore persists committed bucket totals. Buckets are created lazily
// on first commit and reset implicitly when the key rolls over to a new
// period; there is no sweeper.
type CounterStore interface {
	// Total returns the committed total for the bucket, zero if the bucket
	// has never been written.
	Total(ctx context.Context, key string) (values.Quantity, error)
	// Add increments the bucket and returns the new total.
	Add(ctx context.Context, key string, delta values.Quantity) (values.Quantity, error)
}

// Outcome classifies a single threshold evaluation.
type Outcome int

const (
	OutcomeWithin Outcome = iota
	OutcomeWarning
	OutcomeOverLimitOverridable
	OutcomeOverLimitBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWithin:
		return "within"
	case OutcomeWarning:
		return "warning"
	case OutcomeOverLimitOverridable:
		return "over_limit_overridable"
	case OutcomeOverLimitBlocked:
		return "over_limit_blocked"
	default:
		return "unknown"
	}
}

// Evaluation is the side-effect-free result of checking one threshold
// against the committed bucket total. Nothing is booked until Commit.
type Evaluation struct {
	Threshold      *threshold.Threshold
	BucketKey      string
	Quantity       values.Quantity
	CommittedTotal values.Quantity
	CandidateTotal values.Quantity
	Outcome        Outcome
}

// Entry is one bucket increment awaiting commit.
type Entry struct {
	BucketKey       string
	Quantity        values.Quantity
	Limit           values.Quantity
	OverrideCeiling values.Quantity
	Overridable     bool
	SubstanceCode   string
	LineNumber      int
}

// Reservation accumulates the bucket increments of one transaction. It is
// committed only when the transaction's final disposition is Passed or
// ApprovedWithOverride; discarding it leaves every bucket untouched.
type Reservation struct {
	entries []Entry
}

// Add appends an entry. Entries with no bucket key (per-transaction limits)
// or zero quantity carry no persistent state and are dropped.
func (r *Reservation) Add(entry Entry) {
	if entry.BucketKey == "" || !entry.Quantity.IsPositive() {
		return
	}
	r.entries = append(r.entries, entry)
}

// Empty reports whether the reservation holds no persistent increments.
func (r *Reservation) Empty() bool {
	return r == nil || len(r.entries) == 0
}

// Entries returns the accumulated increments in insertion order. Callers
// must not mutate the returned slice.
func (r *Reservation) Entries() []Entry {
	if r == nil {
		return nil
	}
	return r.entries
}

// ConflictError reports a commit-time re-check failure: between Evaluate and
// Commit another transaction filled the bucket.
type ConflictError struct {
	BucketKey     string
	SubstanceCode string
	LineNumber    int
	Overridable   bool
	Committed     values.Quantity
	Attempted     values.Quantity
	Limit         values.Quantity
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("threshold bucket %s cannot admit %s: committed %s, limit %s",
		e.BucketKey, e.Attempted, e.Committed, e.Limit)
}

// Ledger tracks cumulative consumption per threshold bucket. Evaluate is a
// pure read; Commit is the single serialization point, linearized per bucket
// key so no two commits for the same bucket interleave their
// read-modify-write.
type Ledger struct {
	store  CounterStore
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger over the given counter store.
func New(store CounterStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Evaluate checks quantity against one threshold without mutating any
// bucket. Per-transaction thresholds never touch the store: their committed
// total is zero by definition.
func (l *Ledger) Evaluate(ctx context.Context, th *threshold.Threshold, holder trade.Holder, asOf time.Time, quantity values.Quantity) (*Evaluation, error) {
	eval := &Evaluation{
		Threshold:      th,
		Quantity:       quantity,
		CommittedTotal: values.ZeroQuantity(),
	}

	if th.Period != threshold.PeriodPerTransaction {
		eval.BucketKey = th.BucketKey(holder.CustomerAccount, asOf)
		total, err := l.store.Total(ctx, eval.BucketKey)
		if err != nil {
			return nil, fmt.Errorf("reading bucket %s: %w", eval.BucketKey, err)
		}
		eval.CommittedTotal = total
	}

	eval.CandidateTotal = eval.CommittedTotal.Add(quantity)
	eval.Outcome = classify(th, eval.CandidateTotal)
	return eval, nil
}

// Consumed returns the committed total for an arbitrary bucket key. Used by
// the coverage matcher to compute remaining per-period mapping capacity.
func (l *Ledger) Consumed(ctx context.Context, key string) (values.Quantity, error) {
	return l.store.Total(ctx, key)
}

// Commit books every entry of the reservation, all or nothing. Each bucket
// is re-checked against its ceiling under the bucket's lock; a bucket that
// no longer fits aborts the whole commit with a ConflictError and leaves
// every bucket unmutated. Once Commit begins applying increments it runs to
// completion regardless of ctx.
func (l *Ledger) Commit(ctx context.Context, res *Reservation, withOverride bool) error {
	if res.Empty() {
		return nil
	}

	merged := mergeEntries(res.entries)

	// Locks are taken in key order so concurrent multi-bucket commits cannot
	// deadlock.
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		lock := l.keyLock(key)
		lock.Lock()
		defer lock.Unlock()
	}

	// Re-check every bucket before mutating any.
	for _, key := range keys {
		entry := merged[key]
		total, err := l.store.Total(ctx, key)
		if err != nil {
			return fmt.Errorf("reading bucket %s: %w", key, err)
		}
		ceiling := entry.Limit
		if withOverride && entry.Overridable {
			ceiling = entry.OverrideCeiling
		}
		if total.Add(entry.Quantity).GreaterThan(ceiling) {
			return &ConflictError{
				BucketKey:     key,
				SubstanceCode: entry.SubstanceCode,
				LineNumber:    entry.LineNumber,
				Overridable:   entry.Overridable,
				Committed:     total,
				Attempted:     entry.Quantity,
				Limit:         ceiling,
			}
		}
	}

	// Point of no return: apply all increments. The store contract makes Add
	// infallible for in-memory deployments; a durable store failure here is
	// surfaced after best-effort rollback of the already-applied deltas.
	applied := make([]string, 0, len(keys))
	for _, key := range keys {
		entry := merged[key]
		newTotal, err := l.store.Add(context.WithoutCancel(ctx), key, entry.Quantity)
		if err != nil {
			l.rollback(applied, merged)
			return fmt.Errorf("committing bucket %s: %w", key, err)
		}
		applied = append(applied, key)
		l.logger.Debug("threshold bucket committed",
			zap.String("bucket", key),
			zap.String("delta", entry.Quantity.String()),
			zap.String("total", newTotal.String()),
		)
	}

	return nil
}

func (l *Ledger) rollback(applied []string, merged map[string]Entry) {
	for _, key := range applied {
		delta := values.NewGrams(merged[key].Quantity.Grams().Neg())
		if _, err := l.store.Add(context.Background(), key, delta); err != nil {
			l.logger.Error("ledger rollback failed, bucket overstated",
				zap.String("bucket", key),
				zap.Error(err),
			)
		}
	}
}

func (l *Ledger) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

func classify(th *threshold.Threshold, candidate values.Quantity) Outcome {
	if candidate.GreaterThan(th.Limit) {
		if th.AllowOverride {
			return OutcomeOverLimitOverridable
		}
		return OutcomeOverLimitBlocked
	}
	if th.WarningPercent > 0 && !candidate.LessThan(th.WarningFloor()) && !candidate.GreaterThan(th.Limit) {
		return OutcomeWarning
	}
	return OutcomeWithin
}

func mergeEntries(entries []Entry) map[string]Entry {
	merged := make(map[string]Entry, len(entries))
	for _, e := range entries {
		cur, ok := merged[e.BucketKey]
		if !ok {
			merged[e.BucketKey] = e
			continue
		}
		cur.Quantity = cur.Quantity.Add(e.Quantity)
		cur.Limit = cur.Limit.Min(e.Limit)
		cur.OverrideCeiling = cur.OverrideCeiling.Min(e.OverrideCeiling)
		cur.Overridable = cur.Overridable && e.Overridable
		merged[e.BucketKey] = cur
	}
	return merged
}
