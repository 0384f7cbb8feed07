package validation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/audit"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/threshold"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/ledger"
)

type stubCustomers struct {
	holder trade.Holder
	err    error
}

func (s *stubCustomers) Resolve(_ context.Context, _ string) (trade.Holder, error) {
	return s.holder, s.err
}

type stubProducts struct {
	substances map[string]string
	err        error
}

func (s *stubProducts) ResolveSubstance(_ context.Context, itemNumber, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.substances[itemNumber], nil
}

type stubThresholds struct {
	thresholds []*threshold.Threshold
	err        error

	lastLicenceTypes []string
}

func (s *stubThresholds) FindApplicable(_ context.Context, substanceCode string, holder trade.Holder, licenceTypeIDs []string) ([]*threshold.Threshold, error) {
	s.lastLicenceTypes = licenceTypeIDs
	if s.err != nil {
		return nil, s.err
	}
	applicable := make([]*threshold.Threshold, 0, len(s.thresholds))
	for _, th := range s.thresholds {
		if th.AppliesTo(substanceCode, holder, licenceTypeIDs) {
			applicable = append(applicable, th)
		}
	}
	return applicable, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *recordingSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byType(eventType audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// engineFixture bundles the engine with every collaborator so tests can
// reconfigure stubs and inspect side effects.
type engineFixture struct {
	engine       *Engine
	customers    *stubCustomers
	products     *stubProducts
	licences     *stubLicences
	thresholds   *stubThresholds
	corridors    *stubCorridors
	store        ledger.CounterStore
	ledger       *ledger.Ledger
	reservations *ledger.Registry
	sink         *recordingSink
}

func newEngineFixture(t *testing.T, store ledger.CounterStore) *engineFixture {
	t.Helper()
	if store == nil {
		store = ledger.NewMemoryStore()
	}
	f := &engineFixture{
		customers:    &stubCustomers{holder: matchHolder()},
		products:     &stubProducts{substances: map[string]string{"ITEM-EPH-50": "EPH"}},
		licences:     &stubLicences{mappings: []*licence.SubstanceMapping{mappingFor(usableLicence(nil), nil)}},
		thresholds:   &stubThresholds{},
		corridors:    &stubCorridors{permitted: map[string]bool{"NL-DE": true}},
		store:        store,
		reservations: ledger.NewRegistry(),
		sink:         &recordingSink{},
	}
	f.ledger = ledger.New(store, zaptest.NewLogger(t))
	f.engine = NewEngine(
		zaptest.NewLogger(t),
		f.customers,
		f.products,
		f.licences,
		f.thresholds,
		f.corridors,
		f.ledger,
		f.reservations,
		f.sink,
	)
	return f
}

func pendingTx(t *testing.T, quantity string) *trade.Transaction {
	t.Helper()
	tx := crossBorderTx(t, trade.DirectionOutbound, "NL", "DE")
	require.NoError(t, tx.AddLine("ITEM-EPH-50", "nl01", values.MustGramsFromString(quantity)))
	return tx
}

func engineThreshold(limit string, allowOverride bool) *threshold.Threshold {
	th := testThresholdFor("EPH", limit)
	th.AllowOverride = allowOverride
	return th
}

func testThresholdFor(substance, limit string) *threshold.Threshold {
	return &threshold.Threshold{
		ID:             uuid.New(),
		Name:           substance + " monthly",
		SubstanceCode:  substance,
		Limit:          values.MustGramsFromString(limit),
		Period:         threshold.PeriodMonthly,
		WarningPercent: 80,
	}
}

func TestValidateGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal status rejected", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		tx := pendingTx(t, "100")
		tx.Status = trade.StatusPassed

		_, err := f.engine.Validate(ctx, tx)
		assert.True(t, errors.HasCode(err, "NOT_VALIDATABLE"))
	})

	t.Run("failed transaction is revalidatable", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		tx := pendingTx(t, "100")
		tx.Status = trade.StatusFailed

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)
	})

	t.Run("no lines rejected", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		tx := crossBorderTx(t, trade.DirectionOutbound, "NL", "DE")

		_, err := f.engine.Validate(ctx, tx)
		assert.True(t, errors.HasCode(err, "NO_LINES"))
	})
}

func TestValidatePass(t *testing.T) {
	ctx := context.Background()

	t.Run("clean transaction passes and commits the ledger", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		th := engineThreshold("1000", true)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "300")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusPassed, result.Status)
		assert.True(t, result.IsValid)
		assert.True(t, result.CanProceed)
		assert.False(t, result.CanOverride)
		assert.Empty(t, result.Violations)
		require.Len(t, result.LicenceUsages, 1)
		assert.True(t, result.LicenceUsages[0].Quantity.Equal(values.MustGramsFromString("300")))
		assert.Equal(t, trade.StatusPassed, tx.Status)
		assert.Equal(t, "EPH", tx.Lines[0].SubstanceCode)

		total, err := store.Total(ctx, th.BucketKey("CUST-0042", tx.TransactionDate))
		require.NoError(t, err)
		assert.True(t, total.Equal(values.MustGramsFromString("300")))

		_, parked := f.reservations.Take(tx.ID)
		assert.False(t, parked)
	})

	t.Run("per-period mapping cap is drawn down on commit", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		perPeriod := values.MustGramsFromString("5000")
		capped := mappingFor(usableLicence(nil), nil)
		capped.MaxQuantityPerPeriod = &perPeriod
		f.licences.mappings = []*licence.SubstanceMapping{capped}
		tx := pendingTx(t, "300")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)

		total, err := store.Total(ctx, capped.PeriodBucketKey(tx.TransactionDate))
		require.NoError(t, err)
		assert.True(t, total.Equal(values.MustGramsFromString("300")))
	})

	t.Run("non substance-bearing lines are exempt", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		f.thresholds.thresholds = []*threshold.Threshold{engineThreshold("1000", true)}
		f.licences.mappings = nil

		tx := crossBorderTx(t, trade.DirectionOutbound, "NL", "DE")
		require.NoError(t, tx.AddLine("ITEM-PLAIN", "nl01", values.MustGramsFromString("9999")))

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)
		assert.Empty(t, result.Violations)
		assert.Empty(t, result.LicenceUsages)
		assert.Empty(t, tx.Lines[0].SubstanceCode)
	})

	t.Run("warning band passes with a non-blocking violation", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.thresholds.thresholds = []*threshold.Threshold{engineThreshold("1000", true)}
		tx := pendingTx(t, "900")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeThresholdWarning, result.Violations[0].Code)
		assert.True(t, result.IsValid)
	})

	t.Run("decision is audited", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		events := f.sink.byType(audit.EventValidationCompleted)
		require.Len(t, events, 1)
		assert.Equal(t, tx.ID, events[0].TransactionID)
		assert.Equal(t, "passed", events[0].Details["status"])
	})

	t.Run("audit failure never reverses the decision", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.sink.err = assert.AnError
		tx := pendingTx(t, "100")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)
	})
}

func TestValidateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no coverage fails without override", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		f.licences.mappings = nil
		tx := pendingTx(t, "100")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusFailed, result.Status)
		assert.False(t, result.CanOverride)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeNoLicenceCoverage, result.Violations[0].Code)
		assert.Equal(t, trade.StatusFailed, tx.Status)

		_, parked := f.reservations.Take(tx.ID)
		assert.False(t, parked)
	})

	t.Run("partial coverage requires override and parks the reservation", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		perTx := values.MustGramsFromString("300")
		capped := mappingFor(usableLicence(nil), nil)
		capped.MaxQuantityPerTransaction = &perTx
		f.licences.mappings = []*licence.SubstanceMapping{capped}
		th := engineThreshold("1000", true)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusRequiresOverride, result.Status)
		assert.True(t, result.CanOverride)
		assert.False(t, result.CanProceed)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeInsufficientLicenceCoverage, result.Violations[0].Code)

		// Nothing booked until a human approves.
		total, err := store.Total(ctx, th.BucketKey("CUST-0042", tx.TransactionDate))
		require.NoError(t, err)
		assert.True(t, total.IsZero())

		_, parked := f.reservations.Take(tx.ID)
		assert.True(t, parked)
	})

	t.Run("overridable threshold excess requires override", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		th := engineThreshold("1000", true)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		key := th.BucketKey("CUST-0042", matchAsOf)
		_, err := store.Add(ctx, key, values.MustGramsFromString("800"))
		require.NoError(t, err)
		tx := pendingTx(t, "500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusRequiresOverride, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeThresholdExceeded, result.Violations[0].Code)
		assert.True(t, result.Violations[0].CanOverride)

		reservation, parked := f.reservations.Take(tx.ID)
		require.True(t, parked)
		assert.NotEmpty(t, reservation.Entries())

		// Committed total stays at the pre-existing consumption.
		total, err := store.Total(ctx, key)
		require.NoError(t, err)
		assert.True(t, total.Equal(values.MustGramsFromString("800")))
	})

	t.Run("blocked threshold excess is final", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		th := engineThreshold("1000", false)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "1500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusFailed, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.SeverityCritical, result.Violations[0].Severity)
		assert.False(t, result.CanOverride)

		_, parked := f.reservations.Take(tx.ID)
		assert.False(t, parked)
	})

	t.Run("unpermitted corridor fails alongside line findings", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.corridors.permitted = nil
		tx := pendingTx(t, "100")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusFailed, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeCorridorNotPermitted, result.Violations[0].Code)
		assert.False(t, result.CanOverride)
	})

	t.Run("threshold breach is audited", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.thresholds.thresholds = []*threshold.Threshold{engineThreshold("1000", true)}
		tx := pendingTx(t, "1200")

		_, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		breaches := f.sink.byType(audit.EventThresholdBreached)
		require.Len(t, breaches, 1)
		assert.Equal(t, "EPH", breaches[0].Details["substance_code"])
	})
}

func TestValidateLicenceTypeScope(t *testing.T) {
	ctx := context.Background()

	t.Run("covering licence types reach the threshold lookup", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []string{"WDA"}, f.thresholds.lastLicenceTypes)
	})

	t.Run("threshold scoped to an unheld licence type never binds", func(t *testing.T) {
		th := engineThreshold("1000", true)
		th.LicenceTypeID = "GDP"
		f := newEngineFixture(t, nil)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "1500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusPassed, result.Status)
		assert.Empty(t, result.Violations)
	})

	t.Run("threshold scoped to the covering licence type binds", func(t *testing.T) {
		th := engineThreshold("1000", true)
		th.LicenceTypeID = "WDA"
		f := newEngineFixture(t, nil)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "1500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, trade.StatusRequiresOverride, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeThresholdExceeded, result.Violations[0].Code)
	})
}

func TestValidateExternalFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("customer resolution failure is retryable", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.customers.err = assert.AnError
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, "EXTERNAL_SERVICE_ERROR"))
		assert.Equal(t, trade.StatusPending, tx.Status)
	})

	t.Run("product resolution failure aborts without a decision", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		f := newEngineFixture(t, store)
		f.products.err = assert.AnError
		th := engineThreshold("1000", true)
		f.thresholds.thresholds = []*threshold.Threshold{th}
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.Error(t, err)
		assert.Equal(t, trade.StatusPending, tx.Status)

		total, err := store.Total(ctx, th.BucketKey("CUST-0042", tx.TransactionDate))
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	})

	t.Run("licence repository failure is never folded into no-coverage", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.licences.err = assert.AnError
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, "EXTERNAL_SERVICE_ERROR"))
		assert.Empty(t, tx.Violations)
	})

	t.Run("threshold repository failure aborts", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.thresholds.err = assert.AnError
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(ctx, tx)
		require.Error(t, err)
	})

	t.Run("cancelled context aborts before commit", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		tx := pendingTx(t, "100")

		_, err := f.engine.Validate(cancelled, tx)
		require.Error(t, err)
		assert.Equal(t, trade.StatusPending, tx.Status)
	})
}

// racingStore reports a low committed total during evaluation, then a high
// one once commit re-checks, mimicking a concurrent transaction landing in
// between.
type racingStore struct {
	*ledger.MemoryStore
	mu    sync.Mutex
	reads int
	after values.Quantity
}

func (s *racingStore) Total(ctx context.Context, key string) (values.Quantity, error) {
	s.mu.Lock()
	s.reads++
	first := s.reads == 1
	s.mu.Unlock()
	if first {
		return values.ZeroQuantity(), nil
	}
	return s.after, nil
}

func TestValidateCommitConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict on an overridable threshold demotes to requires-override", func(t *testing.T) {
		store := &racingStore{MemoryStore: ledger.NewMemoryStore(), after: values.MustGramsFromString("900")}
		f := newEngineFixture(t, store)
		f.thresholds.thresholds = []*threshold.Threshold{engineThreshold("1000", true)}
		tx := pendingTx(t, "500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusRequiresOverride, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.CodeThresholdExceeded, result.Violations[0].Code)
		assert.True(t, result.Violations[0].CanOverride)

		_, parked := f.reservations.Take(tx.ID)
		assert.True(t, parked)
	})

	t.Run("conflict on a final threshold fails the transaction", func(t *testing.T) {
		store := &racingStore{MemoryStore: ledger.NewMemoryStore(), after: values.MustGramsFromString("900")}
		f := newEngineFixture(t, store)
		f.thresholds.thresholds = []*threshold.Threshold{engineThreshold("1000", false)}
		tx := pendingTx(t, "500")

		result, err := f.engine.Validate(ctx, tx)
		require.NoError(t, err)

		assert.Equal(t, trade.StatusFailed, result.Status)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, trade.SeverityCritical, result.Violations[0].Severity)

		_, parked := f.reservations.Take(tx.ID)
		assert.False(t, parked)
	})
}
