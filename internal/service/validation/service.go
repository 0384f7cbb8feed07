package validation

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/audit"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/licence"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/threshold"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/ledger"
)

// Result is returned to the caller of Validate. The SLA on validation time
// is enforced by the API layer from ValidationTimeMs, not here.
type Result struct {
	TransactionID    uuid.UUID              `json:"transaction_id"`
	Status           trade.ValidationStatus `json:"status"`
	IsValid          bool                   `json:"is_valid"`
	CanProceed       bool                   `json:"can_proceed"`
	CanOverride      bool                   `json:"can_override"`
	Violations       []trade.Violation      `json:"violations"`
	LicenceUsages    []trade.LicenceUsage   `json:"licence_usages"`
	ValidationTimeMs int64                  `json:"validation_time_ms"`
}

// Engine orchestrates one transaction's compliance decision: per-line
// coverage matching and threshold evaluation, transaction-level cross-border
// checks, violation classification, final status computation and
// licence-usage attribution.
type Engine struct {
	logger       *zap.Logger
	customers    CustomerRepository
	products     ProductRepository
	thresholds   threshold.Repository
	matcher      *CoverageMatcher
	crossBorder  *CrossBorderPolicy
	ledger       *ledger.Ledger
	reservations *ledger.Registry
	auditSink    audit.Sink
}

// NewEngine wires the validation engine. The reservation registry must be
// shared with the override workflow so deferred ledger commits survive until
// a human decision.
func NewEngine(
	logger *zap.Logger,
	customers CustomerRepository,
	products ProductRepository,
	licences licence.Repository,
	thresholds threshold.Repository,
	corridors CorridorRepository,
	ledg *ledger.Ledger,
	reservations *ledger.Registry,
	auditSink audit.Sink,
) *Engine {
	return &Engine{
		logger:       logger,
		customers:    customers,
		products:     products,
		thresholds:   thresholds,
		matcher:      NewCoverageMatcher(licences, ledg, logger.Named("matcher")),
		crossBorder:  NewCrossBorderPolicy(corridors, logger.Named("crossborder")),
		ledger:       ledg,
		reservations: reservations,
		auditSink:    auditSink,
	}
}

// Validate runs the full rule pipeline against the transaction and records
// the decision on it. Collaborator failures abort with a retryable error and
// no ledger mutation; they are never folded into a "no coverage" outcome.
// Ledger reservations are committed only when the final status is Passed;
// an overridable failure parks them for the override workflow instead.
func (e *Engine) Validate(ctx context.Context, tx *trade.Transaction) (*Result, error) {
	start := time.Now()

	if tx.Status != trade.StatusPending && tx.Status != trade.StatusFailed {
		return nil, errors.NewInvariantError("NOT_VALIDATABLE",
			"transaction can only be validated while pending or after a non-overridable failure")
	}
	if len(tx.Lines) == 0 {
		return nil, errors.NewValidationError("NO_LINES", "transaction has no lines to validate")
	}

	e.logger.Info("validating transaction",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("external_ref", tx.ExternalRef),
		zap.String("customer", tx.Holder.CustomerAccount),
		zap.Int("lines", len(tx.Lines)),
	)

	holder, err := e.customers.Resolve(ctx, tx.Holder.CustomerAccount)
	if err != nil {
		return nil, errors.NewExternalError("customer", "resolving holder identity").WithCause(err)
	}
	tx.Holder = holder

	findings := Findings{}
	reservation := &ledger.Reservation{}
	var usages []trade.LicenceUsage

	for i := range tx.Lines {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "validation cancelled")
		}
		line := &tx.Lines[i]

		substanceCode, err := e.products.ResolveSubstance(ctx, line.ItemNumber, line.DataAreaID)
		if err != nil {
			return nil, errors.NewExternalError("product", "resolving substance for item "+line.ItemNumber).WithCause(err)
		}
		if substanceCode == "" {
			// Not substance-bearing: outside the regulated scope.
			continue
		}
		line.SubstanceCode = substanceCode

		coverage, err := e.matcher.FindCoverage(ctx, holder, substanceCode, tx.TransactionDate, line.Quantity)
		if err != nil {
			return nil, errors.NewExternalError("licence", "matching coverage for substance "+substanceCode).WithCause(err)
		}
		findings.Coverage = append(findings.Coverage, CoverageFinding{
			LineNumber:    line.LineNumber,
			SubstanceCode: substanceCode,
			Coverage:      coverage,
		})
		usages = append(usages, usagesFromCoverage(line, coverage)...)
		addMappingCapEntries(reservation, line, coverage, tx.TransactionDate)

		applicable, err := e.thresholds.FindApplicable(ctx, substanceCode, holder, licenceTypesFromCoverage(coverage))
		if err != nil {
			return nil, errors.NewExternalError("threshold", "finding thresholds for substance "+substanceCode).WithCause(err)
		}
		for _, th := range threshold.SelectAuthoritative(applicable) {
			eval, err := e.ledger.Evaluate(ctx, th, holder, tx.TransactionDate, line.Quantity)
			if err != nil {
				return nil, errors.NewExternalError("ledger", "evaluating threshold "+th.Name).WithCause(err)
			}
			findings.Thresholds = append(findings.Thresholds, ThresholdFinding{
				LineNumber:    line.LineNumber,
				SubstanceCode: substanceCode,
				Evaluation:    eval,
			})
			if eval.Outcome != ledger.OutcomeOverLimitBlocked {
				reservation.Add(ledger.Entry{
					BucketKey:       eval.BucketKey,
					Quantity:        line.Quantity,
					Limit:           th.Limit,
					OverrideCeiling: th.OverrideCeiling(),
					Overridable:     th.AllowOverride,
					SubstanceCode:   substanceCode,
					LineNumber:      line.LineNumber,
				})
			}
		}
	}

	crossBorder, err := e.crossBorder.Validate(ctx, tx)
	if err != nil {
		return nil, errors.NewExternalError("corridor", "validating cross-border corridor").WithCause(err)
	}
	findings.CrossBorder = crossBorder

	violations := Classify(findings)
	status := finalStatus(violations)

	// Commit is the point of no return; a cancellation observed here simply
	// discards the in-flight work with no side effects.
	if status == trade.StatusPassed {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "validation cancelled")
		}
		if err := e.ledger.Commit(ctx, reservation, false); err != nil {
			var conflict *ledger.ConflictError
			if !goerrors.As(err, &conflict) {
				return nil, errors.NewExternalError("ledger", "committing threshold reservations").WithCause(err)
			}
			ledgerCommitConflicts.Inc()
			violations = appendConflictViolation(violations, conflict)
			status = finalStatus(violations)
		}
	}

	if status == trade.StatusRequiresOverride {
		e.reservations.Put(tx.ID, reservation)
	}

	if err := tx.ApplyValidation(status, violations, usages); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	result := &Result{
		TransactionID:    tx.ID,
		Status:           status,
		IsValid:          !trade.HasBlocking(violations),
		CanProceed:       status.CanProceed(),
		CanOverride:      trade.AggregateCanOverride(violations),
		Violations:       violations,
		LicenceUsages:    usages,
		ValidationTimeMs: elapsed.Milliseconds(),
	}

	e.recordMetrics(result)
	e.emitAuditEvents(ctx, tx, result)

	e.logger.Info("transaction validated",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("status", status.String()),
		zap.Int("violations", len(violations)),
		zap.Duration("elapsed", elapsed),
	)

	return result, nil
}

func finalStatus(violations []trade.Violation) trade.ValidationStatus {
	if !trade.HasBlocking(violations) {
		return trade.StatusPassed
	}
	if trade.AggregateCanOverride(violations) {
		return trade.StatusRequiresOverride
	}
	return trade.StatusFailed
}

func usagesFromCoverage(line *trade.TransactionLine, coverage *Coverage) []trade.LicenceUsage {
	usages := make([]trade.LicenceUsage, 0, len(coverage.Allocations))
	for _, alloc := range coverage.Allocations {
		usages = append(usages, trade.LicenceUsage{
			LicenceID:     alloc.Mapping.Licence.ID,
			LicenceNumber: alloc.Mapping.Licence.Number,
			LineNumber:    line.LineNumber,
			SubstanceCode: line.SubstanceCode,
			Quantity:      alloc.Quantity,
		})
	}
	return usages
}

// licenceTypesFromCoverage collects the distinct licence types the line's
// coverage draws on, so licence-type-scoped thresholds bind only when such
// a licence is actually in play.
func licenceTypesFromCoverage(coverage *Coverage) []string {
	var types []string
	seen := make(map[string]struct{}, len(coverage.Allocations))
	for _, alloc := range coverage.Allocations {
		typeID := alloc.Mapping.Licence.TypeID
		if typeID == "" {
			continue
		}
		if _, ok := seen[typeID]; ok {
			continue
		}
		seen[typeID] = struct{}{}
		types = append(types, typeID)
	}
	return types
}

// addMappingCapEntries books allocations against per-period mapping caps so
// an approved transaction draws the cap down.
func addMappingCapEntries(reservation *ledger.Reservation, line *trade.TransactionLine, coverage *Coverage, asOf time.Time) {
	for _, alloc := range coverage.Allocations {
		if alloc.Mapping.MaxQuantityPerPeriod == nil {
			continue
		}
		periodCap := *alloc.Mapping.MaxQuantityPerPeriod
		reservation.Add(ledger.Entry{
			BucketKey:       alloc.Mapping.PeriodBucketKey(asOf),
			Quantity:        alloc.Quantity,
			Limit:           periodCap,
			OverrideCeiling: periodCap,
			SubstanceCode:   line.SubstanceCode,
			LineNumber:      line.LineNumber,
		})
	}
}

func appendConflictViolation(violations []trade.Violation, conflict *ledger.ConflictError) []trade.Violation {
	severity := trade.SeverityCritical
	if conflict.Overridable {
		severity = trade.SeverityError
	}
	violations = append(violations, trade.Violation{
		Code:          trade.CodeThresholdExceeded,
		Message:       "threshold filled by a concurrent transaction: " + conflict.Error(),
		Severity:      severity,
		CanOverride:   conflict.Overridable,
		LineNumber:    conflict.LineNumber,
		SubstanceCode: conflict.SubstanceCode,
	})
	sortViolations(violations)
	return violations
}

func (e *Engine) recordMetrics(result *Result) {
	validationsTotal.WithLabelValues(result.Status.String()).Inc()
	validationDuration.Observe(float64(result.ValidationTimeMs) / 1000)
	for _, v := range result.Violations {
		violationsTotal.WithLabelValues(v.Code).Inc()
	}
}

// emitAuditEvents records the decision. Audit is best-effort: a failed write
// is logged and never reverses the business outcome.
func (e *Engine) emitAuditEvents(ctx context.Context, tx *trade.Transaction, result *Result) {
	event := audit.NewEvent(audit.EventValidationCompleted, tx.ID)
	event.Details = map[string]interface{}{
		"status":       result.Status.String(),
		"violations":   violationCodes(result.Violations),
		"can_override": result.CanOverride,
		"elapsed_ms":   result.ValidationTimeMs,
	}
	if err := e.auditSink.Record(ctx, event); err != nil {
		e.logger.Error("failed to record audit event",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
	}

	for _, v := range result.Violations {
		if v.Code != trade.CodeThresholdExceeded {
			continue
		}
		breach := audit.NewEvent(audit.EventThresholdBreached, tx.ID)
		breach.Details = map[string]interface{}{
			"substance_code": v.SubstanceCode,
			"line_number":    v.LineNumber,
			"severity":       v.Severity.String(),
		}
		if err := e.auditSink.Record(ctx, breach); err != nil {
			e.logger.Error("failed to record audit event",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func violationCodes(violations []trade.Violation) []string {
	codes := make([]string, 0, len(violations))
	for _, v := range violations {
		codes = append(codes, v.Code)
	}
	return codes
}
