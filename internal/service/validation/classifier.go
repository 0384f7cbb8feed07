package validation

import (
	"fmt"
	"sort"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/ledger"
)

// CoverageFinding is the raw matcher outcome for one line.
type CoverageFinding struct {
	LineNumber    int
	SubstanceCode string
	Coverage      *Coverage
}

// ThresholdFinding is one raw ledger evaluation for one line.
type ThresholdFinding struct {
	LineNumber    int
	SubstanceCode string
	Evaluation    *ledger.Evaluation
}

// Findings carries every raw rule outcome of one validation run into the
// classifier, in discovery order: coverage, then thresholds, then
// cross-border.
type Findings struct {
	Coverage    []CoverageFinding
	Thresholds  []ThresholdFinding
	CrossBorder *trade.Violation
}

// Classify converts raw rule outcomes into the ordered violation list.
//
// Severity/override mapping is a fixed table: zero coverage is Critical and
// final; partial coverage is an overridable Error; an exceeded threshold is
// an overridable Error when its policy allows override, otherwise Critical;
// cross-border findings are non-overridable Errors; warning-band usage is a
// non-blocking Warning.
//
// Ordering is display-significant: severity descending, then line number
// ascending (transaction-level findings carry line 0 and lead their
// severity band), then discovery order.
func Classify(findings Findings) []trade.Violation {
	violations := make([]trade.Violation, 0, len(findings.Coverage)+len(findings.Thresholds)+1)

	for _, f := range findings.Coverage {
		if f.Coverage.Full() {
			continue
		}
		if f.Coverage.Covered().IsZero() {
			violations = append(violations, trade.Violation{
				Code:          trade.CodeNoLicenceCoverage,
				Message:       fmt.Sprintf("no valid licence covers substance %s for the requested %s", f.SubstanceCode, f.Coverage.Requested),
				Severity:      trade.SeverityCritical,
				CanOverride:   false,
				LineNumber:    f.LineNumber,
				SubstanceCode: f.SubstanceCode,
			})
			continue
		}
		violations = append(violations, trade.Violation{
			Code:          trade.CodeInsufficientLicenceCoverage,
			Message:       fmt.Sprintf("licence coverage for substance %s is short by %s of the requested %s", f.SubstanceCode, f.Coverage.Shortfall, f.Coverage.Requested),
			Severity:      trade.SeverityError,
			CanOverride:   true,
			LineNumber:    f.LineNumber,
			SubstanceCode: f.SubstanceCode,
		})
	}

	for _, f := range findings.Thresholds {
		if v, ok := thresholdViolation(f); ok {
			violations = append(violations, v)
		}
	}

	if findings.CrossBorder != nil {
		violations = append(violations, *findings.CrossBorder)
	}

	sortViolations(violations)
	return violations
}

func thresholdViolation(f ThresholdFinding) (trade.Violation, bool) {
	eval := f.Evaluation
	th := eval.Threshold

	switch eval.Outcome {
	case ledger.OutcomeOverLimitBlocked:
		return trade.Violation{
			Code:          trade.CodeThresholdExceeded,
			Message:       fmt.Sprintf("threshold %q exceeded for substance %s: %s of %s %s limit", th.Name, f.SubstanceCode, eval.CandidateTotal, th.Limit, th.Period),
			Severity:      trade.SeverityCritical,
			CanOverride:   false,
			LineNumber:    f.LineNumber,
			SubstanceCode: f.SubstanceCode,
		}, true
	case ledger.OutcomeOverLimitOverridable:
		return trade.Violation{
			Code:          trade.CodeThresholdExceeded,
			Message:       fmt.Sprintf("threshold %q exceeded for substance %s: %s of %s %s limit", th.Name, f.SubstanceCode, eval.CandidateTotal, th.Limit, th.Period),
			Severity:      trade.SeverityError,
			CanOverride:   true,
			LineNumber:    f.LineNumber,
			SubstanceCode: f.SubstanceCode,
		}, true
	case ledger.OutcomeWarning:
		return trade.Violation{
			Code:          trade.CodeThresholdWarning,
			Message:       fmt.Sprintf("threshold %q for substance %s is at %s of its %s %s limit", th.Name, f.SubstanceCode, eval.CandidateTotal, th.Limit, th.Period),
			Severity:      trade.SeverityWarning,
			CanOverride:   false,
			LineNumber:    f.LineNumber,
			SubstanceCode: f.SubstanceCode,
		}, true
	default:
		return trade.Violation{}, false
	}
}

// sortViolations orders by severity descending then line number ascending.
// The stable sort preserves discovery order within ties.
func sortViolations(violations []trade.Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Severity != violations[j].Severity {
			return violations[i].Severity > violations[j].Severity
		}
		return violations[i].LineNumber < violations[j].LineNumber
	})
}
