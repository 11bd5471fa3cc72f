package domain

import (
	"fmt"
	"strconv"
)

// EnteredValue carries the single entered measurement of a QC test line.
// Exactly one field is populated, matching the line's result type.
type EnteredValue struct {
	Numeric  *float64
	Text     *string
	PassFail *bool
	Option   *string
}

// Populated counts the populated fields.
func (v EnteredValue) Populated() int {
	n := 0
	if v.Numeric != nil {
		n++
	}
	if v.Text != nil {
		n++
	}
	if v.PassFail != nil {
		n++
	}
	if v.Option != nil {
		n++
	}
	return n
}

// Evaluation is the outcome of evaluating one entered value against its
// specification rule.
type Evaluation struct {
	Status     QcResultStatus
	FailReason string
}

// EvaluateResult maps a declared specification rule and an entered value to
// pass, fail, or pending. It is a pure function: identical inputs always
// yield identical output, and it performs no I/O.
//
// Unknown or unsupported combinations yield pending; the evaluator never
// silently marks a line as passed. Text and option-list lines always yield
// pending here because they require a human judgment recorded separately.
func EvaluateResult(resultType ResultType, ruleType SpecRuleType, entered EnteredValue, specMin, specMax, specTarget *float64) Evaluation {
	switch resultType {
	case ResultTypePassFail:
		if entered.PassFail == nil {
			return Evaluation{Status: ResultPending}
		}
		if *entered.PassFail {
			return Evaluation{Status: ResultPass}
		}
		return Evaluation{Status: ResultFail, FailReason: "pass/fail check recorded as FAIL"}

	case ResultTypeNumeric:
		if entered.Numeric == nil {
			return Evaluation{Status: ResultPending}
		}
		v := *entered.Numeric
		switch ruleType {
		case RuleMin:
			if specMin == nil {
				return Evaluation{Status: ResultPending}
			}
			if v >= *specMin {
				return Evaluation{Status: ResultPass}
			}
			return Evaluation{
				Status:     ResultFail,
				FailReason: fmt.Sprintf("entered value %s is below the specified minimum %s", num(v), num(*specMin)),
			}
		case RuleMax:
			if specMax == nil {
				return Evaluation{Status: ResultPending}
			}
			if v <= *specMax {
				return Evaluation{Status: ResultPass}
			}
			return Evaluation{
				Status:     ResultFail,
				FailReason: fmt.Sprintf("entered value %s exceeds the specified maximum %s", num(v), num(*specMax)),
			}
		case RuleRange:
			if specMin == nil || specMax == nil {
				return Evaluation{Status: ResultPending}
			}
			if v >= *specMin && v <= *specMax {
				return Evaluation{Status: ResultPass}
			}
			return Evaluation{
				Status:     ResultFail,
				FailReason: fmt.Sprintf("entered value %s is outside the specified range %s..%s", num(v), num(*specMin), num(*specMax)),
			}
		case RuleEqual:
			if specTarget == nil {
				return Evaluation{Status: ResultPending}
			}
			// Exact float equality with no tolerance mirrors the recorded
			// specification for this rule type.
			if v == *specTarget {
				return Evaluation{Status: ResultPass}
			}
			return Evaluation{
				Status:     ResultFail,
				FailReason: fmt.Sprintf("entered value %s does not equal the specified target %s", num(v), num(*specTarget)),
			}
		case RulePassFailOnly:
			// A numeric line under pass_fail_only defers judgment to a human
			// reviewer: pending regardless of the entered value.
			return Evaluation{Status: ResultPending}
		default:
			return Evaluation{Status: ResultPending}
		}

	case ResultTypeText, ResultTypeOptionList:
		return Evaluation{Status: ResultPending}

	default:
		return Evaluation{Status: ResultPending}
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
