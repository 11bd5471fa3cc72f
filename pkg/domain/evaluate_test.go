package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }
func sptr(v string) *string   { return &v }

func TestEvaluateResultPassFail(t *testing.T) {
	tests := []struct {
		name    string
		entered EnteredValue
		want    QcResultStatus
	}{
		{"pass entry", EnteredValue{PassFail: bptr(true)}, ResultPass},
		{"fail entry", EnteredValue{PassFail: bptr(false)}, ResultFail},
		{"absent entry", EnteredValue{}, ResultPending},
		{"wrong kind of entry", EnteredValue{Numeric: fptr(1)}, ResultPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateResult(ResultTypePassFail, RulePassFailOnly, tt.entered, nil, nil, nil)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestEvaluateResultNumeric(t *testing.T) {
	tests := []struct {
		name     string
		rule     SpecRuleType
		entered  *float64
		min, max *float64
		target   *float64
		want     QcResultStatus
	}{
		{"min pass at bound", RuleMin, fptr(10), fptr(10), nil, nil, ResultPass},
		{"min pass above", RuleMin, fptr(12), fptr(10), nil, nil, ResultPass},
		{"min fail below", RuleMin, fptr(9), fptr(10), nil, nil, ResultFail},
		{"min without bound", RuleMin, fptr(9), nil, nil, nil, ResultPending},
		{"max pass at bound", RuleMax, fptr(10), nil, fptr(10), nil, ResultPass},
		{"max fail above", RuleMax, fptr(11), nil, fptr(10), nil, ResultFail},
		{"max without bound", RuleMax, fptr(11), nil, nil, nil, ResultPending},
		{"range pass inside", RuleRange, fptr(5), fptr(1), fptr(10), nil, ResultPass},
		{"range fail below", RuleRange, fptr(0.5), fptr(1), fptr(10), nil, ResultFail},
		{"range fail above", RuleRange, fptr(10.5), fptr(1), fptr(10), nil, ResultFail},
		{"range missing max", RuleRange, fptr(5), fptr(1), nil, nil, ResultPending},
		{"range missing min", RuleRange, fptr(5), nil, fptr(10), nil, ResultPending},
		{"equal pass exact", RuleEqual, fptr(7.25), nil, nil, fptr(7.25), ResultPass},
		{"equal fail near miss", RuleEqual, fptr(7.250000001), nil, nil, fptr(7.25), ResultFail},
		{"equal without target", RuleEqual, fptr(7.25), nil, nil, nil, ResultPending},
		{"pass fail only defers", RulePassFailOnly, fptr(999), fptr(1), fptr(2), fptr(3), ResultPending},
		{"unknown rule", SpecRuleType("weird"), fptr(5), fptr(1), fptr(10), nil, ResultPending},
		{"no entry", RuleMin, nil, fptr(10), nil, nil, ResultPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entered := EnteredValue{Numeric: tt.entered}
			got := EvaluateResult(ResultTypeNumeric, tt.rule, entered, tt.min, tt.max, tt.target)
			assert.Equal(t, tt.want, got.Status)
			if tt.want == ResultFail {
				assert.NotEmpty(t, got.FailReason)
			}
		})
	}
}

func TestEvaluateResultMinFailReasonCitesBothValues(t *testing.T) {
	got := EvaluateResult(ResultTypeNumeric, RuleMin, EnteredValue{Numeric: fptr(9)}, fptr(10), nil, nil)
	require.Equal(t, ResultFail, got.Status)
	assert.Contains(t, got.FailReason, "9")
	assert.Contains(t, got.FailReason, "10")
}

func TestEvaluateResultNeverAutoPassesHumanJudgedLines(t *testing.T) {
	entries := []EnteredValue{
		{Text: sptr("PASS")},
		{Text: sptr("looks fine")},
		{Option: sptr("conforms")},
		{Numeric: fptr(42)},
		{PassFail: bptr(true)},
		{},
	}
	for _, resultType := range []ResultType{ResultTypeText, ResultTypeOptionList} {
		for _, entered := range entries {
			got := EvaluateResult(resultType, RuleCustomText, entered, nil, nil, nil)
			assert.Equal(t, ResultPending, got.Status, "type %s must never auto-grade", resultType)
		}
	}
}

func TestEvaluateResultIdempotent(t *testing.T) {
	entered := EnteredValue{Numeric: fptr(9)}
	first := EvaluateResult(ResultTypeNumeric, RuleMin, entered, fptr(10), nil, nil)
	second := EvaluateResult(ResultTypeNumeric, RuleMin, entered, fptr(10), nil, nil)
	assert.Equal(t, first, second)
}

func TestEvaluateResultUnknownTypePending(t *testing.T) {
	got := EvaluateResult(ResultType("hologram"), RuleMin, EnteredValue{Numeric: fptr(1)}, fptr(0), nil, nil)
	assert.Equal(t, ResultPending, got.Status)
}

func TestEnteredValuePopulated(t *testing.T) {
	assert.Equal(t, 0, EnteredValue{}.Populated())
	assert.Equal(t, 1, EnteredValue{Numeric: fptr(1)}.Populated())
	assert.Equal(t, 2, EnteredValue{Numeric: fptr(1), Text: sptr("x")}.Populated())
}
