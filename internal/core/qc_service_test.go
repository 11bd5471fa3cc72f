package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchcore/internal/infra/persistence/memory"
	"batchcore/pkg/domain"
)

func fp(v float64) *float64 { return &v }

func assayTemplate() map[string][]TemplateLine {
	return map[string][]TemplateLine{
		"tpl-assay": {
			{LineNo: 1, Name: "assay A", ResultType: domain.ResultTypeNumeric, RuleType: domain.RuleMin, SpecMin: fp(10), Required: true},
			{LineNo: 2, Name: "assay B", ResultType: domain.ResultTypeNumeric, RuleType: domain.RuleMin, SpecMin: fp(10), Required: true},
			{LineNo: 3, Name: "assay C", ResultType: domain.ResultTypeNumeric, RuleType: domain.RuleMin, SpecMin: fp(10), Required: true},
		},
		"tpl-mixed": {
			{LineNo: 1, Name: "pH", ResultType: domain.ResultTypeNumeric, RuleType: domain.RuleRange, SpecMin: fp(6.5), SpecMax: fp(7.5), Required: true},
			{LineNo: 2, Name: "appearance", ResultType: domain.ResultTypeText, RuleType: domain.RuleCustomText, Required: true},
			{LineNo: 3, Name: "color", ResultType: domain.ResultTypeOptionList, RuleType: domain.RuleCustomText, Options: []string{"white", "off-white"}, Required: false},
		},
		"tpl-empty": {},
	}
}

func newQcFixture(t *testing.T) (*QcService, *memory.Store, *MemoryAuditRecorder) {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	audit := NewMemoryAuditRecorder()
	templates := NewStaticTemplateSource(assayTemplate())
	service := NewQcService(store, testRoles(), templates, WithClock(testClock), WithAuditRecorder(audit))
	return service, store, audit
}

func generateSession(t *testing.T, service *QcService, store *memory.Store, templateID string) (domain.QcSession, []domain.QcResult) {
	t.Helper()
	batch := seedBatch(t, store, "B-QC-"+templateID, domain.StatusQcPending)
	session, err := service.GenerateSession(context.Background(), batch.ID, templateID, Actor{ID: "analyst"})
	require.NoError(t, err)
	return session, service.Results(context.Background(), session.ID)
}

func TestGenerateSessionSnapshotsTemplate(t *testing.T) {
	service, store, audit := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")

	assert.Equal(t, domain.SessionNotStarted, session.Status)
	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, i+1, result.LineNo)
		assert.Equal(t, domain.ResultPending, result.Status)
		assert.True(t, result.Required)
		require.NotNil(t, result.SpecMin)
		assert.Equal(t, 10.0, *result.SpecMin)
	}

	var audited bool
	for _, entry := range audit.Entries() {
		if entry.Action == "qc_session_generated" && entry.EntityID == session.ID {
			audited = true
		}
	}
	assert.True(t, audited, "generation should be audited")
}

func TestGenerateSessionStatusGate(t *testing.T) {
	service, store, _ := newQcFixture(t)
	batch := seedBatch(t, store, "B-QC-early", domain.StatusInProduction)

	_, err := service.GenerateSession(context.Background(), batch.ID, "tpl-assay", Actor{ID: "analyst"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, string(domain.StatusInProduction))
}

func TestGenerateSessionOnePerBatch(t *testing.T) {
	service, store, _ := newQcFixture(t)
	batch := seedBatch(t, store, "B-QC-dup", domain.StatusQcPending)

	_, err := service.GenerateSession(context.Background(), batch.ID, "tpl-assay", Actor{ID: "analyst"})
	require.NoError(t, err)
	_, err = service.GenerateSession(context.Background(), batch.ID, "tpl-mixed", Actor{ID: "analyst"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestGenerateSessionTemplateErrors(t *testing.T) {
	service, store, _ := newQcFixture(t)
	batch := seedBatch(t, store, "B-QC-tpl", domain.StatusQcPending)

	_, err := service.GenerateSession(context.Background(), batch.ID, "tpl-ghost", Actor{ID: "analyst"})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = service.GenerateSession(context.Background(), batch.ID, "tpl-empty", Actor{ID: "analyst"})
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmitResultsAggregatesToFailed(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	entries := []float64{12, 9, 15}
	for i, value := range entries {
		updated, err := service.SubmitResult(ctx, results[i].ID, domain.EnteredValue{Numeric: fp(value)}, actor)
		require.NoError(t, err)
		if value >= 10 {
			assert.Equal(t, domain.ResultPass, updated.Status)
		} else {
			assert.Equal(t, domain.ResultFail, updated.Status)
			assert.Contains(t, updated.FailReason, "9")
			assert.Contains(t, updated.FailReason, "10")
		}
		if i == 1 {
			// The failing entry drives the aggregate to qc_failed, but the
			// remaining line can still be entered: only a review decision
			// closes the session.
			mid, err := service.Session(ctx, session.BatchID)
			require.NoError(t, err)
			assert.Equal(t, domain.SessionQcFailed, mid.Status)
		}
	}

	stored := service.Results(ctx, session.ID)
	require.Len(t, stored, 3)
	for _, result := range stored {
		require.NotNil(t, result.EnteredNumeric, "every entry must be recorded, line %d", result.LineNo)
	}

	refreshed, err := service.Session(ctx, session.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionQcFailed, refreshed.Status)
	require.NotNil(t, refreshed.CompletedAt)
}

func TestSubmitResultAggregateProgression(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	_, err := service.SubmitResult(ctx, results[0].ID, domain.EnteredValue{Numeric: fp(11)}, actor)
	require.NoError(t, err)
	mid, err := service.Session(ctx, session.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInProgress, mid.Status)

	for _, result := range results[1:] {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, actor)
		require.NoError(t, err)
	}
	final, err := service.Session(ctx, session.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionQcPassed, final.Status)
}

func TestSubmitResultReviewedSessionImmutable(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	for _, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, actor)
		require.NoError(t, err)
	}
	_, err := service.SubmitForReview(ctx, session.ID, actor)
	require.NoError(t, err)
	_, err = service.Review(ctx, session.ID, true, Actor{ID: "qp"})
	require.NoError(t, err)

	// The review decision closes the session; any further entry is refused.
	_, err = service.SubmitResult(ctx, results[0].ID, domain.EnteredValue{Numeric: fp(5)}, actor)
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "immutable")

	stored := service.Results(ctx, results[0].SessionID)
	assert.Equal(t, 11.0, *stored[0].EnteredNumeric, "stored value must be unchanged")
}

func TestSubmitResultLockedWhileWaitingReview(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	for _, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, actor)
		require.NoError(t, err)
	}
	_, err := service.SubmitForReview(ctx, session.ID, actor)
	require.NoError(t, err)

	_, err = service.SubmitResult(ctx, results[0].ID, domain.EnteredValue{Numeric: fp(5)}, actor)
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "waiting for review")
}

func TestSubmitForReviewRejectsReviewedSession(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	for _, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, actor)
		require.NoError(t, err)
	}
	_, err := service.SubmitForReview(ctx, session.ID, actor)
	require.NoError(t, err)
	_, err = service.Review(ctx, session.ID, true, Actor{ID: "qp"})
	require.NoError(t, err)

	// A reviewed session stays closed: it can neither re-enter the review
	// queue nor accept judgment changes afterwards.
	_, err = service.SubmitForReview(ctx, session.ID, actor)
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "cannot be resubmitted")
}

func TestSubmitResultExactlyOneValue(t *testing.T) {
	service, store, _ := newQcFixture(t)
	_, results := generateSession(t, service, store, "tpl-assay")

	tests := []domain.EnteredValue{
		{},
		{Numeric: fp(1), Text: func() *string { s := "x"; return &s }()},
	}
	for _, entered := range tests {
		_, err := service.SubmitResult(context.Background(), results[0].ID, entered, Actor{ID: "analyst"})
		var verr domain.ValidationError
		require.ErrorAs(t, err, &verr)
	}
}

func TestSubmitResultOptionListMembership(t *testing.T) {
	service, store, _ := newQcFixture(t)
	_, results := generateSession(t, service, store, "tpl-mixed")
	option := "chartreuse"

	_, err := service.SubmitResult(context.Background(), results[2].ID, domain.EnteredValue{Option: &option}, Actor{ID: "analyst"})
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.Contains(verr.Reason, "chartreuse"))
}

func TestManualJudgment(t *testing.T) {
	service, store, _ := newQcFixture(t)
	_, results := generateSession(t, service, store, "tpl-mixed")
	ctx := context.Background()
	textLine := results[1]

	text := "clear, colorless solution"
	submitted, err := service.SubmitResult(ctx, textLine.ID, domain.EnteredValue{Text: &text}, Actor{ID: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, submitted.Status, "text entries stay pending until judged")

	judged, err := service.ApplyManualJudgment(ctx, textLine.ID, true, "conforms to reference", Actor{ID: "qp"})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPass, judged.Status)
	assert.Equal(t, "conforms to reference", judged.ManualNote)
}

func TestManualJudgmentRoleGate(t *testing.T) {
	service, store, _ := newQcFixture(t)
	_, results := generateSession(t, service, store, "tpl-mixed")

	_, err := service.ApplyManualJudgment(context.Background(), results[1].ID, true, "", Actor{ID: "operator"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "operator")
}

func TestManualJudgmentLineTypeGate(t *testing.T) {
	service, store, _ := newQcFixture(t)
	_, results := generateSession(t, service, store, "tpl-assay")

	// Auto-evaluated numeric min line cannot be overridden by hand.
	_, err := service.ApplyManualJudgment(context.Background(), results[0].ID, true, "", Actor{ID: "qp"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "auto-evaluated")
}

func TestSubmitForReviewRequiresNoPendingRequired(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()
	actor := Actor{ID: "analyst"}

	_, err := service.SubmitForReview(ctx, session.ID, actor)
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "pending")

	for _, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, actor)
		require.NoError(t, err)
	}
	waiting, err := service.SubmitForReview(ctx, session.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionWaitingReview, waiting.Status)
	require.NotNil(t, waiting.AnalystID)
	assert.Equal(t, "analyst", *waiting.AnalystID)

	_, err = service.SubmitForReview(ctx, session.ID, actor)
	require.ErrorAs(t, err, &pre, "double submission is refused")
}

func TestReviewApprove(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()

	for _, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(11)}, Actor{ID: "analyst"})
		require.NoError(t, err)
	}
	_, err := service.SubmitForReview(ctx, session.ID, Actor{ID: "analyst"})
	require.NoError(t, err)

	reviewed, err := service.Review(ctx, session.ID, true, Actor{ID: "qp"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionQcPassed, reviewed.Status)
	require.NotNil(t, reviewed.ReviewerID)
	assert.Equal(t, "qp", *reviewed.ReviewerID)
	require.NotNil(t, reviewed.ReviewedAt)
}

func TestReviewApproveBlockedByFailure(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, results := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()

	values := []float64{11, 9, 11}
	for i, result := range results {
		_, err := service.SubmitResult(ctx, result.ID, domain.EnteredValue{Numeric: fp(values[i])}, Actor{ID: "analyst"})
		require.NoError(t, err)
	}
	_, err := service.SubmitForReview(ctx, session.ID, Actor{ID: "analyst"})
	require.NoError(t, err)

	_, err = service.Review(ctx, session.ID, true, Actor{ID: "qp"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "assay B")

	rejected, err := service.Review(ctx, session.ID, false, Actor{ID: "qp"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionQcFailed, rejected.Status)
}

func TestReviewRoleAndStateGates(t *testing.T) {
	service, store, _ := newQcFixture(t)
	session, _ := generateSession(t, service, store, "tpl-assay")
	ctx := context.Background()

	_, err := service.Review(ctx, session.ID, true, Actor{ID: "operator"})
	var pre domain.PreconditionError
	require.ErrorAs(t, err, &pre)

	// Reviewer role, but the session was never submitted for review.
	_, err = service.Review(ctx, session.ID, true, Actor{ID: "qp"})
	require.ErrorAs(t, err, &pre)
}
