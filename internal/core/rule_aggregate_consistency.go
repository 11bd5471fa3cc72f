package core

import (
	"context"
	"fmt"

	"batchcore/pkg/domain"
)

// AggregateConsistencyRule re-derives the session aggregate for every session
// whose results changed in this commit and vetoes a persisted aggregate that
// diverges from recomputation. WaitingReview is reviewer-set and exempt, and
// sessions touched only by a review decision are not re-derived.
func AggregateConsistencyRule() domain.Rule {
	return aggregateConsistencyRule{}
}

type aggregateConsistencyRule struct{}

func (aggregateConsistencyRule) Name() string { return "aggregate_consistency" }

func (aggregateConsistencyRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	touched := make(map[string]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityQcResult {
			continue
		}
		result, ok := change.After.(domain.QcResult)
		if !ok {
			continue
		}
		touched[result.SessionID] = true
	}

	for sessionID := range touched {
		session, ok := view.FindSession(sessionID)
		if !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "aggregate_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("results reference missing session %s", sessionID),
				Entity:   domain.EntityQcSession,
				EntityID: sessionID,
			})
			continue
		}
		if session.Status == domain.SessionWaitingReview {
			continue
		}
		derived := domain.AggregateSession(view.ListResults(sessionID))
		if session.Status != derived {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "aggregate_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("session %s aggregate %s diverges from recomputed %s", sessionID, session.Status, derived),
				Entity:   domain.EntityQcSession,
				EntityID: sessionID,
			})
		}
	}
	return res, nil
}
