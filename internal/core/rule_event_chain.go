package core

import (
	"context"
	"fmt"

	"batchcore/pkg/domain"
)

// EventChainRule enforces the audit chain: every committed batch status
// change must be accompanied by exactly one BatchEvent carrying the matching
// from/to statuses.
func EventChainRule() domain.Rule {
	return eventChainRule{}
}

type eventChainRule struct{}

func (eventChainRule) Name() string { return "event_chain" }

func (eventChainRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	type statusChange struct {
		from domain.BatchStatus
		to   domain.BatchStatus
	}
	statusChanges := make(map[string]statusChange)
	eventCounts := make(map[string]int)

	for _, change := range changes {
		switch change.Entity {
		case domain.EntityBatch:
			if change.Action != domain.ActionUpdate {
				continue
			}
			before, okB := change.Before.(domain.Batch)
			after, okA := change.After.(domain.Batch)
			if !okB || !okA || before.Status == after.Status {
				continue
			}
			statusChanges[after.ID] = statusChange{from: before.Status, to: after.Status}
		case domain.EntityBatchEvent:
			event, ok := change.After.(domain.BatchEvent)
			if !ok || event.Type != domain.EventStatusChanged {
				continue
			}
			if event.FromStatus == nil || event.ToStatus == nil {
				continue
			}
			eventCounts[eventKey(event.BatchID, *event.FromStatus, *event.ToStatus)]++
		}
	}

	for batchID, sc := range statusChanges {
		count := eventCounts[eventKey(batchID, sc.from, sc.to)]
		if count != 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "event_chain",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s status change %s to %s must carry exactly one matching event, found %d", batchID, sc.from, sc.to, count),
				Entity:   domain.EntityBatch,
				EntityID: batchID,
			})
		}
	}
	return res, nil
}

func eventKey(batchID string, from, to domain.BatchStatus) string {
	return batchID + "|" + string(from) + "|" + string(to)
}
