package core

import (
	"context"
	"fmt"

	"batchcore/pkg/domain"
)

// LifecycleGuardRule blocks batch updates whose status change is not an edge
// of the transition table. It is defense in depth behind the service-level
// guard: any write path that sneaks a status change past the guard is vetoed
// at commit.
func LifecycleGuardRule() domain.Rule {
	return lifecycleGuardRule{}
}

type lifecycleGuardRule struct{}

func (lifecycleGuardRule) Name() string { return "lifecycle_guard" }

func (lifecycleGuardRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityBatch || change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.Batch)
		if !ok {
			continue
		}
		after, ok := change.After.(domain.Batch)
		if !ok {
			continue
		}
		if before.Status == after.Status {
			continue
		}
		if !after.Status.Known() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_guard",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s is set to unknown status %s", after.ID, after.Status),
				Entity:   domain.EntityBatch,
				EntityID: after.ID,
			})
			continue
		}
		if before.Status.Terminal() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_guard",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move batch %s from terminal status %s to %s", after.ID, before.Status, after.Status),
				Entity:   domain.EntityBatch,
				EntityID: after.ID,
			})
			continue
		}
		if !domain.CanTransition(before.Status, after.Status) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_guard",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s status change %s to %s is not a transition table edge", after.ID, before.Status, after.Status),
				Entity:   domain.EntityBatch,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
