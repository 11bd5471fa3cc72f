package core

import (
	"context"
	"fmt"

	"batchcore/pkg/domain"
)

// ReleaseIntegrityRule guards release decisions: a BatchRelease may only be
// created while the batch holds QcPassed (or is leaving QcPassed for Released
// in the same commit), and at most one active release per batch per release
// type may exist.
func ReleaseIntegrityRule() domain.Rule {
	return releaseIntegrityRule{}
}

type releaseIntegrityRule struct{}

func (releaseIntegrityRule) Name() string { return "release_integrity" }

func (releaseIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	// Batches leaving QcPassed for Released within this commit satisfy the
	// creation-instant requirement.
	releasing := make(map[string]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityBatch || change.Action != domain.ActionUpdate {
			continue
		}
		before, okB := change.Before.(domain.Batch)
		after, okA := change.After.(domain.Batch)
		if !okB || !okA {
			continue
		}
		if before.Status == domain.StatusQcPassed && after.Status == domain.StatusReleased {
			releasing[after.ID] = true
		}
	}

	for _, change := range changes {
		if change.Entity != domain.EntityBatchRelease || change.Action != domain.ActionCreate {
			continue
		}
		release, ok := change.After.(domain.BatchRelease)
		if !ok {
			continue
		}
		batch, found := view.FindBatch(release.BatchID)
		if !found {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "release_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("release %s references missing batch %s", release.ID, release.BatchID),
				Entity:   domain.EntityBatchRelease,
				EntityID: release.ID,
			})
			continue
		}
		if batch.Status != domain.StatusQcPassed && !releasing[batch.ID] {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "release_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("release for batch %s requires status %s, batch is %s", batch.ID, domain.StatusQcPassed, batch.Status),
				Entity:   domain.EntityBatchRelease,
				EntityID: release.ID,
			})
		}
		activeByType := make(map[domain.ReleaseType]int)
		for _, existing := range view.ListReleases(release.BatchID) {
			if existing.Active {
				activeByType[existing.Type]++
			}
		}
		if activeByType[release.Type] > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "release_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s already has an active %s release", release.BatchID, release.Type),
				Entity:   domain.EntityBatchRelease,
				EntityID: release.ID,
			})
		}
	}
	return res, nil
}
