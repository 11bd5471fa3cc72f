package core

import (
	"context"
	"errors"
	"testing"

	"batchcore/internal/infra/persistence/memory"
	"batchcore/pkg/domain"
)

func violationRules(err error) map[string]bool {
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		return nil
	}
	out := make(map[string]bool)
	for _, v := range rve.Result.Violations {
		out[v.Rule] = true
	}
	return out
}

func TestLifecycleGuardRuleVetoesNonEdgeWrites(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R1", domain.StatusDraft)

	// Direct status write bypassing the service guard: draft -> released is
	// not an edge, and no event accompanies it.
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateBatchStatus(batch.ID, domain.StatusDraft, func(b *domain.Batch) error {
			b.Status = domain.StatusReleased
			return nil
		})
		return err
	})
	rules := violationRules(err)
	if rules == nil {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !rules["lifecycle_guard"] {
		t.Errorf("lifecycle_guard should fire, got %v", rules)
	}

	stored, _ := store.GetBatch(batch.ID)
	if stored.Status != domain.StatusDraft {
		t.Errorf("vetoed write must not commit, got %s", stored.Status)
	}
}

func TestEventChainRuleRequiresMatchingEvent(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R2", domain.StatusQcInProgress)

	// Valid edge, but the status change carries no event record.
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateBatchStatus(batch.ID, domain.StatusQcInProgress, func(b *domain.Batch) error {
			b.Status = domain.StatusQcPassed
			return nil
		})
		return err
	})
	rules := violationRules(err)
	if !rules["event_chain"] {
		t.Fatalf("event_chain should fire, got %v (%v)", rules, err)
	}

	// The same change with its event commits.
	from := domain.StatusQcInProgress
	to := domain.StatusQcPassed
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateBatchStatus(batch.ID, domain.StatusQcInProgress, func(b *domain.Batch) error {
			b.Status = domain.StatusQcPassed
			return nil
		}); err != nil {
			return err
		}
		_, err := tx.AppendEvent(domain.BatchEvent{
			BatchID:    batch.ID,
			Type:       domain.EventStatusChanged,
			FromStatus: &from,
			ToStatus:   &to,
			ActorID:    "analyst",
		})
		return err
	})
	if err != nil {
		t.Fatalf("accompanied status change should commit: %v", err)
	}
}

func TestReleaseIntegrityRuleRequiresQcPassed(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R3", domain.StatusDraft)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRelease(domain.BatchRelease{
			BatchID:        batch.ID,
			ReleasedBy:     "qp",
			Type:           domain.ReleaseFull,
			SignatureToken: "sig",
			Active:         true,
		})
		return err
	})
	rules := violationRules(err)
	if !rules["release_integrity"] {
		t.Fatalf("release_integrity should fire, got %v (%v)", rules, err)
	}
}

func TestReleaseIntegrityRuleAllowsSameCommitRelease(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R4", domain.StatusQcPassed)

	from := domain.StatusQcPassed
	to := domain.StatusReleased
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateBatchStatus(batch.ID, domain.StatusQcPassed, func(b *domain.Batch) error {
			b.Status = domain.StatusReleased
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.CreateRelease(domain.BatchRelease{
			BatchID:        batch.ID,
			ReleasedBy:     "qp",
			Type:           domain.ReleaseFull,
			SignatureToken: "sig",
			Active:         true,
		}); err != nil {
			return err
		}
		_, err := tx.AppendEvent(domain.BatchEvent{
			BatchID:    batch.ID,
			Type:       domain.EventStatusChanged,
			FromStatus: &from,
			ToStatus:   &to,
			ActorID:    "qp",
		})
		return err
	})
	if err != nil {
		t.Fatalf("release alongside the qc_passed to released move should commit: %v", err)
	}
}

func TestReleaseIntegrityRuleOneActivePerType(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R5", domain.StatusQcPassed)

	release := domain.BatchRelease{
		BatchID:        batch.ID,
		ReleasedBy:     "qp",
		Type:           domain.ReleaseFull,
		SignatureToken: "sig",
		Active:         true,
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRelease(release)
		return err
	})
	if err != nil {
		t.Fatalf("first release: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRelease(release)
		return err
	})
	rules := violationRules(err)
	if !rules["release_integrity"] {
		t.Fatalf("second active release of the same type should be vetoed, got %v (%v)", rules, err)
	}
}

func TestAggregateConsistencyRuleVetoesStaleAggregate(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	batch := seedBatch(t, store, "B-R6", domain.StatusQcPending)

	var resultID string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		session, err := tx.CreateSession(domain.QcSession{BatchID: batch.ID, TemplateID: "tpl-1"})
		if err != nil {
			return err
		}
		result, err := tx.CreateResult(domain.QcResult{SessionID: session.ID, LineNo: 1, Name: "assay", Required: true})
		if err != nil {
			return err
		}
		resultID = result.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	// Flip the result without recomputing the session aggregate.
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateResult(resultID, func(r *domain.QcResult) error {
			r.Status = domain.ResultFail
			r.FailReason = "out of spec"
			return nil
		})
		return err
	})
	rules := violationRules(err)
	if !rules["aggregate_consistency"] {
		t.Fatalf("stale aggregate should be vetoed, got %v (%v)", rules, err)
	}
}
