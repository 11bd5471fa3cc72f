package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func guardBatch(status BatchStatus) Batch {
	b := Batch{BatchNumber: "B-2024-0042", Status: status}
	b.ID = "batch-1"
	return b
}

func TestGuardAcceptsValidTransition(t *testing.T) {
	var guard TransitionGuard
	if err := guard.Check(guardBatch(StatusQcInProgress), StatusQcPassed, RoleAnalyst); err != nil {
		t.Fatalf("expected transition accepted, got %v", err)
	}
}

func TestGuardRejectionsAreDistinguishable(t *testing.T) {
	var guard TransitionGuard
	released := guardBatch(StatusReleased)
	now := time.Now().UTC()
	released.ReleasedAt = &now

	tests := []struct {
		name   string
		batch  Batch
		target BatchStatus
		role   Role
		check  GuardCheck
	}{
		{"missing edge", guardBatch(StatusDraft), StatusReleased, RoleAdmin, GuardEdge},
		{"role forbidden", guardBatch(StatusQcPassed), StatusReleased, RoleOperator, GuardRole},
		{"dispatch from blocked state", guardBatch(StatusOnHold), StatusDispatched, RoleAdmin, GuardBusiness},
		{"dispatch before release", guardBatch(StatusReadyForDispatch), StatusDispatched, RoleDispatcher, GuardBusiness},
		{"packing for unreleased batch", guardBatch(StatusQcPassed), StatusReadyToPack, RoleDispatcher, GuardBusiness},
		{"packing for released batch wrong role", released, StatusReadyToPack, RolePlanner, GuardRole},
		{"resume to released without prior release", guardBatch(StatusOnHold), StatusReleased, RoleQualifiedPerson, GuardBusiness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(tt.batch, tt.target, tt.role)
			var rejected TransitionRejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected TransitionRejectedError, got %v", err)
			}
			if rejected.Check != tt.check {
				t.Fatalf("expected check %s, got %s (%s)", tt.check, rejected.Check, rejected.Reason)
			}
			if rejected.From != tt.batch.Status || rejected.To != tt.target {
				t.Errorf("rejection does not carry the attempted edge: %s -> %s", rejected.From, rejected.To)
			}
		})
	}
}

func TestGuardBlockedStateWinsOverMissingEdge(t *testing.T) {
	// on_hold -> dispatched fails both the business guard and edge
	// membership; the rejection must name the blocked state so the caller
	// knows clearing the hold comes first.
	var guard TransitionGuard
	err := guard.Check(guardBatch(StatusOnHold), StatusDispatched, RoleAdmin)
	var rejected TransitionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected TransitionRejectedError, got %v", err)
	}
	if rejected.Check != GuardBusiness {
		t.Fatalf("expected business guard rejection, got %s", rejected.Check)
	}
	if !strings.Contains(rejected.Reason, string(StatusOnHold)) {
		t.Errorf("reason should name the blocked status: %s", rejected.Reason)
	}
}

func TestGuardEdgeRejectionListsValidTargets(t *testing.T) {
	var guard TransitionGuard
	err := guard.Check(guardBatch(StatusDraft), StatusQcPassed, RoleAdmin)
	var rejected TransitionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected TransitionRejectedError, got %v", err)
	}
	if rejected.Check != GuardEdge {
		t.Fatalf("expected edge rejection, got %s", rejected.Check)
	}
	if len(rejected.ValidTargets) == 0 {
		t.Fatal("edge rejection should list the valid targets")
	}
	msg := rejected.Error()
	for _, target := range rejected.ValidTargets {
		if !strings.Contains(msg, string(target)) {
			t.Errorf("error text should mention valid target %s: %s", target, msg)
		}
	}
}

func TestGuardAllowsResumeToReleasedAfterHold(t *testing.T) {
	var guard TransitionGuard
	batch := guardBatch(StatusOnHold)
	now := time.Now().UTC()
	batch.ReleasedAt = &now
	if err := guard.Check(batch, StatusReleased, RoleQualifiedPerson); err != nil {
		t.Fatalf("held batch with a release on record should resume to released: %v", err)
	}
}

func TestGuardAllowsDispatchChainAfterRelease(t *testing.T) {
	var guard TransitionGuard
	batch := guardBatch(StatusReleased)
	now := time.Now().UTC()
	batch.ReleasedAt = &now
	if err := guard.Check(batch, StatusReadyToPack, RoleDispatcher); err != nil {
		t.Fatalf("released batch should enter packing: %v", err)
	}
}
