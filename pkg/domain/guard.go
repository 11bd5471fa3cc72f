package domain

import "fmt"

// TransitionGuard accepts or rejects a requested batch transition. It runs
// three independent checks: the domain business guards, edge membership in
// the transition table, and role permission. Each failure carries its own
// reason so callers can attribute the rejection precisely.
//
// The business guards are evaluated first: a batch held in a blocked status
// is reported as blocked when dispatch is requested, not as a generic
// missing edge.
type TransitionGuard struct{}

// Check validates a requested transition of batch into target by an actor
// holding role. A nil return means all checks passed.
func (TransitionGuard) Check(batch Batch, target BatchStatus, role Role) error {
	if target.DispatchAdjacent() {
		if batch.Status.Blocked() {
			return TransitionRejectedError{
				Check:  GuardBusiness,
				From:   batch.Status,
				To:     target,
				Role:   role,
				Reason: fmt.Sprintf("batch %s is blocked in %s; clear it to a non-blocked status before %s", batch.BatchNumber, batch.Status, target),
			}
		}
		if batch.ReleasedAt == nil {
			return TransitionRejectedError{
				Check:  GuardBusiness,
				From:   batch.Status,
				To:     target,
				Role:   role,
				Reason: fmt.Sprintf("batch %s has not been released; %s is unreachable before a release decision", batch.BatchNumber, target),
			}
		}
	}

	// Releasing out of a hold resumes the prior release decision; a batch
	// that was never released must go back through qc_passed instead.
	if target == StatusReleased && batch.Status == StatusOnHold && batch.ReleasedAt == nil {
		return TransitionRejectedError{
			Check:  GuardBusiness,
			From:   batch.Status,
			To:     target,
			Role:   role,
			Reason: fmt.Sprintf("batch %s holds no release decision; resume it to %s and release from there", batch.BatchNumber, StatusQcPassed),
		}
	}

	if !CanTransition(batch.Status, target) {
		return TransitionRejectedError{
			Check:        GuardEdge,
			From:         batch.Status,
			To:           target,
			Role:         role,
			Reason:       fmt.Sprintf("no transition from %s to %s", batch.Status, target),
			ValidTargets: ValidTargets(batch.Status),
		}
	}

	if !RoleAllows(role, target) {
		return TransitionRejectedError{
			Check:  GuardRole,
			From:   batch.Status,
			To:     target,
			Role:   role,
			Reason: fmt.Sprintf("role %s is not permitted to move a batch to %s", role, target),
		}
	}

	return nil
}
