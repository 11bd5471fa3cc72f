package domain

import (
	"fmt"
	"strings"
)

// GuardCheck names the independent transition guard checks. Each check
// produces its own distinguishable rejection; callers must never collapse
// them into one generic error.
type GuardCheck string

// Guard checks in evaluation order.
const (
	// GuardEdge rejects transitions that are not edges of the transition table.
	GuardEdge GuardCheck = "invalid_transition"
	// GuardRole rejects transitions the actor's role is not permitted to reach.
	GuardRole GuardCheck = "role_forbidden"
	// GuardBusiness rejects transitions blocked by a domain invariant.
	GuardBusiness GuardCheck = "guard_blocked"
)

// ValidationError reports a malformed request rejected before any state was
// touched.
type ValidationError struct {
	Field  string
	Reason string
}

// Code returns the machine-readable reason code.
func (ValidationError) Code() string { return "validation_failed" }

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionRejectedError reports which guard check failed for a requested
// transition and, for edge rejections, the currently valid target statuses.
type TransitionRejectedError struct {
	Check        GuardCheck
	From         BatchStatus
	To           BatchStatus
	Role         Role
	Reason       string
	ValidTargets []BatchStatus
}

// Code returns the machine-readable reason code for the failed check.
func (e TransitionRejectedError) Code() string { return string(e.Check) }

func (e TransitionRejectedError) Error() string {
	if e.Check == GuardEdge && len(e.ValidTargets) > 0 {
		names := make([]string, len(e.ValidTargets))
		for i, t := range e.ValidTargets {
			names[i] = string(t)
		}
		return fmt.Sprintf("%s (valid targets: %s)", e.Reason, strings.Join(names, ", "))
	}
	return e.Reason
}

// ConflictError reports a lost optimistic concurrency race: another actor
// transitioned the record between the caller's read and write. The caller
// should reload and retry.
type ConflictError struct {
	Entity   EntityType
	ID       string
	Expected string
	Actual   string
}

// Code returns the machine-readable reason code.
func (ConflictError) Code() string { return "concurrency_conflict" }

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s changed concurrently: expected %s, found %s",
		e.Entity, e.ID, e.Expected, e.Actual)
}

// PreconditionError reports an operation attempted against a record in an
// incompatible state, e.g. submitting a result to a closed session.
type PreconditionError struct {
	Entity EntityType
	ID     string
	Reason string
}

// Code returns the machine-readable reason code.
func (PreconditionError) Code() string { return "precondition_failed" }

func (e PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

// Code returns the machine-readable reason code.
func (NotFoundError) Code() string { return "not_found" }

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// DownstreamError reports an unreachable external collaborator. It is
// recorded on the operational channel and never escalated to the caller of a
// state-changing operation whose primary transaction already committed.
type DownstreamError struct {
	Collaborator string
	Err          error
}

// Code returns the machine-readable reason code.
func (DownstreamError) Code() string { return "downstream_unavailable" }

func (e DownstreamError) Error() string {
	return fmt.Sprintf("%s collaborator unavailable: %v", e.Collaborator, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e DownstreamError) Unwrap() error { return e.Err }
