package domain

import "sort"

// BatchStatus enumerates the manufacturing lifecycle states of a batch. The
// set of valid statuses is closed: a status outside this enumeration never
// enters the store, and transitions between statuses are restricted to the
// edges of the transition table.
type BatchStatus string

// Canonical batch statuses, roughly in forward lifecycle order.
const (
	StatusDraft              BatchStatus = "draft"
	StatusPlanned            BatchStatus = "planned"
	StatusInProduction       BatchStatus = "in_production"
	StatusProductionComplete BatchStatus = "production_complete"
	StatusQcPending          BatchStatus = "qc_pending"
	StatusQcInProgress       BatchStatus = "qc_in_progress"
	StatusQcPassed           BatchStatus = "qc_passed"
	StatusFailedQc           BatchStatus = "failed_qc"
	StatusReleased           BatchStatus = "released"
	StatusRejected           BatchStatus = "rejected"
	StatusOnHold             BatchStatus = "on_hold"
	StatusDeviationOpen      BatchStatus = "deviation_open"
	StatusReadyToPack        BatchStatus = "ready_to_pack"
	StatusPacking            BatchStatus = "packing"
	StatusPacked             BatchStatus = "packed"
	StatusReadyForDispatch   BatchStatus = "ready_for_dispatch"
	StatusDispatched         BatchStatus = "dispatched"
	StatusDelivered          BatchStatus = "delivered"
	StatusReturned           BatchStatus = "returned"
	StatusCancelled          BatchStatus = "cancelled"
)

// QcSessionStatus enumerates the aggregate states of a QC session.
type QcSessionStatus string

// Session aggregate statuses. WaitingReview is the only member set by a human
// action (submit-for-review) rather than derived by AggregateSession.
const (
	SessionNotStarted    QcSessionStatus = "not_started"
	SessionInProgress    QcSessionStatus = "in_progress"
	SessionWaitingReview QcSessionStatus = "waiting_review"
	SessionQcPassed      QcSessionStatus = "qc_passed"
	SessionQcFailed      QcSessionStatus = "qc_failed"
)

// Terminal reports whether the session aggregate is a final passed or failed
// derivation.
func (s QcSessionStatus) Terminal() bool {
	return s == SessionQcPassed || s == SessionQcFailed
}

// QcResultStatus enumerates the computed states of a single test line.
type QcResultStatus string

// Result statuses produced by the rule evaluator.
const (
	ResultPending QcResultStatus = "pending"
	ResultPass    QcResultStatus = "pass"
	ResultFail    QcResultStatus = "fail"
)

// ResultType classifies how a test line's value is entered.
type ResultType string

// Supported result entry types.
const (
	ResultTypePassFail   ResultType = "pass_fail"
	ResultTypeNumeric    ResultType = "numeric"
	ResultTypeText       ResultType = "text"
	ResultTypeOptionList ResultType = "option_list"
)

// SpecRuleType declares the pass/fail boundary attached to a test line.
type SpecRuleType string

// Supported specification rule types.
const (
	RuleMin          SpecRuleType = "min"
	RuleMax          SpecRuleType = "max"
	RuleRange        SpecRuleType = "range"
	RuleEqual        SpecRuleType = "equal"
	RulePassFailOnly SpecRuleType = "pass_fail_only"
	RuleCustomText   SpecRuleType = "custom_text"
)

// OrderStatus enumerates dependent order states reachable via cascade.
type OrderStatus string

// Order statuses. Only a subset of batch statuses maps onto them.
const (
	OrderPending      OrderStatus = "pending"
	OrderInProduction OrderStatus = "in_production"
	OrderReleased     OrderStatus = "released"
	OrderFailedQc     OrderStatus = "failed_qc"
	OrderDispatched   OrderStatus = "dispatched"
	OrderDelivered    OrderStatus = "delivered"
	OrderCancelled    OrderStatus = "cancelled"
)

// Role identifies the acting user's authority at the time of a request. The
// identity collaborator is authoritative for the role of an actor; the guard
// trusts the supplied value for the duration of one request.
type Role string

// Canonical roles.
const (
	// RoleAdmin holds a wildcard grant over every transition target.
	RoleAdmin           Role = "admin"
	RolePlanner         Role = "planner"
	RoleOperator        Role = "operator"
	RoleAnalyst         Role = "analyst"
	RoleQualifiedPerson Role = "qualified_person"
	RoleDispatcher      Role = "dispatcher"
	RoleSupervisor      Role = "supervisor"
)

// Known reports whether the role is a member of the closed enumeration.
func (r Role) Known() bool {
	switch r {
	case RoleAdmin, RolePlanner, RoleOperator, RoleAnalyst, RoleQualifiedPerson, RoleDispatcher, RoleSupervisor:
		return true
	default:
		return false
	}
}

// transitionTable is the fixed directed graph of allowed status transitions.
// Terminal statuses (delivered, returned, cancelled) have no outgoing edges.
var transitionTable = map[BatchStatus][]BatchStatus{
	StatusDraft:              {StatusPlanned, StatusCancelled},
	StatusPlanned:            {StatusInProduction, StatusOnHold, StatusCancelled},
	StatusInProduction:       {StatusProductionComplete, StatusDeviationOpen, StatusOnHold, StatusCancelled},
	StatusProductionComplete: {StatusQcPending, StatusDeviationOpen, StatusOnHold},
	StatusQcPending:          {StatusQcInProgress, StatusOnHold},
	StatusQcInProgress:       {StatusQcPassed, StatusFailedQc, StatusOnHold},
	StatusQcPassed:           {StatusReleased, StatusRejected, StatusOnHold},
	StatusFailedQc:           {StatusQcInProgress, StatusDeviationOpen, StatusRejected},
	StatusReleased:           {StatusReadyToPack, StatusOnHold},
	StatusReadyToPack:        {StatusPacking, StatusOnHold},
	StatusPacking:            {StatusPacked, StatusOnHold},
	StatusPacked:             {StatusReadyForDispatch, StatusOnHold},
	StatusReadyForDispatch:   {StatusDispatched, StatusOnHold},
	StatusDispatched:         {StatusDelivered, StatusReturned},
	StatusOnHold:             {StatusPlanned, StatusInProduction, StatusQcInProgress, StatusQcPassed, StatusReleased, StatusRejected, StatusCancelled},
	StatusDeviationOpen:      {StatusInProduction, StatusQcInProgress, StatusOnHold, StatusRejected, StatusCancelled},
	StatusRejected:           {StatusDeviationOpen, StatusCancelled},
}

// rolePermissions maps each role to the set of statuses it may move a batch
// into. RoleAdmin is handled as a wildcard in RoleAllows.
var rolePermissions = map[Role][]BatchStatus{
	RolePlanner:  {StatusPlanned, StatusCancelled},
	RoleOperator: {StatusInProduction, StatusProductionComplete, StatusQcPending, StatusDeviationOpen},
	RoleAnalyst:  {StatusQcInProgress, StatusQcPassed, StatusFailedQc},
	RoleQualifiedPerson: {
		StatusReleased, StatusRejected, StatusOnHold, StatusQcPassed, StatusQcInProgress,
	},
	RoleDispatcher: {
		StatusReadyToPack, StatusPacking, StatusPacked, StatusReadyForDispatch,
		StatusDispatched, StatusDelivered, StatusReturned,
	},
	RoleSupervisor: {
		StatusOnHold, StatusPlanned, StatusInProduction, StatusQcInProgress,
		StatusQcPassed, StatusReleased, StatusDeviationOpen, StatusCancelled,
	},
}

// blockedStatuses forecloses forward movement into dispatch-adjacent statuses
// until the batch is cleared back to a non-blocked status.
var blockedStatuses = map[BatchStatus]struct{}{
	StatusOnHold:        {},
	StatusRejected:      {},
	StatusFailedQc:      {},
	StatusCancelled:     {},
	StatusDeviationOpen: {},
}

// dispatchAdjacent are the statuses reachable only after a release decision.
var dispatchAdjacent = map[BatchStatus]struct{}{
	StatusReadyToPack:      {},
	StatusPacking:          {},
	StatusPacked:           {},
	StatusReadyForDispatch: {},
	StatusDispatched:       {},
	StatusDelivered:        {},
}

// Known reports whether the status is a member of the closed enumeration.
func (s BatchStatus) Known() bool {
	if _, ok := transitionTable[s]; ok {
		return true
	}
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// Terminal reports whether the status has no outgoing transitions.
func (s BatchStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// Blocked reports whether the status belongs to the blocked-state set.
func (s BatchStatus) Blocked() bool {
	_, ok := blockedStatuses[s]
	return ok
}

// DispatchAdjacent reports whether the status is part of the post-release
// packing and dispatch chain.
func (s BatchStatus) DispatchAdjacent() bool {
	_, ok := dispatchAdjacent[s]
	return ok
}

// CanTransition reports whether (from, to) is an edge of the transition table.
func CanTransition(from, to BatchStatus) bool {
	for _, t := range transitionTable[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidTargets returns the sorted set of statuses reachable from the given
// status in one transition. Terminal statuses yield an empty slice.
func ValidTargets(from BatchStatus) []BatchStatus {
	targets := append([]BatchStatus(nil), transitionTable[from]...)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// RoleAllows reports whether the role is permitted to move a batch into the
// target status. RoleAdmin carries a wildcard grant.
func RoleAllows(role Role, target BatchStatus) bool {
	if role == RoleAdmin {
		return true
	}
	for _, t := range rolePermissions[role] {
		if t == target {
			return true
		}
	}
	return false
}
