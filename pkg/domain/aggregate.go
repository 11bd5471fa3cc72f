package domain

// AggregateSession derives a session-level status from the full set of its
// results. It is a pure function over the snapshot: callers persist the
// returned value, and recomputation is always a complete pass over current
// state, never incremental, so it self-heals after out-of-order or retried
// writes.
//
// The order of the checks is load-bearing: the all-pending check runs first
// so an untouched session reports not-started rather than in-progress, and a
// required failure dominates partial completion.
func AggregateSession(results []QcResult) QcSessionStatus {
	allPending := true
	anyFail := false
	allPass := true
	for _, r := range results {
		if !r.Required {
			continue
		}
		switch r.Status {
		case ResultPending:
			allPass = false
		case ResultFail:
			anyFail = true
			allPending = false
			allPass = false
		case ResultPass:
			allPending = false
		}
	}

	switch {
	case allPending:
		return SessionNotStarted
	case anyFail:
		return SessionQcFailed
	case allPass:
		return SessionQcPassed
	default:
		return SessionInProgress
	}
}
