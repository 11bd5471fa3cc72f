package core

import (
	"context"
	"fmt"
	"time"

	"batchcore/pkg/domain"
)

// Statuses from which a QC session may be generated.
var sessionGenerationStatuses = map[domain.BatchStatus]struct{}{
	domain.StatusProductionComplete: {},
	domain.StatusQcPending:          {},
	domain.StatusQcInProgress:       {},
}

var reviewerRoles = map[domain.Role]struct{}{
	domain.RoleQualifiedPerson: {},
	domain.RoleSupervisor:      {},
	domain.RoleAdmin:           {},
}

var judgmentRoles = map[domain.Role]struct{}{
	domain.RoleAnalyst:         {},
	domain.RoleQualifiedPerson: {},
	domain.RoleAdmin:           {},
}

// QcService orchestrates QC sessions: generation from a template snapshot,
// result entry with evaluation, aggregate recomputation, and review.
type QcService struct {
	store     domain.PersistentStore
	roles     RoleDirectory
	templates TemplateSource
	opts      serviceOptions
}

// NewQcService constructs the service over the supplied store and
// collaborators.
func NewQcService(store domain.PersistentStore, roles RoleDirectory, templates TemplateSource, opts ...Option) *QcService {
	return &QcService{
		store:     store,
		roles:     roles,
		templates: templates,
		opts:      buildOptions(opts),
	}
}

func (s *QcService) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := s.opts.clock.Now()
	var span TraceSpan
	if s.opts.tracer != nil {
		ctx, span = s.opts.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if span != nil {
		span.End(err)
	}
	if s.opts.metrics != nil {
		s.opts.metrics.Observe(ctx, operation, err == nil, s.opts.clock.Now().Sub(start))
	}
	return err
}

func (s *QcService) resolveRole(ctx context.Context, actor Actor) (domain.Role, error) {
	if actor.ID == "" {
		return "", domain.ValidationError{Field: "actor", Reason: "must not be empty"}
	}
	if s.roles == nil {
		return "", domain.DownstreamError{Collaborator: "identity", Err: fmt.Errorf("role directory not configured")}
	}
	role, err := s.roles.RoleOf(ctx, actor.ID)
	if err != nil {
		if _, ok := err.(domain.NotFoundError); ok {
			return "", err
		}
		return "", domain.DownstreamError{Collaborator: "identity", Err: err}
	}
	return role, nil
}

// GenerateSession creates the batch's QC session from an immutable template
// snapshot, bulk-creating one result line per template line. A batch has at
// most one session; a second generation fails with a precondition error.
func (s *QcService) GenerateSession(ctx context.Context, batchID, templateID string, actor Actor) (domain.QcSession, error) {
	var session domain.QcSession
	err := s.observe(ctx, "generate_session", func(ctx context.Context) error {
		if batchID == "" {
			return domain.ValidationError{Field: "batch_id", Reason: "must not be empty"}
		}
		if templateID == "" {
			return domain.ValidationError{Field: "template_id", Reason: "must not be empty"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		if s.templates == nil {
			return domain.DownstreamError{Collaborator: "template", Err: fmt.Errorf("template source not configured")}
		}
		lines, err := s.templates.Lines(ctx, templateID)
		if err != nil {
			if _, ok := err.(domain.NotFoundError); ok {
				return err
			}
			return domain.DownstreamError{Collaborator: "template", Err: err}
		}
		if len(lines) == 0 {
			return domain.ValidationError{Field: "template_id", Reason: fmt.Sprintf("template %s has no test lines", templateID)}
		}

		now := s.opts.clock.Now()
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			batch, ok := tx.FindBatch(batchID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityBatch, ID: batchID}
			}
			if _, ok := sessionGenerationStatuses[batch.Status]; !ok {
				return domain.PreconditionError{
					Entity: domain.EntityBatch,
					ID:     batchID,
					Reason: fmt.Sprintf("QC session cannot be generated while batch is %s", batch.Status),
				}
			}
			var errCreate error
			session, errCreate = tx.CreateSession(domain.QcSession{
				BatchID:    batchID,
				TemplateID: templateID,
				Status:     domain.SessionNotStarted,
			})
			if errCreate != nil {
				return errCreate
			}
			for _, line := range lines {
				if _, err := tx.CreateResult(domain.QcResult{
					SessionID:  session.ID,
					LineNo:     line.LineNo,
					Name:       line.Name,
					ResultType: line.ResultType,
					RuleType:   line.RuleType,
					SpecMin:    line.SpecMin,
					SpecMax:    line.SpecMax,
					SpecTarget: line.SpecTarget,
					Options:    line.Options,
					Required:   line.Required,
					Status:     domain.ResultPending,
				}); err != nil {
					return err
				}
			}
			_, err := tx.AppendEvent(domain.BatchEvent{
				BatchID:    batchID,
				Type:       domain.EventQcSessionGenerated,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRole:  role,
				Metadata:   map[string]any{"template_id": templateID, "session_id": session.ID, "lines": len(lines)},
				OccurredAt: now,
			})
			return err
		})
		if err != nil {
			return err
		}
		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			ActorRole:  string(role),
			Action:     "qc_session_generated",
			EntityType: string(domain.EntityQcSession),
			EntityID:   session.ID,
			NewValue:   string(session.Status),
			OccurredAt: now,
		})
		return nil
	})
	return session, err
}

// SubmitResult records one entered value on a result line, evaluates it, and
// recomputes the owning session's aggregate inside the same transaction.
func (s *QcService) SubmitResult(ctx context.Context, resultID string, entered domain.EnteredValue, actor Actor) (domain.QcResult, error) {
	var updated domain.QcResult
	err := s.observe(ctx, "submit_result", func(ctx context.Context) error {
		if resultID == "" {
			return domain.ValidationError{Field: "result_id", Reason: "must not be empty"}
		}
		if entered.Populated() != 1 {
			return domain.ValidationError{Field: "entered_value", Reason: "exactly one entered value must be populated"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		now := s.opts.clock.Now()
		var oldStatus, newStatus domain.QcResultStatus
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			result, ok := tx.FindResult(resultID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcResult, ID: resultID}
			}
			session, ok := tx.FindSession(result.SessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcSession, ID: result.SessionID}
			}
			if reason := sessionLockReason(session); reason != "" {
				return domain.PreconditionError{Entity: domain.EntityQcSession, ID: session.ID, Reason: reason}
			}
			if entered.Option != nil && len(result.Options) > 0 && !containsOption(result.Options, *entered.Option) {
				return domain.ValidationError{Field: "entered_value", Reason: fmt.Sprintf("option %q is not in the line's option list", *entered.Option)}
			}

			oldStatus = result.Status
			evaluation := domain.EvaluateResult(result.ResultType, result.RuleType, entered, result.SpecMin, result.SpecMax, result.SpecTarget)
			newStatus = evaluation.Status

			var errUpdate error
			updated, errUpdate = tx.UpdateResult(resultID, func(r *domain.QcResult) error {
				r.EnteredNumeric = entered.Numeric
				r.EnteredText = entered.Text
				r.EnteredPassFail = entered.PassFail
				r.SelectedOption = entered.Option
				r.Status = evaluation.Status
				r.FailReason = evaluation.FailReason
				actorID := actor.ID
				r.EnteredBy = &actorID
				t := now
				r.EnteredAt = &t
				return nil
			})
			if errUpdate != nil {
				return errUpdate
			}
			_, err := s.applyAggregate(tx, session.ID, now)
			return err
		})
		if err != nil {
			return err
		}
		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			ActorRole:  string(role),
			Action:     "qc_result_submitted",
			EntityType: string(domain.EntityQcResult),
			EntityID:   resultID,
			OldValue:   string(oldStatus),
			NewValue:   string(newStatus),
			OccurredAt: now,
		})
		return nil
	})
	return updated, err
}

// ApplyManualJudgment records the human pass/fail decision for lines the
// evaluator deliberately leaves pending (text, option list, and numeric
// lines under a pass/fail-only rule).
func (s *QcService) ApplyManualJudgment(ctx context.Context, resultID string, pass bool, reason string, actor Actor) (domain.QcResult, error) {
	var updated domain.QcResult
	err := s.observe(ctx, "apply_manual_judgment", func(ctx context.Context) error {
		if resultID == "" {
			return domain.ValidationError{Field: "result_id", Reason: "must not be empty"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		if _, ok := judgmentRoles[role]; !ok {
			return domain.PreconditionError{
				Entity: domain.EntityQcResult,
				ID:     resultID,
				Reason: fmt.Sprintf("role %s may not record manual judgments", role),
			}
		}
		now := s.opts.clock.Now()
		var oldStatus, newStatus domain.QcResultStatus
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			result, ok := tx.FindResult(resultID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcResult, ID: resultID}
			}
			if !manualJudgmentLine(result) {
				return domain.PreconditionError{
					Entity: domain.EntityQcResult,
					ID:     resultID,
					Reason: fmt.Sprintf("line %d (%s/%s) is auto-evaluated; manual judgment applies only to human-judged lines", result.LineNo, result.ResultType, result.RuleType),
				}
			}
			session, ok := tx.FindSession(result.SessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcSession, ID: result.SessionID}
			}
			if reason := sessionLockReason(session); reason != "" {
				return domain.PreconditionError{Entity: domain.EntityQcSession, ID: session.ID, Reason: reason}
			}

			oldStatus = result.Status
			newStatus = domain.ResultFail
			if pass {
				newStatus = domain.ResultPass
			}
			var errUpdate error
			updated, errUpdate = tx.UpdateResult(resultID, func(r *domain.QcResult) error {
				r.Status = newStatus
				r.ManualNote = reason
				if !pass {
					r.FailReason = reason
				} else {
					r.FailReason = ""
				}
				actorID := actor.ID
				r.EnteredBy = &actorID
				t := now
				r.EnteredAt = &t
				return nil
			})
			if errUpdate != nil {
				return errUpdate
			}
			_, err := s.applyAggregate(tx, session.ID, now)
			return err
		})
		if err != nil {
			return err
		}
		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			ActorRole:  string(role),
			Action:     "qc_manual_judgment",
			EntityType: string(domain.EntityQcResult),
			EntityID:   resultID,
			OldValue:   string(oldStatus),
			NewValue:   string(newStatus),
			Note:       reason,
			OccurredAt: now,
		})
		return nil
	})
	return updated, err
}

// SubmitForReview moves the session into WaitingReview once no required
// result is pending. A session whose review decision has been recorded is
// closed and cannot be resubmitted.
func (s *QcService) SubmitForReview(ctx context.Context, sessionID string, actor Actor) (domain.QcSession, error) {
	var session domain.QcSession
	err := s.observe(ctx, "submit_for_review", func(ctx context.Context) error {
		if sessionID == "" {
			return domain.ValidationError{Field: "session_id", Reason: "must not be empty"}
		}
		if _, err := s.resolveRole(ctx, actor); err != nil {
			return err
		}
		now := s.opts.clock.Now()
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindSession(sessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcSession, ID: sessionID}
			}
			if current.ReviewedAt != nil {
				return domain.PreconditionError{
					Entity: domain.EntityQcSession,
					ID:     sessionID,
					Reason: fmt.Sprintf("session was reviewed and closed with status %s; it cannot be resubmitted", current.Status),
				}
			}
			if current.Status == domain.SessionWaitingReview {
				return domain.PreconditionError{
					Entity: domain.EntityQcSession,
					ID:     sessionID,
					Reason: "session is already waiting for review",
				}
			}
			for _, result := range tx.ListResults(sessionID) {
				if result.Required && result.Status == domain.ResultPending {
					return domain.PreconditionError{
						Entity: domain.EntityQcSession,
						ID:     sessionID,
						Reason: fmt.Sprintf("required line %d (%s) is still pending", result.LineNo, result.Name),
					}
				}
			}
			var errUpdate error
			session, errUpdate = tx.UpdateSession(sessionID, func(s *domain.QcSession) error {
				s.Status = domain.SessionWaitingReview
				actorID := actor.ID
				s.AnalystID = &actorID
				return nil
			})
			return errUpdate
		})
		if err != nil {
			return err
		}
		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			Action:     "qc_submitted_for_review",
			EntityType: string(domain.EntityQcSession),
			EntityID:   sessionID,
			NewValue:   string(domain.SessionWaitingReview),
			OccurredAt: now,
		})
		return nil
	})
	return session, err
}

// Review records the reviewer's decision on a session in WaitingReview.
// Approval requires no failed result; rejection forces QcFailed regardless of
// the result set.
func (s *QcService) Review(ctx context.Context, sessionID string, approve bool, actor Actor) (domain.QcSession, error) {
	var session domain.QcSession
	err := s.observe(ctx, "review", func(ctx context.Context) error {
		if sessionID == "" {
			return domain.ValidationError{Field: "session_id", Reason: "must not be empty"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		if _, ok := reviewerRoles[role]; !ok {
			return domain.PreconditionError{
				Entity: domain.EntityQcSession,
				ID:     sessionID,
				Reason: fmt.Sprintf("role %s may not review QC sessions", role),
			}
		}
		now := s.opts.clock.Now()
		var oldStatus domain.QcSessionStatus
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindSession(sessionID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityQcSession, ID: sessionID}
			}
			if current.Status != domain.SessionWaitingReview {
				return domain.PreconditionError{
					Entity: domain.EntityQcSession,
					ID:     sessionID,
					Reason: fmt.Sprintf("session is %s, review requires %s", current.Status, domain.SessionWaitingReview),
				}
			}
			oldStatus = current.Status
			if approve {
				for _, result := range tx.ListResults(sessionID) {
					if result.Status == domain.ResultFail {
						return domain.PreconditionError{
							Entity: domain.EntityQcSession,
							ID:     sessionID,
							Reason: fmt.Sprintf("line %d (%s) failed; a session with failures cannot be approved", result.LineNo, result.Name),
						}
					}
				}
			}
			target := domain.SessionQcFailed
			if approve {
				target = domain.SessionQcPassed
			}
			var errUpdate error
			session, errUpdate = tx.UpdateSession(sessionID, func(s *domain.QcSession) error {
				s.Status = target
				actorID := actor.ID
				s.ReviewerID = &actorID
				t := now
				s.ReviewedAt = &t
				if s.CompletedAt == nil {
					c := now
					s.CompletedAt = &c
				}
				return nil
			})
			return errUpdate
		})
		if err != nil {
			return err
		}
		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			ActorRole:  string(role),
			Action:     "qc_reviewed",
			EntityType: string(domain.EntityQcSession),
			EntityID:   sessionID,
			OldValue:   string(oldStatus),
			NewValue:   string(session.Status),
			OccurredAt: now,
		})
		return nil
	})
	return session, err
}

// Session returns the QC session owned by a batch.
func (s *QcService) Session(_ context.Context, batchID string) (domain.QcSession, error) {
	session, ok := s.store.SessionForBatch(batchID)
	if !ok {
		return domain.QcSession{}, domain.NotFoundError{Entity: domain.EntityQcSession, ID: batchID}
	}
	return session, nil
}

// Results returns a session's result lines in line order.
func (s *QcService) Results(_ context.Context, sessionID string) []domain.QcResult {
	return s.store.ListResults(sessionID)
}

// applyAggregate recomputes the session aggregate over the full current
// result set and persists it only when it differs from the stored value.
// WaitingReview is overridden only by a terminal recomputation; the
// completion timestamp is set exactly once, on first entry into a terminal
// status.
func (s *QcService) applyAggregate(tx domain.Transaction, sessionID string, now time.Time) (domain.QcSession, error) {
	session, ok := tx.FindSession(sessionID)
	if !ok {
		return domain.QcSession{}, domain.NotFoundError{Entity: domain.EntityQcSession, ID: sessionID}
	}
	derived := domain.AggregateSession(tx.ListResults(sessionID))
	if session.Status == derived {
		return session, nil
	}
	if session.Status == domain.SessionWaitingReview && !derived.Terminal() {
		return session, nil
	}
	return tx.UpdateSession(sessionID, func(s *domain.QcSession) error {
		s.Status = derived
		if derived.Terminal() && s.CompletedAt == nil {
			t := now
			s.CompletedAt = &t
		}
		return nil
	})
}

func (s *QcService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.opts.audit == nil {
		return
	}
	s.opts.audit.Record(ctx, entry)
}

// sessionLockReason reports why a session no longer accepts result writes. A
// recorded review decision closes the session permanently; a session waiting
// for review is locked until the reviewer decides. A terminal aggregate alone
// does not lock entry: remaining lines may still be filled in while the
// session awaits its review.
func sessionLockReason(session domain.QcSession) string {
	if session.ReviewedAt != nil {
		return fmt.Sprintf("session was reviewed and closed with status %s; results are immutable", session.Status)
	}
	if session.Status == domain.SessionWaitingReview {
		return "session is waiting for review; results are locked until the review decision"
	}
	return ""
}

func manualJudgmentLine(result domain.QcResult) bool {
	switch result.ResultType {
	case domain.ResultTypeText, domain.ResultTypeOptionList:
		return true
	case domain.ResultTypeNumeric:
		return result.RuleType == domain.RulePassFailOnly
	default:
		return false
	}
}

func containsOption(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}
