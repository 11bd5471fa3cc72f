package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"batchcore/pkg/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// ClockFunc adapts a plain function to the Clock interface.
func ClockFunc(fn func() time.Time) Clock { return clockFunc(fn) }

// Actor identifies the requesting user. The role is resolved through the
// identity collaborator at call time, never carried by the caller.
type Actor struct {
	ID   string
	Name string
}

// TransitionRequest carries one guarded status-change request.
type TransitionRequest struct {
	BatchID  string
	Target   domain.BatchStatus
	Note     string
	Metadata map[string]any

	// Release fields, consumed only when Target is Released.
	SignatureToken string
	ReleaseType    domain.ReleaseType
	Reason         string
}

type serviceOptions struct {
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	dispatcher *Dispatcher
	cascade    OrderCascade
	clock      Clock
}

// Option customizes service construction.
type Option func(*serviceOptions)

// WithLogger overrides the default no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = metrics }
}

// WithTracer attaches a tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) { o.tracer = tracer }
}

// WithAuditRecorder attaches an audit recorder.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(o *serviceOptions) { o.audit = audit }
}

// WithDispatcher attaches the async dispatcher for post-commit side effects.
func WithDispatcher(dispatcher *Dispatcher) Option {
	return func(o *serviceOptions) { o.dispatcher = dispatcher }
}

// WithCascade overrides the default order cascade mapping.
func WithCascade(cascade OrderCascade) Option {
	return func(o *serviceOptions) { o.cascade = cascade }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) { o.clock = clock }
}

func buildOptions(opts []Option) serviceOptions {
	o := serviceOptions{
		logger:  noopLogger{},
		cascade: DefaultOrderCascade(),
		clock:   clockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LifecycleService orchestrates guarded batch transitions: validate, apply
// the conditioned update, cascade to orders, append the event record, emit
// audit, and fire post-commit side effects.
type LifecycleService struct {
	store domain.PersistentStore
	roles RoleDirectory
	guard domain.TransitionGuard
	opts  serviceOptions
}

// NewLifecycleService constructs the service over the supplied store and
// identity collaborator.
func NewLifecycleService(store domain.PersistentStore, roles RoleDirectory, opts ...Option) *LifecycleService {
	return &LifecycleService{
		store: store,
		roles: roles,
		opts:  buildOptions(opts),
	}
}

// Store returns the underlying persistent store.
func (s *LifecycleService) Store() domain.PersistentStore { return s.store }

func (s *LifecycleService) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
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

func (s *LifecycleService) resolveRole(ctx context.Context, actor Actor) (domain.Role, error) {
	if s.roles == nil {
		return "", domain.DownstreamError{Collaborator: "identity", Err: fmt.Errorf("role directory not configured")}
	}
	role, err := s.roles.RoleOf(ctx, actor.ID)
	if err != nil {
		var nf domain.NotFoundError
		if errors.As(err, &nf) {
			return "", err
		}
		return "", domain.DownstreamError{Collaborator: "identity", Err: err}
	}
	return role, nil
}

// Transition applies a guarded status change and returns the updated batch.
func (s *LifecycleService) Transition(ctx context.Context, req TransitionRequest, actor Actor) (domain.Batch, error) {
	var updated domain.Batch
	err := s.observe(ctx, "transition", func(ctx context.Context) error {
		if req.BatchID == "" {
			return domain.ValidationError{Field: "batch_id", Reason: "must not be empty"}
		}
		if !req.Target.Known() {
			return domain.ValidationError{Field: "target", Reason: fmt.Sprintf("unknown batch status %q", req.Target)}
		}
		if actor.ID == "" {
			return domain.ValidationError{Field: "actor", Reason: "must not be empty"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}

		// Pre-read outside the transaction; the conditioned write below
		// fails with a conflict if another actor transitions first.
		current, ok := s.store.GetBatch(req.BatchID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityBatch, ID: req.BatchID}
		}
		if current.Archived {
			return domain.PreconditionError{Entity: domain.EntityBatch, ID: current.ID, Reason: "batch is archived"}
		}
		if err := s.guard.Check(current, req.Target, role); err != nil {
			return err
		}

		// Only the qc_passed -> released edge records a new release decision.
		// Releasing out of a hold resumes the decision already on record, so
		// no new signature is collected and no release row is written.
		creatingRelease := req.Target == domain.StatusReleased && current.Status == domain.StatusQcPassed
		releaseType := req.ReleaseType
		if creatingRelease {
			if req.SignatureToken == "" {
				return domain.ValidationError{Field: "signature_token", Reason: "electronic signature required for release"}
			}
			if releaseType == "" {
				releaseType = domain.ReleaseFull
			}
		}

		now := s.opts.clock.Now()
		expected := current.Status
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			batch, err := tx.UpdateBatchStatus(req.BatchID, expected, func(b *domain.Batch) error {
				b.Status = req.Target
				switch req.Target {
				case domain.StatusInProduction:
					if b.ActualStart == nil {
						t := now
						b.ActualStart = &t
					}
				case domain.StatusProductionComplete:
					if b.ActualEnd == nil {
						t := now
						b.ActualEnd = &t
					}
				case domain.StatusReleased:
					// A resume from hold keeps the original timestamp; a
					// fresh release decision stamps the new one.
					if creatingRelease {
						t := now
						b.ReleasedAt = &t
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			updated = batch

			if creatingRelease {
				// A re-release after a hold cycle supersedes the prior
				// decision of the same type; deactivate it in this commit so
				// at most one release per type stays active.
				for _, prior := range tx.Snapshot().ListReleases(batch.ID) {
					if !prior.Active || prior.Type != releaseType {
						continue
					}
					if _, err := tx.UpdateRelease(prior.ID, func(r *domain.BatchRelease) error {
						r.Active = false
						return nil
					}); err != nil {
						return err
					}
				}
				if _, err := tx.CreateRelease(domain.BatchRelease{
					BatchID:        batch.ID,
					ReleasedBy:     actor.ID,
					Type:           releaseType,
					SignatureToken: req.SignatureToken,
					SignedAt:       now,
					Reason:         req.Reason,
					Active:         true,
				}); err != nil {
					return err
				}
			}

			from := expected
			to := req.Target
			if _, err := tx.AppendEvent(domain.BatchEvent{
				BatchID:    batch.ID,
				Type:       domain.EventStatusChanged,
				FromStatus: &from,
				ToStatus:   &to,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRole:  role,
				Note:       req.Note,
				Metadata:   req.Metadata,
				OccurredAt: now,
			}); err != nil {
				return err
			}

			if orderStatus, ok := s.opts.cascade[req.Target]; ok {
				for _, orderID := range batch.OrderIDs {
					if _, err := tx.UpdateOrder(orderID, func(o *domain.Order) error {
						o.Status = orderStatus
						return nil
					}); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.recordAudit(ctx, AuditEntry{
			ID:         newAuditID(),
			ActorID:    actor.ID,
			ActorRole:  string(role),
			Action:     "batch_transition",
			EntityType: string(domain.EntityBatch),
			EntityID:   updated.ID,
			OldValue:   string(expected),
			NewValue:   string(req.Target),
			Note:       req.Note,
			Metadata:   req.Metadata,
			OccurredAt: now,
		})
		s.opts.logger.Info("batch transitioned",
			"batch_id", updated.ID, "from", string(expected), "to", string(req.Target),
			"actor_id", actor.ID, "role", string(role))

		if s.opts.dispatcher != nil {
			switch req.Target {
			case domain.StatusQcPassed:
				if _, err := s.opts.dispatcher.EnqueueWorkflow(WorkflowRequest{
					EntityType:    string(domain.EntityBatch),
					EntityID:      updated.ID,
					TriggerStatus: string(domain.StatusQcPassed),
					RequestedBy:   actor.ID,
					Notes:         req.Note,
				}); err != nil {
					s.opts.logger.Warn("workflow dispatch not enqueued", "batch_id", updated.ID, "error", err)
				}
			case domain.StatusReleased:
				if creatingRelease {
					if _, err := s.opts.dispatcher.EnqueueDossier(updated.ID); err != nil {
						s.opts.logger.Warn("dossier archive not enqueued", "batch_id", updated.ID, "error", err)
					}
				}
			}
		}
		return nil
	})
	return updated, err
}

// CreateBatch persists a new batch in its initial planning status and writes
// the creation checkpoint event.
func (s *LifecycleService) CreateBatch(ctx context.Context, batch domain.Batch, actor Actor) (domain.Batch, error) {
	var created domain.Batch
	err := s.observe(ctx, "create_batch", func(ctx context.Context) error {
		if actor.ID == "" {
			return domain.ValidationError{Field: "actor", Reason: "must not be empty"}
		}
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		now := s.opts.clock.Now()
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateBatch(batch)
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.BatchEvent{
				BatchID:    created.ID,
				Type:       domain.EventBatchCreated,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRole:  role,
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
			Action:     "batch_created",
			EntityType: string(domain.EntityBatch),
			EntityID:   created.ID,
			NewValue:   string(created.Status),
			OccurredAt: now,
		})
		return nil
	})
	return created, err
}

// CreateOrder persists a new order record.
func (s *LifecycleService) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	var created domain.Order
	err := s.observe(ctx, "create_order", func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateOrder(order)
			return err
		})
		return err
	})
	return created, err
}

// AttachOrder links an existing order to a batch and records the checkpoint
// event.
func (s *LifecycleService) AttachOrder(ctx context.Context, batchID, orderID string, actor Actor) (domain.Batch, error) {
	var updated domain.Batch
	err := s.observe(ctx, "attach_order", func(ctx context.Context) error {
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		now := s.opts.clock.Now()
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			order, ok := tx.FindOrder(orderID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID}
			}
			if order.BatchID != nil && *order.BatchID != batchID {
				return domain.PreconditionError{Entity: domain.EntityOrder, ID: orderID, Reason: fmt.Sprintf("order already attached to batch %s", *order.BatchID)}
			}
			if _, err := tx.UpdateOrder(orderID, func(o *domain.Order) error {
				id := batchID
				o.BatchID = &id
				return nil
			}); err != nil {
				return err
			}
			var errUpdate error
			updated, errUpdate = tx.UpdateBatch(batchID, func(b *domain.Batch) error {
				for _, existing := range b.OrderIDs {
					if existing == orderID {
						return nil
					}
				}
				b.OrderIDs = append(b.OrderIDs, orderID)
				return nil
			})
			if errUpdate != nil {
				return errUpdate
			}
			_, err := tx.AppendEvent(domain.BatchEvent{
				BatchID:    batchID,
				Type:       domain.EventOrderAttached,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRole:  role,
				Metadata:   map[string]any{"order_id": orderID},
				OccurredAt: now,
			})
			return err
		})
		return err
	})
	return updated, err
}

// ArchiveBatch marks a terminal batch as archived in place. Batches are never
// physically deleted.
func (s *LifecycleService) ArchiveBatch(ctx context.Context, batchID string, actor Actor) (domain.Batch, error) {
	var archived domain.Batch
	err := s.observe(ctx, "archive_batch", func(ctx context.Context) error {
		role, err := s.resolveRole(ctx, actor)
		if err != nil {
			return err
		}
		now := s.opts.clock.Now()
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			batch, ok := tx.FindBatch(batchID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityBatch, ID: batchID}
			}
			if !batch.Status.Terminal() {
				return domain.PreconditionError{Entity: domain.EntityBatch, ID: batchID, Reason: fmt.Sprintf("batch in status %s cannot be archived before reaching a terminal status", batch.Status)}
			}
			var errUpdate error
			archived, errUpdate = tx.UpdateBatch(batchID, func(b *domain.Batch) error {
				b.Archived = true
				return nil
			})
			if errUpdate != nil {
				return errUpdate
			}
			_, err := tx.AppendEvent(domain.BatchEvent{
				BatchID:    batchID,
				Type:       domain.EventBatchArchived,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				ActorRole:  role,
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
			Action:     "batch_archived",
			EntityType: string(domain.EntityBatch),
			EntityID:   batchID,
			OccurredAt: now,
		})
		return nil
	})
	return archived, err
}

// GetBatch returns a batch by ID.
func (s *LifecycleService) GetBatch(_ context.Context, id string) (domain.Batch, error) {
	batch, ok := s.store.GetBatch(id)
	if !ok {
		return domain.Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: id}
	}
	return batch, nil
}

// ListBatches returns all batches.
func (s *LifecycleService) ListBatches(context.Context) []domain.Batch {
	return s.store.ListBatches()
}

// Events returns a batch's event log in append order.
func (s *LifecycleService) Events(_ context.Context, batchID string) []domain.BatchEvent {
	return s.store.ListEvents(batchID)
}

// Releases returns a batch's release decisions.
func (s *LifecycleService) Releases(_ context.Context, batchID string) []domain.BatchRelease {
	return s.store.ListReleases(batchID)
}

// ValidTargets reports the transition table's outgoing edges for the batch's
// current status.
func (s *LifecycleService) ValidTargets(_ context.Context, batchID string) ([]domain.BatchStatus, error) {
	batch, ok := s.store.GetBatch(batchID)
	if !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityBatch, ID: batchID}
	}
	return domain.ValidTargets(batch.Status), nil
}

func (s *LifecycleService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.opts.audit == nil {
		return
	}
	s.opts.audit.Record(ctx, entry)
}

func newAuditID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
