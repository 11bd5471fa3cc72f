// Package memory provides an in-memory implementation of the core
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"batchcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	batches  map[string]domain.Batch
	orders   map[string]domain.Order
	events   map[string][]domain.BatchEvent
	releases map[string][]domain.BatchRelease
	sessions map[string]domain.QcSession
	results  map[string]domain.QcResult
}

// Snapshot captures a point-in-time clone of the store state for external
// persistence.
type Snapshot struct {
	Batches  map[string]domain.Batch          `json:"batches"`
	Orders   map[string]domain.Order          `json:"orders"`
	Events   map[string][]domain.BatchEvent   `json:"events"`
	Releases map[string][]domain.BatchRelease `json:"releases"`
	Sessions map[string]domain.QcSession      `json:"sessions"`
	Results  map[string]domain.QcResult       `json:"results"`
}

func newMemoryState() memoryState {
	return memoryState{
		batches:  make(map[string]domain.Batch),
		orders:   make(map[string]domain.Order),
		events:   make(map[string][]domain.BatchEvent),
		releases: make(map[string][]domain.BatchRelease),
		sessions: make(map[string]domain.QcSession),
		results:  make(map[string]domain.QcResult),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.batches {
		out.batches[k] = cloneBatch(v)
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, list := range s.events {
		cp := make([]domain.BatchEvent, len(list))
		for i, e := range list {
			cp[i] = cloneEvent(e)
		}
		out.events[k] = cp
	}
	for k, list := range s.releases {
		cp := make([]domain.BatchRelease, len(list))
		for i, r := range list {
			cp[i] = cloneRelease(r)
		}
		out.releases[k] = cp
	}
	for k, v := range s.sessions {
		out.sessions[k] = cloneSession(v)
	}
	for k, v := range s.results {
		out.results[k] = cloneResult(v)
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Batches:  cp.batches,
		Orders:   cp.orders,
		Events:   cp.events,
		Releases: cp.releases,
		Sessions: cp.sessions,
		Results:  cp.results,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Batches {
		state.batches[k] = cloneBatch(v)
	}
	for k, v := range s.Orders {
		state.orders[k] = cloneOrder(v)
	}
	for k, list := range s.Events {
		cp := make([]domain.BatchEvent, len(list))
		for i, e := range list {
			cp[i] = cloneEvent(e)
		}
		state.events[k] = cp
	}
	for k, list := range s.Releases {
		cp := make([]domain.BatchRelease, len(list))
		for i, r := range list {
			cp[i] = cloneRelease(r)
		}
		state.releases[k] = cp
	}
	for k, v := range s.Sessions {
		state.sessions[k] = cloneSession(v)
	}
	for k, v := range s.Results {
		state.results[k] = cloneResult(v)
	}
	return state
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func cloneStatus(s *domain.BatchStatus) *domain.BatchStatus {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneBatch(b domain.Batch) domain.Batch {
	cp := b
	cp.PlannedStart = cloneTime(b.PlannedStart)
	cp.PlannedEnd = cloneTime(b.PlannedEnd)
	cp.ActualStart = cloneTime(b.ActualStart)
	cp.ActualEnd = cloneTime(b.ActualEnd)
	cp.ActualQuantity = cloneFloat(b.ActualQuantity)
	cp.ReleasedAt = cloneTime(b.ReleasedAt)
	cp.OrderIDs = append([]string(nil), b.OrderIDs...)
	return cp
}

func cloneOrder(o domain.Order) domain.Order {
	cp := o
	cp.BatchID = cloneString(o.BatchID)
	return cp
}

func cloneEvent(e domain.BatchEvent) domain.BatchEvent {
	cp := e
	cp.FromStatus = cloneStatus(e.FromStatus)
	cp.ToStatus = cloneStatus(e.ToStatus)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func cloneRelease(r domain.BatchRelease) domain.BatchRelease {
	return r
}

func cloneSession(s domain.QcSession) domain.QcSession {
	cp := s
	cp.AnalystID = cloneString(s.AnalystID)
	cp.ReviewerID = cloneString(s.ReviewerID)
	cp.CompletedAt = cloneTime(s.CompletedAt)
	cp.ReviewedAt = cloneTime(s.ReviewedAt)
	return cp
}

func cloneResult(r domain.QcResult) domain.QcResult {
	cp := r
	cp.SpecMin = cloneFloat(r.SpecMin)
	cp.SpecMax = cloneFloat(r.SpecMax)
	cp.SpecTarget = cloneFloat(r.SpecTarget)
	cp.Options = append([]string(nil), r.Options...)
	cp.EnteredNumeric = cloneFloat(r.EnteredNumeric)
	cp.EnteredText = cloneString(r.EnteredText)
	cp.EnteredPassFail = cloneBool(r.EnteredPassFail)
	cp.SelectedOption = cloneString(r.SelectedOption)
	cp.EnteredBy = cloneString(r.EnteredBy)
	cp.EnteredAt = cloneTime(r.EnteredAt)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []domain.Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) domain.TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store
// state, evaluates the rules engine against the mutated snapshot, and commits
// only when no blocking violations are present.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() domain.TransactionView {
	return newTransactionView(&tx.state)
}

// CreateBatch validates and stores a new batch record.
func (tx *transaction) CreateBatch(batch domain.Batch) (domain.Batch, error) {
	if batch.BatchNumber == "" {
		return domain.Batch{}, domain.ValidationError{Field: "batch_number", Reason: "must not be empty"}
	}
	if batch.Status == "" {
		batch.Status = domain.StatusDraft
	}
	if !batch.Status.Known() {
		return domain.Batch{}, domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown batch status %q", batch.Status)}
	}
	if batch.ID == "" {
		batch.ID = tx.store.newID()
	}
	if _, exists := tx.state.batches[batch.ID]; exists {
		return domain.Batch{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("batch %s already exists", batch.ID)}
	}
	batch.CreatedAt = tx.now
	batch.UpdatedAt = tx.now
	batch.Version = 1
	tx.state.batches[batch.ID] = cloneBatch(batch)
	tx.recordChange(domain.Change{Entity: domain.EntityBatch, Action: domain.ActionCreate, After: cloneBatch(batch)})
	return cloneBatch(batch), nil
}

// UpdateBatch applies mutator to a batch without touching its status.
func (tx *transaction) UpdateBatch(id string, mutator func(*domain.Batch) error) (domain.Batch, error) {
	current, ok := tx.state.batches[id]
	if !ok {
		return domain.Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: id}
	}
	before := cloneBatch(current)
	updated := cloneBatch(current)
	if err := mutator(&updated); err != nil {
		return domain.Batch{}, err
	}
	if updated.Status != before.Status {
		return domain.Batch{}, domain.ValidationError{Field: "status", Reason: "status changes only through the guarded transition operation"}
	}
	updated.ID = before.ID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	updated.Version = before.Version + 1
	tx.state.batches[id] = cloneBatch(updated)
	tx.recordChange(domain.Change{Entity: domain.EntityBatch, Action: domain.ActionUpdate, Before: before, After: cloneBatch(updated)})
	return cloneBatch(updated), nil
}

// UpdateBatchStatus is the compare-and-swap status write: mutator runs only
// while the stored status still equals expected.
func (tx *transaction) UpdateBatchStatus(id string, expected domain.BatchStatus, mutator func(*domain.Batch) error) (domain.Batch, error) {
	current, ok := tx.state.batches[id]
	if !ok {
		return domain.Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: id}
	}
	if current.Status != expected {
		return domain.Batch{}, domain.ConflictError{
			Entity:   domain.EntityBatch,
			ID:       id,
			Expected: string(expected),
			Actual:   string(current.Status),
		}
	}
	before := cloneBatch(current)
	updated := cloneBatch(current)
	if err := mutator(&updated); err != nil {
		return domain.Batch{}, err
	}
	if !updated.Status.Known() {
		return domain.Batch{}, domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown batch status %q", updated.Status)}
	}
	updated.ID = before.ID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	updated.Version = before.Version + 1
	tx.state.batches[id] = cloneBatch(updated)
	tx.recordChange(domain.Change{Entity: domain.EntityBatch, Action: domain.ActionUpdate, Before: before, After: cloneBatch(updated)})
	return cloneBatch(updated), nil
}

// CreateOrder stores a new dependent order record.
func (tx *transaction) CreateOrder(order domain.Order) (domain.Order, error) {
	if order.OrderNumber == "" {
		return domain.Order{}, domain.ValidationError{Field: "order_number", Reason: "must not be empty"}
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	if order.ID == "" {
		order.ID = tx.store.newID()
	}
	if _, exists := tx.state.orders[order.ID]; exists {
		return domain.Order{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("order %s already exists", order.ID)}
	}
	order.CreatedAt = tx.now
	order.UpdatedAt = tx.now
	tx.state.orders[order.ID] = cloneOrder(order)
	tx.recordChange(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionCreate, After: cloneOrder(order)})
	return cloneOrder(order), nil
}

// UpdateOrder applies mutator to an order record.
func (tx *transaction) UpdateOrder(id string, mutator func(*domain.Order) error) (domain.Order, error) {
	current, ok := tx.state.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFoundError{Entity: domain.EntityOrder, ID: id}
	}
	before := cloneOrder(current)
	updated := cloneOrder(current)
	if err := mutator(&updated); err != nil {
		return domain.Order{}, err
	}
	updated.ID = before.ID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	tx.state.orders[id] = cloneOrder(updated)
	tx.recordChange(domain.Change{Entity: domain.EntityOrder, Action: domain.ActionUpdate, Before: before, After: cloneOrder(updated)})
	return cloneOrder(updated), nil
}

// AppendEvent writes an immutable batch event record.
func (tx *transaction) AppendEvent(event domain.BatchEvent) (domain.BatchEvent, error) {
	if event.BatchID == "" {
		return domain.BatchEvent{}, domain.ValidationError{Field: "batch_id", Reason: "must not be empty"}
	}
	if _, ok := tx.state.batches[event.BatchID]; !ok {
		return domain.BatchEvent{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: event.BatchID}
	}
	if event.ID == "" {
		event.ID = tx.store.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = tx.now
	}
	event.CreatedAt = tx.now
	event.UpdatedAt = tx.now
	tx.state.events[event.BatchID] = append(tx.state.events[event.BatchID], cloneEvent(event))
	tx.recordChange(domain.Change{Entity: domain.EntityBatchEvent, Action: domain.ActionCreate, After: cloneEvent(event)})
	return cloneEvent(event), nil
}

// CreateRelease stores a signed release decision.
func (tx *transaction) CreateRelease(release domain.BatchRelease) (domain.BatchRelease, error) {
	if release.BatchID == "" {
		return domain.BatchRelease{}, domain.ValidationError{Field: "batch_id", Reason: "must not be empty"}
	}
	if _, ok := tx.state.batches[release.BatchID]; !ok {
		return domain.BatchRelease{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: release.BatchID}
	}
	if release.SignatureToken == "" {
		return domain.BatchRelease{}, domain.ValidationError{Field: "signature_token", Reason: "must not be empty"}
	}
	if release.ID == "" {
		release.ID = tx.store.newID()
	}
	release.CreatedAt = tx.now
	release.UpdatedAt = tx.now
	tx.state.releases[release.BatchID] = append(tx.state.releases[release.BatchID], cloneRelease(release))
	tx.recordChange(domain.Change{Entity: domain.EntityBatchRelease, Action: domain.ActionCreate, After: cloneRelease(release)})
	return cloneRelease(release), nil
}

// UpdateRelease applies mutator to a release record. Releases are bucketed by
// batch, so the lookup scans per-batch slices.
func (tx *transaction) UpdateRelease(id string, mutator func(*domain.BatchRelease) error) (domain.BatchRelease, error) {
	for batchID, releases := range tx.state.releases {
		for i, current := range releases {
			if current.ID != id {
				continue
			}
			before := cloneRelease(current)
			updated := cloneRelease(current)
			if err := mutator(&updated); err != nil {
				return domain.BatchRelease{}, err
			}
			updated.ID = before.ID
			updated.BatchID = before.BatchID
			updated.CreatedAt = before.CreatedAt
			updated.UpdatedAt = tx.now
			tx.state.releases[batchID][i] = cloneRelease(updated)
			tx.recordChange(domain.Change{Entity: domain.EntityBatchRelease, Action: domain.ActionUpdate, Before: before, After: cloneRelease(updated)})
			return cloneRelease(updated), nil
		}
	}
	return domain.BatchRelease{}, domain.NotFoundError{Entity: domain.EntityBatchRelease, ID: id}
}

// CreateSession stores the one-to-one QC session of a batch.
func (tx *transaction) CreateSession(session domain.QcSession) (domain.QcSession, error) {
	if session.BatchID == "" {
		return domain.QcSession{}, domain.ValidationError{Field: "batch_id", Reason: "must not be empty"}
	}
	if _, ok := tx.state.batches[session.BatchID]; !ok {
		return domain.QcSession{}, domain.NotFoundError{Entity: domain.EntityBatch, ID: session.BatchID}
	}
	for _, existing := range tx.state.sessions {
		if existing.BatchID == session.BatchID {
			return domain.QcSession{}, domain.PreconditionError{
				Entity: domain.EntityQcSession,
				ID:     existing.ID,
				Reason: fmt.Sprintf("batch %s already has a QC session", session.BatchID),
			}
		}
	}
	if session.Status == "" {
		session.Status = domain.SessionNotStarted
	}
	if session.ID == "" {
		session.ID = tx.store.newID()
	}
	session.CreatedAt = tx.now
	session.UpdatedAt = tx.now
	tx.state.sessions[session.ID] = cloneSession(session)
	tx.recordChange(domain.Change{Entity: domain.EntityQcSession, Action: domain.ActionCreate, After: cloneSession(session)})
	return cloneSession(session), nil
}

// UpdateSession applies mutator to a QC session.
func (tx *transaction) UpdateSession(id string, mutator func(*domain.QcSession) error) (domain.QcSession, error) {
	current, ok := tx.state.sessions[id]
	if !ok {
		return domain.QcSession{}, domain.NotFoundError{Entity: domain.EntityQcSession, ID: id}
	}
	before := cloneSession(current)
	updated := cloneSession(current)
	if err := mutator(&updated); err != nil {
		return domain.QcSession{}, err
	}
	updated.ID = before.ID
	updated.BatchID = before.BatchID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	tx.state.sessions[id] = cloneSession(updated)
	tx.recordChange(domain.Change{Entity: domain.EntityQcSession, Action: domain.ActionUpdate, Before: before, After: cloneSession(updated)})
	return cloneSession(updated), nil
}

// CreateResult stores one test line of a session.
func (tx *transaction) CreateResult(result domain.QcResult) (domain.QcResult, error) {
	if result.SessionID == "" {
		return domain.QcResult{}, domain.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if _, ok := tx.state.sessions[result.SessionID]; !ok {
		return domain.QcResult{}, domain.NotFoundError{Entity: domain.EntityQcSession, ID: result.SessionID}
	}
	if result.Status == "" {
		result.Status = domain.ResultPending
	}
	if result.ID == "" {
		result.ID = tx.store.newID()
	}
	result.CreatedAt = tx.now
	result.UpdatedAt = tx.now
	tx.state.results[result.ID] = cloneResult(result)
	tx.recordChange(domain.Change{Entity: domain.EntityQcResult, Action: domain.ActionCreate, After: cloneResult(result)})
	return cloneResult(result), nil
}

// UpdateResult applies mutator to a test line.
func (tx *transaction) UpdateResult(id string, mutator func(*domain.QcResult) error) (domain.QcResult, error) {
	current, ok := tx.state.results[id]
	if !ok {
		return domain.QcResult{}, domain.NotFoundError{Entity: domain.EntityQcResult, ID: id}
	}
	before := cloneResult(current)
	updated := cloneResult(current)
	if err := mutator(&updated); err != nil {
		return domain.QcResult{}, err
	}
	updated.ID = before.ID
	updated.SessionID = before.SessionID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	tx.state.results[id] = cloneResult(updated)
	tx.recordChange(domain.Change{Entity: domain.EntityQcResult, Action: domain.ActionUpdate, Before: before, After: cloneResult(updated)})
	return cloneResult(updated), nil
}

// FindBatch exposes batch lookup within the transaction scope.
func (tx *transaction) FindBatch(id string) (domain.Batch, bool) {
	b, ok := tx.state.batches[id]
	if !ok {
		return domain.Batch{}, false
	}
	return cloneBatch(b), true
}

// FindOrder exposes order lookup within the transaction scope.
func (tx *transaction) FindOrder(id string) (domain.Order, bool) {
	o, ok := tx.state.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return cloneOrder(o), true
}

// FindSession exposes session lookup within the transaction scope.
func (tx *transaction) FindSession(id string) (domain.QcSession, bool) {
	s, ok := tx.state.sessions[id]
	if !ok {
		return domain.QcSession{}, false
	}
	return cloneSession(s), true
}

// FindResult exposes test line lookup within the transaction scope.
func (tx *transaction) FindResult(id string) (domain.QcResult, bool) {
	r, ok := tx.state.results[id]
	if !ok {
		return domain.QcResult{}, false
	}
	return cloneResult(r), true
}

// SessionForBatch locates the QC session owned by a batch.
func (tx *transaction) SessionForBatch(batchID string) (domain.QcSession, bool) {
	return sessionForBatch(&tx.state, batchID)
}

// ListResults returns the test lines of a session in line order.
func (tx *transaction) ListResults(sessionID string) []domain.QcResult {
	return listResults(&tx.state, sessionID)
}

func sessionForBatch(state *memoryState, batchID string) (domain.QcSession, bool) {
	for _, s := range state.sessions {
		if s.BatchID == batchID {
			return cloneSession(s), true
		}
	}
	return domain.QcSession{}, false
}

func listResults(state *memoryState, sessionID string) []domain.QcResult {
	out := make([]domain.QcResult, 0)
	for _, r := range state.results {
		if r.SessionID == sessionID {
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LineNo != out[j].LineNo {
			return out[i].LineNo < out[j].LineNo
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindBatch retrieves a batch by ID from the view snapshot.
func (v transactionView) FindBatch(id string) (domain.Batch, bool) {
	b, ok := v.state.batches[id]
	if !ok {
		return domain.Batch{}, false
	}
	return cloneBatch(b), true
}

// ListBatches returns all batches sorted by batch number.
func (v transactionView) ListBatches() []domain.Batch {
	out := make([]domain.Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out
}

// FindOrder retrieves an order by ID from the view snapshot.
func (v transactionView) FindOrder(id string) (domain.Order, bool) {
	o, ok := v.state.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return cloneOrder(o), true
}

// ListOrders returns all orders sorted by order number.
func (v transactionView) ListOrders() []domain.Order {
	out := make([]domain.Order, 0, len(v.state.orders))
	for _, o := range v.state.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

// ListEvents returns a batch's events in append order.
func (v transactionView) ListEvents(batchID string) []domain.BatchEvent {
	list := v.state.events[batchID]
	out := make([]domain.BatchEvent, len(list))
	for i, e := range list {
		out[i] = cloneEvent(e)
	}
	return out
}

// ListReleases returns a batch's release decisions in append order.
func (v transactionView) ListReleases(batchID string) []domain.BatchRelease {
	list := v.state.releases[batchID]
	out := make([]domain.BatchRelease, len(list))
	for i, r := range list {
		out[i] = cloneRelease(r)
	}
	return out
}

// FindSession retrieves a session by ID from the view snapshot.
func (v transactionView) FindSession(id string) (domain.QcSession, bool) {
	s, ok := v.state.sessions[id]
	if !ok {
		return domain.QcSession{}, false
	}
	return cloneSession(s), true
}

// SessionForBatch locates the session owned by a batch.
func (v transactionView) SessionForBatch(batchID string) (domain.QcSession, bool) {
	return sessionForBatch(v.state, batchID)
}

// FindResult retrieves a test line by ID from the view snapshot.
func (v transactionView) FindResult(id string) (domain.QcResult, bool) {
	r, ok := v.state.results[id]
	if !ok {
		return domain.QcResult{}, false
	}
	return cloneResult(r), true
}

// ListResults returns a session's test lines in line order.
func (v transactionView) ListResults(sessionID string) []domain.QcResult {
	return listResults(v.state, sessionID)
}

// GetBatch returns a batch by ID.
func (s *Store) GetBatch(id string) (domain.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.batches[id]
	if !ok {
		return domain.Batch{}, false
	}
	return cloneBatch(b), true
}

// ListBatches returns all batches sorted by batch number.
func (s *Store) ListBatches() []domain.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := transactionView{state: &s.state}
	return view.ListBatches()
}

// GetOrder returns an order by ID.
func (s *Store) GetOrder(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return cloneOrder(o), true
}

// ListOrders returns all orders sorted by order number.
func (s *Store) ListOrders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := transactionView{state: &s.state}
	return view.ListOrders()
}

// GetSession returns a QC session by ID.
func (s *Store) GetSession(id string) (domain.QcSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.state.sessions[id]
	if !ok {
		return domain.QcSession{}, false
	}
	return cloneSession(sess), true
}

// SessionForBatch returns the session owned by a batch.
func (s *Store) SessionForBatch(batchID string) (domain.QcSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionForBatch(&s.state, batchID)
}

// ListResults returns a session's test lines in line order.
func (s *Store) ListResults(sessionID string) []domain.QcResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listResults(&s.state, sessionID)
}

// ListEvents returns a batch's events in append order.
func (s *Store) ListEvents(batchID string) []domain.BatchEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := transactionView{state: &s.state}
	return view.ListEvents(batchID)
}

// ListReleases returns a batch's release decisions in append order.
func (s *Store) ListReleases(batchID string) []domain.BatchRelease {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := transactionView{state: &s.state}
	return view.ListReleases(batchID)
}
