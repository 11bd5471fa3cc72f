package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads through the transaction observe
// the transactional state, so a status read is always consistent with the
// write that follows it.
type Transaction interface {
	Snapshot() TransactionView

	CreateBatch(Batch) (Batch, error)
	// UpdateBatch mutates a batch without a status precondition. Mutators
	// must not change Status; status moves only through UpdateBatchStatus.
	UpdateBatch(id string, mutator func(*Batch) error) (Batch, error)
	// UpdateBatchStatus applies mutator only while the stored status still
	// equals expected; otherwise it fails with ConflictError. This is the
	// row-level compare-and-swap backing optimistic concurrency.
	UpdateBatchStatus(id string, expected BatchStatus, mutator func(*Batch) error) (Batch, error)

	CreateOrder(Order) (Order, error)
	UpdateOrder(id string, mutator func(*Order) error) (Order, error)

	// AppendEvent writes an immutable batch event. There is deliberately no
	// update or delete counterpart.
	AppendEvent(BatchEvent) (BatchEvent, error)
	CreateRelease(BatchRelease) (BatchRelease, error)
	// UpdateRelease mutates an existing release record, e.g. deactivating a
	// superseded decision when a batch is released again after a hold cycle.
	UpdateRelease(id string, mutator func(*BatchRelease) error) (BatchRelease, error)

	CreateSession(QcSession) (QcSession, error)
	UpdateSession(id string, mutator func(*QcSession) error) (QcSession, error)
	CreateResult(QcResult) (QcResult, error)
	UpdateResult(id string, mutator func(*QcResult) error) (QcResult, error)

	FindBatch(id string) (Batch, bool)
	FindOrder(id string) (Order, bool)
	FindSession(id string) (QcSession, bool)
	FindResult(id string) (QcResult, bool)
	SessionForBatch(batchID string) (QcSession, bool)
	ListResults(sessionID string) []QcResult
}

// TransactionView provides read-only access to snapshot data for rules and
// callers that only need a consistent read.
type TransactionView interface {
	FindBatch(id string) (Batch, bool)
	ListBatches() []Batch
	FindOrder(id string) (Order, bool)
	ListOrders() []Order
	ListEvents(batchID string) []BatchEvent
	ListReleases(batchID string) []BatchRelease
	FindSession(id string) (QcSession, bool)
	SessionForBatch(batchID string) (QcSession, bool)
	FindResult(id string) (QcResult, bool)
	ListResults(sessionID string) []QcResult
}

// PersistentStore is a minimal abstraction over durable backends. Stores are
// constructed explicitly and passed in; there is no process-wide shared
// handle.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error

	GetBatch(id string) (Batch, bool)
	ListBatches() []Batch
	GetOrder(id string) (Order, bool)
	ListOrders() []Order
	GetSession(id string) (QcSession, bool)
	SessionForBatch(batchID string) (QcSession, bool)
	ListResults(sessionID string) []QcResult
	ListEvents(batchID string) []BatchEvent
	ListReleases(batchID string) []BatchRelease
}
