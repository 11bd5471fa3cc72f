package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"batchcore/internal/infra/blob"
	"batchcore/pkg/domain"
)

// DispatchStatus describes the lifecycle stage of an async task.
type DispatchStatus string

const (
	DispatchStatusQueued    DispatchStatus = "queued"
	DispatchStatusRunning   DispatchStatus = "running"
	DispatchStatusSucceeded DispatchStatus = "succeeded"
	DispatchStatusFailed    DispatchStatus = "failed"
)

// DispatchKind identifies the task variant.
type DispatchKind string

const (
	// DispatchWorkflow submits a release-workflow request to the external
	// approval collaborator.
	DispatchWorkflow DispatchKind = "workflow_submit"
	// DispatchDossier renders and archives a release dossier to the blob
	// store.
	DispatchDossier DispatchKind = "dossier_archive"
)

// DispatchRecord tracks one async task and its outcome.
type DispatchRecord struct {
	ID          string         `json:"id"`
	Kind        DispatchKind   `json:"kind"`
	BatchID     string         `json:"batch_id"`
	Status      DispatchStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	ArtifactKey string         `json:"artifact_key,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (r DispatchRecord) copy() DispatchRecord {
	cp := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

type dispatchTask struct {
	id       string
	kind     DispatchKind
	workflow WorkflowRequest
	batchID  string
}

// Dispatcher executes post-commit side effects asynchronously: workflow
// submissions and release-dossier archiving. Failures are logged and recorded
// on the task, never propagated to the operation that enqueued them.
type Dispatcher struct {
	workflow WorkflowClient
	store    domain.PersistentStore
	blobs    blob.Store
	logger   Logger

	queue chan dispatchTask
	mu    sync.RWMutex
	jobs  map[string]*DispatchRecord

	attemptTimeout time.Duration
	maxAttempts    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. The store is read for dossier
// rendering; workflow and blobs may be nil when the corresponding task kind
// is never enqueued.
func NewDispatcher(workflow WorkflowClient, store domain.PersistentStore, blobs blob.Store, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workflow:       workflow,
		store:          store,
		blobs:          blobs,
		logger:         logger,
		queue:          make(chan dispatchTask, 32),
		jobs:           make(map[string]*DispatchRecord),
		attemptTimeout: 10 * time.Second,
		maxAttempts:    3,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins processing tasks.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop signals the dispatcher to halt and waits for completion.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-d.queue:
			d.process(task)
		}
	}
}

// EnqueueWorkflow schedules a workflow submission.
func (d *Dispatcher) EnqueueWorkflow(req WorkflowRequest) (DispatchRecord, error) {
	return d.enqueue(dispatchTask{id: newDispatchID(), kind: DispatchWorkflow, workflow: req, batchID: req.EntityID})
}

// EnqueueDossier schedules a release-dossier archive for the batch.
func (d *Dispatcher) EnqueueDossier(batchID string) (DispatchRecord, error) {
	return d.enqueue(dispatchTask{id: newDispatchID(), kind: DispatchDossier, batchID: batchID})
}

func (d *Dispatcher) enqueue(task dispatchTask) (DispatchRecord, error) {
	now := time.Now().UTC()
	record := DispatchRecord{
		ID:        task.id,
		Kind:      task.kind,
		BatchID:   task.batchID,
		Status:    DispatchStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.mu.Lock()
	d.jobs[task.id] = &record
	snapshot := record.copy()
	d.mu.Unlock()

	select {
	case d.queue <- task:
	default:
		d.fail(task.id, fmt.Errorf("dispatch queue full"))
		return DispatchRecord{}, fmt.Errorf("dispatch queue full")
	}
	return snapshot, nil
}

// Get returns a snapshot of the task record.
func (d *Dispatcher) Get(id string) (DispatchRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.jobs[id]
	if !ok {
		return DispatchRecord{}, false
	}
	return record.copy(), true
}

func (d *Dispatcher) process(task dispatchTask) {
	d.setStatus(task.id, DispatchStatusRunning, "")

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		d.bumpAttempts(task.id)
		ctx, cancel := context.WithTimeout(d.ctx, d.attemptTimeout)
		lastErr = d.run(ctx, task)
		cancel()
		if lastErr == nil {
			d.setStatus(task.id, DispatchStatusSucceeded, "")
			return
		}
		if d.ctx.Err() != nil {
			break
		}
	}
	d.logger.Warn("dispatch task failed",
		"task_id", task.id, "kind", string(task.kind), "batch_id", task.batchID, "error", lastErr)
	d.fail(task.id, lastErr)
}

func (d *Dispatcher) run(ctx context.Context, task dispatchTask) error {
	switch task.kind {
	case DispatchWorkflow:
		if d.workflow == nil {
			return fmt.Errorf("workflow collaborator not configured")
		}
		return d.workflow.Submit(ctx, task.workflow)
	case DispatchDossier:
		return d.archiveDossier(ctx, task)
	default:
		return fmt.Errorf("unknown dispatch kind %s", task.kind)
	}
}

// ReleaseDossier is the archived JSON document describing a released batch.
type ReleaseDossier struct {
	Batch    domain.Batch          `json:"batch"`
	Events   []domain.BatchEvent   `json:"events"`
	Releases []domain.BatchRelease `json:"releases"`
	Session  *domain.QcSession     `json:"session,omitempty"`
	Results  []domain.QcResult     `json:"results,omitempty"`
	Archived time.Time             `json:"archived_at"`
}

func (d *Dispatcher) archiveDossier(ctx context.Context, task dispatchTask) error {
	if d.store == nil || d.blobs == nil {
		return fmt.Errorf("dossier archiving not configured")
	}
	batch, ok := d.store.GetBatch(task.batchID)
	if !ok {
		return fmt.Errorf("batch %s not found", task.batchID)
	}
	dossier := ReleaseDossier{
		Batch:    batch,
		Events:   d.store.ListEvents(task.batchID),
		Releases: d.store.ListReleases(task.batchID),
		Archived: time.Now().UTC(),
	}
	if session, ok := d.store.SessionForBatch(task.batchID); ok {
		dossier.Session = &session
		dossier.Results = d.store.ListResults(session.ID)
	}
	payload, err := json.MarshalIndent(dossier, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dossier: %w", err)
	}
	key := fmt.Sprintf("dossiers/%s/%s.json", batch.BatchNumber, task.id)
	if _, err := d.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"batch_id": batch.ID, "batch_number": batch.BatchNumber},
	}); err != nil {
		return fmt.Errorf("store dossier: %w", err)
	}
	d.mu.Lock()
	if record, ok := d.jobs[task.id]; ok {
		record.ArtifactKey = key
		record.UpdatedAt = time.Now().UTC()
	}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) setStatus(id string, status DispatchStatus, errMsg string) {
	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.jobs[id]
	if !ok {
		return
	}
	record.Status = status
	record.Error = errMsg
	record.UpdatedAt = now
	if status == DispatchStatusSucceeded || status == DispatchStatusFailed {
		record.CompletedAt = &now
	}
}

func (d *Dispatcher) fail(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	d.setStatus(id, DispatchStatusFailed, msg)
}

func (d *Dispatcher) bumpAttempts(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if record, ok := d.jobs[id]; ok {
		record.Attempts++
		record.UpdatedAt = time.Now().UTC()
	}
}

func newDispatchID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
