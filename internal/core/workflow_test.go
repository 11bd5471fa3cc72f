package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"batchcore/internal/infra/blob"
	"batchcore/internal/infra/persistence/memory"
	"batchcore/pkg/domain"
)

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
}

func waitForDispatch(t *testing.T, d *Dispatcher, id string) DispatchRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := d.Get(id)
		if ok && (record.Status == DispatchStatusSucceeded || record.Status == DispatchStatusFailed) {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatch task never completed")
	return DispatchRecord{}
}

func TestDispatcherArchivesDossier(t *testing.T) {
	store := memory.NewStore(nil)
	var batch domain.Batch
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		batch, err = tx.CreateBatch(domain.Batch{BatchNumber: "B-200", Status: domain.StatusReleased})
		if err != nil {
			return err
		}
		session, err := tx.CreateSession(domain.QcSession{BatchID: batch.ID, TemplateID: "tpl-1", Status: domain.SessionQcPassed})
		if err != nil {
			return err
		}
		_, err = tx.CreateResult(domain.QcResult{SessionID: session.ID, LineNo: 1, Name: "assay", Status: domain.ResultPass})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	blobs := blob.NewMemory()
	dispatcher := NewDispatcher(nil, store, blobs, nil)
	startDispatcher(t, dispatcher)

	record, err := dispatcher.EnqueueDossier(batch.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForDispatch(t, dispatcher, record.ID)
	if done.Status != DispatchStatusSucceeded {
		t.Fatalf("expected success, got %s (%s)", done.Status, done.Error)
	}
	if !strings.HasPrefix(done.ArtifactKey, "dossiers/B-200/") {
		t.Errorf("unexpected artifact key %s", done.ArtifactKey)
	}

	info, err := blobs.Head(context.Background(), done.ArtifactKey)
	if err != nil {
		t.Fatalf("dossier not stored: %v", err)
	}
	if info.ContentType != "application/json" {
		t.Errorf("unexpected content type %s", info.ContentType)
	}
	if info.Metadata["batch_number"] != "B-200" {
		t.Errorf("dossier metadata incomplete: %v", info.Metadata)
	}
}

type failingWorkflow struct{ calls int }

func (w *failingWorkflow) Submit(context.Context, WorkflowRequest) error {
	w.calls++
	return fmt.Errorf("upstream 503")
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	workflow := &failingWorkflow{}
	dispatcher := NewDispatcher(workflow, nil, nil, nil)
	dispatcher.attemptTimeout = 50 * time.Millisecond
	startDispatcher(t, dispatcher)

	record, err := dispatcher.EnqueueWorkflow(WorkflowRequest{EntityID: "batch-1", TriggerStatus: "qc_passed"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForDispatch(t, dispatcher, record.ID)
	if done.Status != DispatchStatusFailed {
		t.Fatalf("expected failure, got %s", done.Status)
	}
	if done.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", done.Attempts)
	}
	if !strings.Contains(done.Error, "503") {
		t.Errorf("record should carry the last error: %s", done.Error)
	}
	if done.CompletedAt == nil {
		t.Error("failed record should carry completion time")
	}
}

func TestDispatcherDossierMissingBatch(t *testing.T) {
	dispatcher := NewDispatcher(nil, memory.NewStore(nil), blob.NewMemory(), nil)
	startDispatcher(t, dispatcher)

	record, err := dispatcher.EnqueueDossier("ghost")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForDispatch(t, dispatcher, record.ID)
	if done.Status != DispatchStatusFailed {
		t.Fatalf("expected failure, got %s", done.Status)
	}
	if !strings.Contains(done.Error, "not found") {
		t.Errorf("unexpected error %s", done.Error)
	}
}

func TestDispatcherGetUnknownTask(t *testing.T) {
	dispatcher := NewDispatcher(nil, nil, nil, nil)
	if _, ok := dispatcher.Get("missing"); ok {
		t.Error("unknown task must not resolve")
	}
}

var errForwardDown = errors.New("audit endpoint down")

type failingForwarder struct{}

func (failingForwarder) Forward(context.Context, AuditEntry) error { return errForwardDown }

type acceptingForwarder struct{ entries []AuditEntry }

func (f *acceptingForwarder) Forward(_ context.Context, entry AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestJournalingAuditRecorderForwards(t *testing.T) {
	next := &acceptingForwarder{}
	journal := blob.NewMemory()
	recorder := NewJournalingAuditRecorder(next, journal, nil)

	recorder.Record(context.Background(), AuditEntry{ID: "a1", Action: "batch_transition", OccurredAt: time.Now().UTC()})
	if len(next.entries) != 1 {
		t.Fatalf("expected 1 forwarded entry, got %d", len(next.entries))
	}
	keys, err := journal.List(context.Background(), "audit-journal/")
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(keys) != 0 {
		t.Error("successful forward must not journal")
	}
}

func TestJournalingAuditRecorderFallsBack(t *testing.T) {
	journal := blob.NewMemory()
	recorder := NewJournalingAuditRecorder(failingForwarder{}, journal, nil)

	occurred := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	recorder.Record(context.Background(), AuditEntry{ID: "a2", Action: "batch_released", OccurredAt: occurred})

	keys, err := journal.List(context.Background(), "audit-journal/2024-06-01/")
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 journaled entry, got %d", len(keys))
	}
	if !strings.HasSuffix(keys[0].Key, "a2.json") {
		t.Errorf("unexpected journal key %s", keys[0].Key)
	}
}

func TestJournalingAuditRecorderNilNextJournalsEverything(t *testing.T) {
	journal := blob.NewMemory()
	recorder := NewJournalingAuditRecorder(nil, journal, nil)

	recorder.Record(context.Background(), AuditEntry{ID: "a3", Action: "batch_created", OccurredAt: time.Now().UTC()})
	keys, err := journal.List(context.Background(), "audit-journal/")
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 journaled entry, got %d", len(keys))
	}
}
