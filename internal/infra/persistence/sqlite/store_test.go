package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"batchcore/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchcore.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var batch domain.Batch
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		batch, err = tx.CreateBatch(domain.Batch{BatchNumber: "B-SQL-1", Status: domain.StatusQcPending})
		if err != nil {
			return err
		}
		session, err := tx.CreateSession(domain.QcSession{BatchID: batch.ID, TemplateID: "tpl-1"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateResult(domain.QcResult{SessionID: session.ID, LineNo: 1, Name: "assay"}); err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.BatchEvent{BatchID: batch.ID, Type: domain.EventBatchCreated})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	restored, ok := reopened.GetBatch(batch.ID)
	if !ok {
		t.Fatal("batch not hydrated from snapshot")
	}
	if restored.BatchNumber != "B-SQL-1" || restored.Status != domain.StatusQcPending {
		t.Errorf("unexpected hydrated batch: %+v", restored)
	}
	session, ok := reopened.SessionForBatch(batch.ID)
	if !ok {
		t.Fatal("session not hydrated")
	}
	if len(reopened.ListResults(session.ID)) != 1 {
		t.Error("results not hydrated")
	}
	if len(reopened.ListEvents(batch.ID)) != 1 {
		t.Error("events not hydrated")
	}
}

func TestFailedTransactionDoesNotSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchcore.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateBatch(domain.Batch{})
		return err
	})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if got := len(reopened.ListBatches()); got != 0 {
		t.Errorf("failed transaction leaked %d batches into the snapshot", got)
	}
}

func TestSnapshotOverwritesPriorState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchcore.db")
	ctx := context.Background()

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var batch domain.Batch
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		batch, err = tx.CreateBatch(domain.Batch{BatchNumber: "B-SQL-2"})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateBatch(batch.ID, func(b *domain.Batch) error {
			b.ProductID = "prod-9"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	restored, _ := reopened.GetBatch(batch.ID)
	if restored.ProductID != "prod-9" {
		t.Errorf("latest snapshot not loaded: %+v", restored)
	}
	if restored.Version != 2 {
		t.Errorf("version not preserved: %d", restored.Version)
	}
}
