package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestStoreRoundtrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte(`{"batch":"B-1"}`)
			info, err := store.Put(ctx, "dossiers/B-1/task.json", bytes.NewReader(payload), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"batch_id": "b1"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len(payload)) {
				t.Errorf("size mismatch: %d", info.Size)
			}

			got, rc, err := store.Get(ctx, "dossiers/B-1/task.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Errorf("content mismatch: %s", data)
			}
			if got.ContentType != "application/json" {
				t.Errorf("content type lost: %s", got.ContentType)
			}
			if got.Metadata["batch_id"] != "b1" {
				t.Errorf("metadata lost: %v", got.Metadata)
			}

			head, err := store.Head(ctx, "dossiers/B-1/task.json")
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			if head.Size != info.Size {
				t.Errorf("head size mismatch: %d", head.Size)
			}
		})
	}
}

func TestStorePutIsCreateOnly(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{}); err == nil {
				t.Error("second put on the same key must fail")
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("get should wrap ErrNotFound, got %v", err)
			}
			if _, err := store.Head(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("head should wrap ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "doomed", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			existed, err := store.Delete(ctx, "doomed")
			if err != nil || !existed {
				t.Fatalf("delete: existed=%v err=%v", existed, err)
			}
			existed, err = store.Delete(ctx, "doomed")
			if err != nil || existed {
				t.Errorf("second delete: existed=%v err=%v", existed, err)
			}
		})
	}
}

func TestStoreListByPrefix(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"audit-journal/2024-06-01/a.json", "audit-journal/2024-06-02/b.json", "dossiers/B-1/c.json"} {
				if _, err := store.Put(ctx, key, strings.NewReader("{}"), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "audit-journal/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(infos))
			}
			if infos[0].Key > infos[1].Key {
				t.Error("list should be sorted by key")
			}
			for _, info := range infos {
				if !strings.HasPrefix(info.Key, "audit-journal/") {
					t.Errorf("prefix filter leaked %s", info.Key)
				}
			}
		})
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"dossiers/B-1/task.json", false},
		{"plain", false},
		{"", true},
		{"  ", true},
		{"../escape", true},
		{"nested/../../escape", true},
		{"/absolute", true},
	}
	for _, tt := range tests {
		_, err := sanitizeKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("sanitizeKey(%q) err=%v, wantErr=%v", tt.key, err, tt.wantErr)
		}
	}
}
