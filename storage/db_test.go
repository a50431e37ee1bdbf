package storage

import (
	"errors"
	"testing"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := Open(BackendLevelDB, dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bolt, err := Open(BackendBolt, dir)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(level.Close)
	t.Cleanup(bolt.Close)
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseBasics(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.Put([]byte("a"), []byte("1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := db.Get([]byte("a"))
			if err != nil || string(got) != "1" {
				t.Fatalf("get: %q %v", got, err)
			}
			ok, err := db.Has([]byte("a"))
			if err != nil || !ok {
				t.Fatalf("has: %v %v", ok, err)
			}
			if err := db.Delete([]byte("a")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if ok, _ := db.Has([]byte("a")); ok {
				t.Fatalf("key should be gone")
			}
		})
	}
}

func TestBatchWritesAtomically(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := db.Put([]byte("stale"), []byte("x")); err != nil {
				t.Fatalf("put: %v", err)
			}
			batch := db.NewBatch()
			batch.Put([]byte("k1"), []byte("v1"))
			batch.Put([]byte("k2"), []byte("v2"))
			batch.Delete([]byte("stale"))
			if batch.Len() != 3 {
				t.Fatalf("unexpected batch len %d", batch.Len())
			}
			if ok, _ := db.Has([]byte("k1")); ok {
				t.Fatalf("batch must not apply before Write")
			}
			if err := batch.Write(); err != nil {
				t.Fatalf("write: %v", err)
			}
			for key, want := range map[string]string{"k1": "v1", "k2": "v2"} {
				got, err := db.Get([]byte(key))
				if err != nil || string(got) != want {
					t.Fatalf("%s: got %q err %v", key, got, err)
				}
			}
			if ok, _ := db.Has([]byte("stale")); ok {
				t.Fatalf("stale key should be deleted")
			}
		})
	}
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	parent := NewMemDB()
	if err := parent.Put([]byte("keep"), []byte("old")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	discarded := NewOverlay(parent)
	if err := discarded.Put([]byte("keep"), []byte("new")); err != nil {
		t.Fatalf("overlay put: %v", err)
	}
	if got, _ := discarded.Get([]byte("keep")); string(got) != "new" {
		t.Fatalf("overlay should read its own writes, got %q", got)
	}
	discarded.Discard()
	if got, _ := parent.Get([]byte("keep")); string(got) != "old" {
		t.Fatalf("parent mutated before commit: %q", got)
	}

	overlay := NewOverlay(parent)
	if err := overlay.Put([]byte("fresh"), []byte("v")); err != nil {
		t.Fatalf("overlay put: %v", err)
	}
	if err := overlay.Delete([]byte("keep")); err != nil {
		t.Fatalf("overlay delete: %v", err)
	}
	if _, err := overlay.Get([]byte("keep")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key visible through overlay: %v", err)
	}
	if overlay.Dirty() != 2 {
		t.Fatalf("unexpected dirty count %d", overlay.Dirty())
	}
	if err := overlay.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := parent.Has([]byte("keep")); ok {
		t.Fatalf("delete not committed")
	}
	if got, _ := parent.Get([]byte("fresh")); string(got) != "v" {
		t.Fatalf("put not committed: %q", got)
	}
	if err := overlay.Put([]byte("late"), nil); err == nil {
		t.Fatalf("expected write after commit to fail")
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("rocksdb", t.TempDir()); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}
