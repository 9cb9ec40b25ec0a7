package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bolt, err := NewBoltDB(filepath.Join(dir, "state.bolt"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	dbs := map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestDatabaseBackends(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.Put([]byte("a"), []byte("1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			value, err := db.Get([]byte("a"))
			if err != nil || string(value) != "1" {
				t.Fatalf("get: %q %v", value, err)
			}

			batch := db.NewBatch()
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("a"))
			if batch.Len() != 2 {
				t.Fatalf("unexpected batch length %d", batch.Len())
			}
			if _, err := db.Get([]byte("b")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("batch applied before write")
			}
			if err := batch.Write(); err != nil {
				t.Fatalf("write batch: %v", err)
			}
			if _, err := db.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected a deleted, got %v", err)
			}
			value, err = db.Get([]byte("b"))
			if err != nil || string(value) != "2" {
				t.Fatalf("get b: %q %v", value, err)
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("cassandra", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	db, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	db.Close()
}
