package state

import (
	"errors"
	"testing"

	"lendcore/storage"
)

func TestEnsureSchemaStampsAndChecks(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.EnsureSchema(); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	reopened := NewManager(db)
	version, ok, err := reopened.StoredVersion()
	if err != nil || !ok || version != SchemaVersion {
		t.Fatalf("stored version = %d %v %v", version, ok, err)
	}
	if err := reopened.EnsureSchema(); err != nil {
		t.Fatalf("second check: %v", err)
	}

	if err := reopened.Atomic(func() error {
		return reopened.KVPut(schemaVersionKey, uint64(SchemaVersion+1))
	}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := NewManager(db).EnsureSchema(); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
