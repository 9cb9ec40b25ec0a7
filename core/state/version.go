package state

import (
	"errors"
	"fmt"
	"math"
)

// SchemaVersion identifies the on-disk layout of market, ledger and queue
// records. Increment it whenever a stored structure changes incompatibly.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("lendcore/schema-version")
	// ErrSchemaMismatch indicates the stored layout is not the one this binary
	// reads.
	ErrSchemaMismatch = errors.New("state: schema version mismatch")
)

// StoredVersion returns the recorded schema version and whether one exists.
func (m *Manager) StoredVersion() (uint32, bool, error) {
	var stored uint64
	ok, err := m.KVGet(schemaVersionKey, &stored)
	if err != nil || !ok {
		return 0, false, err
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureSchema stamps an empty database with SchemaVersion and rejects one
// written by an incompatible layout.
func (m *Manager) EnsureSchema() error {
	version, ok, err := m.StoredVersion()
	if err != nil {
		return err
	}
	if ok {
		if version != SchemaVersion {
			return fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaMismatch, version, SchemaVersion)
		}
		return nil
	}
	return m.Atomic(func() error {
		return m.KVPut(schemaVersionKey, uint64(SchemaVersion))
	})
}
