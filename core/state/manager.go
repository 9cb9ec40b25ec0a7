package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lendcore/core/events"
	"lendcore/storage"
)

// Manager is a journaled key-value view over a storage.Database. Writes land
// in an in-memory overlay; Atomic scopes either commit the overlay to the
// database in one batch or revert it to the snapshot taken on entry. Events
// emitted inside a scope are buffered and only delivered after commit.
//
// A Manager is not safe for concurrent use. Callers serialize access.
type Manager struct {
	db      storage.Database
	dirty   map[string]entry
	journal []change
	pending []events.Event
	emitter events.Emitter
	depth   int
}

type entry struct {
	value   []byte
	deleted bool
}

type change struct {
	key     string
	prev    entry
	existed bool
}

// Snapshot identifies a revertible point in the journal.
type Snapshot struct {
	journal int
	events  int
}

// NewManager wraps db with a fresh overlay.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string]entry),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where committed events are delivered.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if e, ok := m.dirty[string(hashed)]; ok {
		if e.deleted {
			return nil, nil
		}
		return e.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte, deleted bool) error {
	key := string(hashed)
	prev, existed := m.dirty[key]
	m.journal = append(m.journal, change{key: key, prev: prev, existed: existed})
	m.dirty[key] = entry{value: value, deleted: deleted}
	if m.depth == 0 {
		return m.Commit()
	}
	return nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded, false)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.write(kvKey(key), nil, true)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.write(hashed, encoded, false)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys produce an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Emit buffers ev until the surrounding scope commits. Outside a scope the
// event is delivered immediately.
func (m *Manager) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	if m.depth == 0 {
		m.emitter.Emit(ev)
		return
	}
	m.pending = append(m.pending, ev)
}

// Snapshot captures the current journal position.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{journal: len(m.journal), events: len(m.pending)}
}

// RevertToSnapshot undoes every write and buffered event recorded after snap.
func (m *Manager) RevertToSnapshot(snap Snapshot) {
	for i := len(m.journal) - 1; i >= snap.journal; i-- {
		c := m.journal[i]
		if c.existed {
			m.dirty[c.key] = c.prev
		} else {
			delete(m.dirty, c.key)
		}
	}
	m.journal = m.journal[:snap.journal]
	if snap.events <= len(m.pending) {
		m.pending = m.pending[:snap.events]
	}
}

// InTransaction reports whether an Atomic scope is active.
func (m *Manager) InTransaction() bool {
	return m.depth > 0
}

// Commit flushes the overlay to the database in one batch and delivers the
// buffered events.
func (m *Manager) Commit() error {
	if len(m.dirty) > 0 {
		batch := m.db.NewBatch()
		for key, e := range m.dirty {
			if e.deleted {
				batch.Delete([]byte(key))
				continue
			}
			batch.Put([]byte(key), e.value)
		}
		if err := batch.Write(); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	m.dirty = make(map[string]entry)
	m.journal = m.journal[:0]
	pending := m.pending
	m.pending = nil
	for _, ev := range pending {
		m.emitter.Emit(ev)
	}
	return nil
}

// Atomic runs fn inside a journaled scope. Scopes nest: an error reverts only
// the writes made since this scope began, and the outermost successful scope
// commits everything. A panic reverts the scope and is re-raised.
func (m *Manager) Atomic(fn func() error) (err error) {
	snap := m.Snapshot()
	m.depth++
	defer func() {
		if r := recover(); r != nil {
			m.depth--
			m.RevertToSnapshot(snap)
			panic(r)
		}
	}()
	err = fn()
	m.depth--
	if err != nil {
		m.RevertToSnapshot(snap)
		return err
	}
	if m.depth == 0 {
		if cerr := m.Commit(); cerr != nil {
			m.RevertToSnapshot(snap)
			return cerr
		}
	}
	return nil
}
