package state

import (
	"errors"
	"testing"

	"lendcore/core/events"
	"lendcore/storage"
)

type record struct {
	Name  string
	Value uint64
}

type testEvent struct{ name string }

func (e testEvent) EventType() string { return e.name }

type captureEmitter struct{ events []events.Event }

func (c *captureEmitter) Emit(ev events.Event) { c.events = append(c.events, ev) }

func TestKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k"), record{Name: "a", Value: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out record
	ok, err := mgr.KVGet([]byte("k"), &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Name != "a" || out.Value != 7 {
		t.Fatalf("unexpected record %+v", out)
	}
	if db.Len() != 1 {
		t.Fatalf("write outside a scope should commit immediately")
	}

	if err := mgr.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = mgr.KVGet([]byte("k"), &out)
	if err != nil || ok {
		t.Fatalf("expected key removed: ok=%v err=%v", ok, err)
	}
	if _, err := mgr.KVGet(nil, &out); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend([]byte("list"), v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	var empty [][]byte
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("get missing list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestAtomicRevertsOnError(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	emitter := &captureEmitter{}
	mgr.SetEmitter(emitter)

	if err := mgr.KVPut([]byte("balance"), uint64(10)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	boom := errors.New("boom")
	err := mgr.Atomic(func() error {
		if err := mgr.KVPut([]byte("balance"), uint64(3)); err != nil {
			return err
		}
		mgr.Emit(testEvent{name: "debit"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var balance uint64
	if _, err := mgr.KVGet([]byte("balance"), &balance); err != nil {
		t.Fatalf("get: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected revert to 10, got %d", balance)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("reverted scope must not emit events")
	}
}

func TestNestedAtomicIsolation(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	emitter := &captureEmitter{}
	mgr.SetEmitter(emitter)

	err := mgr.Atomic(func() error {
		if err := mgr.KVPut([]byte("a"), uint64(1)); err != nil {
			return err
		}
		mgr.Emit(testEvent{name: "outer"})
		inner := mgr.Atomic(func() error {
			if err := mgr.KVPut([]byte("a"), uint64(2)); err != nil {
				return err
			}
			if err := mgr.KVPut([]byte("b"), uint64(5)); err != nil {
				return err
			}
			mgr.Emit(testEvent{name: "inner"})
			return errors.New("inner failed")
		})
		if inner == nil {
			t.Fatalf("expected inner failure")
		}
		if db.Len() != 0 {
			t.Fatalf("nested scope must not commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer: %v", err)
	}

	var a uint64
	if _, err := mgr.KVGet([]byte("a"), &a); err != nil || a != 1 {
		t.Fatalf("expected a=1, got %d (%v)", a, err)
	}
	if ok, _ := mgr.KVGet([]byte("b"), nil); ok {
		t.Fatalf("inner write leaked")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != "outer" {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
}

func TestAtomicRevertsOnPanic(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = mgr.Atomic(func() error {
			if err := mgr.KVPut([]byte("x"), uint64(1)); err != nil {
				return err
			}
			panic("halt")
		})
	}()
	if mgr.InTransaction() {
		t.Fatalf("depth not restored after panic")
	}
	if ok, _ := mgr.KVGet([]byte("x"), nil); ok {
		t.Fatalf("write survived panic")
	}
}

func TestSnapshotRevert(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.Atomic(func() error {
		if err := mgr.KVPut([]byte("v"), uint64(1)); err != nil {
			return err
		}
		snap := mgr.Snapshot()
		if err := mgr.KVPut([]byte("v"), uint64(2)); err != nil {
			return err
		}
		mgr.RevertToSnapshot(snap)
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	var v uint64
	if _, err := mgr.KVGet([]byte("v"), &v); err != nil || v != 1 {
		t.Fatalf("expected v=1 got %d (%v)", v, err)
	}
}
