package storage

import (
	"sort"
	"testing"
)

// memStore is a minimal in-memory Store fake for exercising Overlay
// without a real warm-tier backend.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(key, value []byte) error {
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *memStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), m.data[k]) {
			return nil
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func TestOverlayReadsFallThroughToBase(t *testing.T) {
	base := newMemStore()
	base.Put([]byte("account/a"), []byte("10"))

	o := NewOverlay(base)
	v, err := o.Get([]byte("account/a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "10" {
		t.Fatalf("want 10, got %s", v)
	}
}

func TestOverlayWritesNeverReachBase(t *testing.T) {
	base := newMemStore()
	o := NewOverlay(base)

	if err := o.Put([]byte("account/a"), []byte("99")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := o.Get([]byte("account/a"))
	if err != nil {
		t.Fatalf("get from overlay: %v", err)
	}
	if string(v) != "99" {
		t.Fatalf("overlay read: want 99, got %s", v)
	}

	if _, err := base.Get([]byte("account/a")); err != ErrNotFound {
		t.Fatalf("base store was mutated by an overlay write: err=%v", err)
	}
}

func TestOverlayDeleteShadowsBaseValue(t *testing.T) {
	base := newMemStore()
	base.Put([]byte("account/a"), []byte("10"))

	o := NewOverlay(base)
	if err := o.Delete([]byte("account/a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := o.Get([]byte("account/a")); err != ErrNotFound {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if v, err := base.Get([]byte("account/a")); err != nil || string(v) != "10" {
		t.Fatalf("base value should be untouched, got v=%s err=%v", v, err)
	}
}

func TestOverlayPutAfterDeleteUndoesTombstone(t *testing.T) {
	base := newMemStore()
	base.Put([]byte("account/a"), []byte("10"))

	o := NewOverlay(base)
	o.Delete([]byte("account/a"))
	o.Put([]byte("account/a"), []byte("20"))

	v, err := o.Get([]byte("account/a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "20" {
		t.Fatalf("want 20, got %s", v)
	}
}

func TestOverlayIterateMergesWrittenAndBaseKeysOnce(t *testing.T) {
	base := newMemStore()
	base.Put([]byte("account/a"), []byte("1"))
	base.Put([]byte("account/b"), []byte("2"))

	o := NewOverlay(base)
	o.Put([]byte("account/b"), []byte("20")) // shadow
	o.Put([]byte("account/c"), []byte("3"))  // overlay-only
	o.Delete([]byte("account/a"))            // tombstoned

	seen := make(map[string]string)
	if err := o.Iterate([]byte("account/"), func(key, value []byte) bool {
		seen[string(key)] = string(value)
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("want 2 visible keys, got %d: %v", len(seen), seen)
	}
	if seen["account/b"] != "20" {
		t.Fatalf("overlay write should shadow base value, got %s", seen["account/b"])
	}
	if seen["account/c"] != "3" {
		t.Fatalf("overlay-only key missing, got %v", seen)
	}
	if _, ok := seen["account/a"]; ok {
		t.Fatalf("deleted key should not appear in iteration")
	}
}

func TestOverlayDiscardLeavesBaseUntouched(t *testing.T) {
	base := newMemStore()
	base.Put([]byte("validator/v1"), []byte("active"))

	o := NewOverlay(base)
	o.Put([]byte("validator/v1"), []byte("jailed"))
	o.Put([]byte("validator/v2"), []byte("active"))
	o.Delete([]byte("validator/v1")) // should still be a no-op against base once o is dropped

	// Dropping the overlay (going out of scope) must never have touched base.
	v, err := base.Get([]byte("validator/v1"))
	if err != nil || string(v) != "active" {
		t.Fatalf("base mutated by discarded overlay: v=%s err=%v", v, err)
	}
	if _, err := base.Get([]byte("validator/v2")); err != ErrNotFound {
		t.Fatalf("overlay-only key leaked into base")
	}
}
