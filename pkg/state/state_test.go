package state

import (
	"math/big"
	"sort"
	"testing"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
)

// memStore is a minimal in-memory storage.Store fake for exercising
// State without a real warm-tier backend.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
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
	var keys []string
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

func testAddr(b byte) core.Address {
	var a core.Address
	a[0] = b
	return a
}

func TestGetAccountOnMissDoesNotPersistOrPolluteRoot(t *testing.T) {
	store := newMemStore()
	st := New(store)

	rootBefore, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}

	unseen := testAddr(0xAB)
	acc, err := st.GetAccount(unseen)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Sign() != 0 || acc.Nonce != 0 {
		t.Fatalf("expected a zero account for an unseen address, got %+v", acc)
	}

	if _, err := store.Get(storage.AccountKey(unseen.Hex())); err != storage.ErrNotFound {
		t.Fatalf("a read for a never-seen address must not persist anything, got err=%v", err)
	}

	rootAfter, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	if rootAfter != rootBefore {
		t.Fatalf("a read-only GetAccount mutated the state root: before=%s after=%s",
			rootBefore.Hex(), rootAfter.Hex())
	}
}

func TestStateRootIsIdenticalAcrossIndependentCachesOverTheSameStore(t *testing.T) {
	store := newMemStore()
	seed := New(store)
	for i := byte(1); i <= 3; i++ {
		acc := &core.Account{Balance: big.NewInt(int64(i) * 100), Nonce: uint64(i)}
		if err := seed.ApplyUpdate(testAddr(i), acc); err != nil {
			t.Fatalf("seed account %d: %v", i, err)
		}
	}

	canonical := New(store)
	canonicalRoot, err := canonical.StateRoot()
	if err != nil {
		t.Fatalf("canonical state root: %v", err)
	}

	// RPC-style reads against a second, never-written-to State sharing
	// the same store must not change what its own root computes to, nor
	// diverge it from an instance that never performed those reads.
	fresh := New(store)
	if _, err := fresh.GetAccount(testAddr(1)); err != nil {
		t.Fatalf("get account: %v", err)
	}
	if _, err := fresh.GetAccount(testAddr(0xFF)); err != nil {
		t.Fatalf("get account: %v", err)
	}

	freshRoot, err := fresh.StateRoot()
	if err != nil {
		t.Fatalf("fresh state root: %v", err)
	}
	if freshRoot != canonicalRoot {
		t.Fatalf("state root diverged across two State instances over one store: canonical=%s fresh=%s",
			canonicalRoot.Hex(), freshRoot.Hex())
	}
}

func TestApplyUpdateIsReflectedInStateRoot(t *testing.T) {
	store := newMemStore()
	st := New(store)

	rootEmpty, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}

	addr := testAddr(7)
	if err := st.ApplyUpdate(addr, &core.Account{Balance: big.NewInt(500), Nonce: 1}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	rootAfter, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	if rootAfter == rootEmpty {
		t.Fatalf("state root did not change after a durable account update")
	}

	got, err := st.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Balance.Cmp(big.NewInt(500)) != 0 || got.Nonce != 1 {
		t.Fatalf("unexpected account after update: %+v", got)
	}
}
