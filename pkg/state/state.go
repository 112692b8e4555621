// Package state implements the account-state map and its deterministic
// state root, the single *State instance shared by the executor, the
// validator registry, and the voting machinery.
package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
)

// State owns the account map. It is read by every subsystem via
// snapshots but mutated only by the block executor.
type State struct {
	mu       sync.RWMutex
	store    storage.Store
	accounts map[core.Address]*core.Account
}

func New(store storage.Store) *State {
	return &State{store: store, accounts: make(map[core.Address]*core.Account)}
}

type accountWire struct {
	Balance string
	Nonce   uint64
}

// GetAccount returns addr's account, reading through to the store on a
// cache miss. A never-seen address yields a zero account without being
// written anywhere: a read must never manufacture an entry in the
// root-bearing set, or two nodes with different RPC/admission query
// histories would compute different state roots for identical chains.
func (s *State) GetAccount(addr core.Address) (*core.Account, error) {
	s.mu.RLock()
	if acc, ok := s.accounts[addr]; ok {
		defer s.mu.RUnlock()
		return acc.Clone(), nil
	}
	s.mu.RUnlock()

	raw, err := s.store.Get(storage.AccountKey(addr.Hex()))
	if err == storage.ErrNotFound {
		return core.NewAccount(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr.Hex(), err)
	}
	acc, err := decodeAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr.Hex(), err)
	}
	s.mu.Lock()
	s.accounts[addr] = acc
	s.mu.Unlock()
	return acc.Clone(), nil
}

func decodeAccount(raw []byte) (*core.Account, error) {
	var wire accountWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(wire.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("bad balance %q", wire.Balance)
	}
	return &core.Account{Balance: bal, Nonce: wire.Nonce}, nil
}

// ApplyUpdate durably persists acc for addr then updates the in-memory
// cache, so a crash mid-write never leaves the cache ahead of durable
// state.
func (s *State) ApplyUpdate(addr core.Address, acc *core.Account) error {
	wire := accountWire{Balance: acc.Balance.String(), Nonce: acc.Nonce}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	if err := s.store.Put(storage.AccountKey(addr.Hex()), raw); err != nil {
		return fmt.Errorf("persist account %s: %w", addr.Hex(), err)
	}
	s.mu.Lock()
	s.accounts[addr] = acc
	s.mu.Unlock()
	return nil
}

// allAccounts reads every durable account entry straight from the
// store's account/ prefix — the in-memory cache is a read-through
// accelerator only and is never the source of truth for the account
// set, so this is deterministic across nodes regardless of read
// history.
func (s *State) allAccounts() (map[core.Address]*core.Account, error) {
	out := make(map[core.Address]*core.Account)
	err := s.store.Iterate(storage.AccountPrefix, func(key, value []byte) bool {
		addr, err := core.AddressFromHex(string(key[len(storage.AccountPrefix):]))
		if err != nil {
			return true
		}
		acc, err := decodeAccount(value)
		if err != nil {
			return true
		}
		out[addr] = acc
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// StateRoot computes the Merkle root over every durably-persisted
// (address, balance, nonce) tuple, sorted by address.
func (s *State) StateRoot() (core.Hash, error) {
	accounts, err := s.allAccounts()
	if err != nil {
		return core.Hash{}, err
	}
	addrs := make([]core.Address, 0, len(accounts))
	for a := range accounts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	leaves := make([]core.Hash, 0, len(addrs))
	for _, a := range addrs {
		acc := accounts[a]
		var nonceLE [8]byte
		for i := 0; i < 8; i++ {
			nonceLE[i] = byte(acc.Nonce >> (8 * i))
		}
		leaves = append(leaves, core.SumSHA256(a[:], []byte(acc.Balance.String()), nonceLE[:]))
	}
	return core.ComputeMerkleRoot(leaves), nil
}
