// Package mempool implements pending-transaction admission, indexing,
// and proposer retrieval ordering. Transactions are indexed by
// (from, nonce) and by tx hash and ranked by base-fee-per-gas estimate;
// broadcast/request hooks are injected as callbacks so the mempool
// never imports a transport package directly.
package mempool

import (
	"bytes"
	"sort"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/xerrors"
)

// AccountView answers the admission checks' nonce/balance questions
// without requiring the mempool to import pkg/state directly, keeping
// it unit-testable against a fake.
type AccountView interface {
	NonceOf(addr core.Address) uint64
	BalanceOf(addr core.Address) uint64 // in smallest unit, must fit uint64 for comparison purposes
}

// BroadcastFunc announces a newly-admitted transaction to peers.
// RequestTxFunc asks peers for a transaction by hash. Both are supplied
// by the node process at startup.
// — the mempool never imports the P2P boundary package.
type BroadcastFunc func(tx *core.Transaction)
type RequestTxFunc func(hash core.Hash)

type entry struct {
	tx        *core.Transaction
	hash      core.Hash
	estFee    uint64
}

// Mempool holds pending transactions indexed by (from,nonce) and by
// hash.
type Mempool struct {
	mu        sync.RWMutex
	byHash    map[core.Hash]*entry
	byAccount map[core.Address]map[uint64]*entry // from -> nonce -> entry

	broadcast BroadcastFunc
	requestTx RequestTxFunc
}

func New(broadcast BroadcastFunc, requestTx RequestTxFunc) *Mempool {
	return &Mempool{
		byHash:    make(map[core.Hash]*entry),
		byAccount: make(map[core.Address]map[uint64]*entry),
		broadcast: broadcast,
		requestTx: requestTx,
	}
}

// Admit runs the admission checks and inserts tx if they pass,
// broadcasting it to peers on success.
func (m *Mempool) Admit(tx *core.Transaction, accounts AccountView, baseFeePerGas uint64) error {
	if !tx.Verify() {
		return xerrors.New(xerrors.Validation, "mempool", errInvalidSignature)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := tx.Hash()
	if _, ok := m.byHash[hash]; ok {
		return nil // already present, not an error
	}

	currentNonce := accounts.NonceOf(tx.From)
	if tx.Nonce < currentNonce {
		return xerrors.New(xerrors.Validation, "mempool", errStaleNonce)
	}

	estFee := tx.GasUsed() * baseFeePerGas
	if accounts.BalanceOf(tx.From) < tx.Amount+estFee {
		return xerrors.New(xerrors.Validation, "mempool", errInsufficientBalance)
	}

	e := &entry{tx: tx, hash: hash, estFee: estFee}
	m.byHash[hash] = e
	if m.byAccount[tx.From] == nil {
		m.byAccount[tx.From] = make(map[uint64]*entry)
	}
	m.byAccount[tx.From][tx.Nonce] = e

	if m.broadcast != nil {
		m.broadcast(tx)
	}
	return nil
}

// RequestMissing asks peers for hash via the injected RequestTxFunc, for
// transactions referenced by a proposal but not locally held.
func (m *Mempool) RequestMissing(hash core.Hash) {
	if m.requestTx != nil {
		m.requestTx(hash)
	}
}

// Has reports whether hash is currently pending.
func (m *Mempool) Has(hash core.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byHash[hash]
	return ok
}

// Get returns the pending transaction for hash, if present.
func (m *Mempool) Get(hash core.Hash) (*core.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Retrieve returns up to maxGas worth of pending transactions for
// proposal, ordered by (fee_per_gas desc, nonce asc, tx_hash asc). Every
// transaction currently pays the same protocol base fee, so fee_per_gas
// is uniform across the pool and the ordering degenerates to
// (nonce asc, hash asc) — the field is retained for a future
// priority-fee extension.
func (m *Mempool) Retrieve(maxGas uint64, baseFeePerGas uint64) []*core.Transaction {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		fi, fj := feePerGas(entries[i].tx, baseFeePerGas), feePerGas(entries[j].tx, baseFeePerGas)
		if fi != fj {
			return fi > fj
		}
		if entries[i].tx.Nonce != entries[j].tx.Nonce {
			return entries[i].tx.Nonce < entries[j].tx.Nonce
		}
		return bytes.Compare(entries[i].hash[:], entries[j].hash[:]) < 0
	})

	var out []*core.Transaction
	var used uint64
	for _, e := range entries {
		g := e.tx.GasUsed()
		if used+g > maxGas {
			continue
		}
		used += g
		out = append(out, e.tx)
	}
	return out
}

func feePerGas(tx *core.Transaction, baseFeePerGas uint64) uint64 {
	return baseFeePerGas
}

// EvictCommitted removes every transaction included in a committed
// block, plus any remaining transaction from the same sender whose
// nonce is now stale.
func (m *Mempool) EvictCommitted(included []*core.Transaction, accounts AccountView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range included {
		m.removeLocked(tx.From, tx.Nonce)
	}
	for from, byNonce := range m.byAccount {
		currentNonce := accounts.NonceOf(from)
		for nonce := range byNonce {
			if nonce < currentNonce {
				m.removeLocked(from, nonce)
			}
		}
	}
}

func (m *Mempool) removeLocked(from core.Address, nonce uint64) {
	byNonce, ok := m.byAccount[from]
	if !ok {
		return
	}
	e, ok := byNonce[nonce]
	if !ok {
		return
	}
	delete(byNonce, nonce)
	if len(byNonce) == 0 {
		delete(m.byAccount, from)
	}
	delete(m.byHash, e.hash)
}

func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

var (
	errInvalidSignature    = simpleError("invalid transaction signature")
	errStaleNonce          = simpleError("nonce below account nonce")
	errInsufficientBalance = simpleError("insufficient balance for amount plus estimated fee")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }
