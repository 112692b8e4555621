// Package reward routes the Developer fee-split bucket to contract
// deployers. A Registry maps contract address to deployer address,
// persisted with the same marshal-to-JSON-then-Store.Put shape used
// throughout pkg/staking and pkg/validator.
package reward

import (
	"encoding/json"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
)

// Registry maps a deployed contract address to the address that
// deployed it, built by observing transactions whose Data payload
// carries the deployment marker.
type Registry struct {
	mu        sync.RWMutex
	store     storage.Store
	deployers map[core.Address]core.Address // contract address -> deployer
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store, deployers: make(map[core.Address]core.Address)}
}

// ObserveTransaction records tx.To as deployed-by tx.From when tx carries
// the 0xC0 0xDE deployment marker.
func (r *Registry) ObserveTransaction(tx *core.Transaction) error {
	if !tx.IsContractDeployment() {
		return nil
	}
	r.mu.Lock()
	r.deployers[tx.To] = tx.From
	r.mu.Unlock()
	return r.persist(tx.To, tx.From)
}

// DeployerOf returns the address that deployed contract, if known.
func (r *Registry) DeployerOf(contract core.Address) (core.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployers[contract]
	return d, ok
}

// AttributeDeveloperShare implements the default resolution: the
// transaction's `to` address determines the recipient of the
// Developer bucket; if no deployer is recorded, the portion belongs to
// Treasury instead.
func (r *Registry) AttributeDeveloperShare(to core.Address, amount uint64) (developer core.Address, developerAmount, treasuryAmount uint64) {
	if d, ok := r.DeployerOf(to); ok {
		return d, amount, 0
	}
	return core.Address{}, 0, amount
}

type wire struct {
	Contract string
	Deployer string
}

func deployerKey(contract core.Address) []byte {
	return []byte("deployer/" + contract.Hex())
}

func (r *Registry) persist(contract, deployer core.Address) error {
	raw, err := json.Marshal(wire{Contract: contract.Hex(), Deployer: deployer.Hex()})
	if err != nil {
		return err
	}
	return r.store.Put(deployerKey(contract), raw)
}

// LoadAll reads every known deployer mapping from storage at startup.
func (r *Registry) LoadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Iterate([]byte("deployer/"), func(_, value []byte) bool {
		var w wire
		if err := json.Unmarshal(value, &w); err != nil {
			return true
		}
		contract, err1 := core.AddressFromHex(w.Contract)
		deployer, err2 := core.AddressFromHex(w.Deployer)
		if err1 != nil || err2 != nil {
			return true
		}
		r.deployers[contract] = deployer
		return true
	})
}
