package staking

import (
	"encoding/json"
	"fmt"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/xerrors"
)

// Entry is a stake entry: owner's bond to a validator under a tier,
// bonded at a given epoch.
type Entry struct {
	Owner         core.Address
	Validator     core.Address
	Amount        uint64
	Tier          string
	BondedAtEpoch uint64
}

// Supply tracks the monotonic minted/burned counters backing total
// supply conservation.
type Supply struct {
	Initial uint64
	Minted  uint64
	Burned  uint64
}

func (s Supply) Total() uint64 { return s.Initial + s.Minted - s.Burned }

// Engine owns stake entries, keyed by (owner, validator), persisted in
// the warm store under stake/<owner>/<validator>, with an exit-delay
// lifecycle that enforces each tier's timed unbonding window.
type Engine struct {
	mu     sync.RWMutex
	store  storage.Store
	schema Schema
	entries map[string]*Entry // key: owner.Hex()+"/"+validator.Hex()
}

func NewEngine(store storage.Store, schema Schema) *Engine {
	return &Engine{store: store, schema: schema, entries: make(map[string]*Entry)}
}

func entryKey(owner, validator core.Address) string {
	return owner.Hex() + "/" + validator.Hex()
}

// Bond creates or increases a stake entry. tierName must belong to the
// engine's selected schema.
func (e *Engine) Bond(owner, validator core.Address, amount uint64, tierName string, epoch uint64) (*Entry, error) {
	if _, ok := Lookup(e.schema, tierName); !ok {
		return nil, xerrors.New(xerrors.Validation, "staking", fmt.Errorf("tier %q is not valid under schema %s", tierName, e.schema))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := entryKey(owner, validator)
	entry, ok := e.entries[key]
	if !ok {
		entry = &Entry{Owner: owner, Validator: validator, Tier: tierName, BondedAtEpoch: epoch}
		e.entries[key] = entry
	}
	entry.Amount += amount
	if err := e.persist(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unbond implements the unbonding rule: NoLock/Delegator unbond
// instantly; timed tiers only at or after bonded_at_epoch+lock_epochs;
// Permanent always rejects.
func (e *Engine) Unbond(owner, validator core.Address, amount uint64, currentEpoch uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := entryKey(owner, validator)
	entry, ok := e.entries[key]
	if !ok {
		return xerrors.New(xerrors.State, "staking", fmt.Errorf("no stake entry for %s/%s", owner.Hex(), validator.Hex()))
	}
	tier, ok := Lookup(e.schema, entry.Tier)
	if !ok {
		return xerrors.New(xerrors.Integrity, "staking", fmt.Errorf("stake entry has unknown tier %q", entry.Tier))
	}
	if tier.Permanent {
		return xerrors.New(xerrors.Validation, "staking", fmt.Errorf("tier %q rejects unbonding", entry.Tier))
	}
	if !tier.Instant && currentEpoch < entry.BondedAtEpoch+tier.LockEpochs {
		return xerrors.New(xerrors.Validation, "staking", fmt.Errorf("tier %q still locked until epoch %d", entry.Tier, entry.BondedAtEpoch+tier.LockEpochs))
	}
	if amount > entry.Amount {
		return xerrors.New(xerrors.Validation, "staking", fmt.Errorf("unbond amount %d exceeds staked %d", amount, entry.Amount))
	}
	entry.Amount -= amount
	if entry.Amount == 0 {
		delete(e.entries, key)
		return e.store.Delete(storage.StakeKey(owner.Hex(), validator.Hex()))
	}
	return e.persist(entry)
}

// SlashSelfStake reduces a validator's own (non-delegated) stake entries
// by the computed slash amount, never touching delegator entries. It
// returns the amount actually removed, which may be less than
// requested if self-stake is insufficient.
func (e *Engine) SlashSelfStake(validator core.Address, amount uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := entryKey(validator, validator) // self-stake entries are keyed owner==validator
	entry, ok := e.entries[key]
	if !ok {
		return 0, nil
	}
	removed := amount
	if removed > entry.Amount {
		removed = entry.Amount
	}
	entry.Amount -= removed
	if entry.Amount == 0 {
		delete(e.entries, key)
		if err := e.store.Delete(storage.StakeKey(validator.Hex(), validator.Hex())); err != nil {
			return removed, err
		}
		return removed, nil
	}
	return removed, e.persist(entry)
}

// AccrueRewards implements the per-epoch reward formula:
//
//	reward = amount * apy_bps * epoch_length_seconds / (10000 * seconds_per_year)
//
// Validator commission is taken from delegator rewards at
// commission_bps; the returned map is owner -> minted reward (after
// commission has been routed to the validator's own reward for
// delegator entries).
func (e *Engine) AccrueRewards(epochLengthSeconds uint64, commissionBpsOf func(validator core.Address) uint32) (map[core.Address]uint64, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rewards := make(map[core.Address]uint64)
	var totalMinted uint64
	for _, entry := range e.entries {
		tier, ok := Lookup(e.schema, entry.Tier)
		if !ok {
			continue
		}
		reward := entry.Amount * uint64(tier.APYBps) * epochLengthSeconds / (uint64(core.BpsDenominator) * uint64(core.SecondsPerYear))
		if reward == 0 {
			continue
		}
		if entry.Owner != entry.Validator {
			commissionBps := commissionBpsOf(entry.Validator)
			commission := reward * uint64(commissionBps) / uint64(core.BpsDenominator)
			rewards[entry.Validator] += commission
			rewards[entry.Owner] += reward - commission
		} else {
			rewards[entry.Owner] += reward
		}
		totalMinted += reward
	}
	return rewards, totalMinted, nil
}

// EffectiveStakeOf sums effective stake across every stake entry owned
// on behalf of validator (self plus delegated), for active-set ranking.
func (e *Engine) EffectiveStakeOf(validator core.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total uint64
	for _, entry := range e.entries {
		if entry.Validator != validator {
			continue
		}
		tier, ok := Lookup(e.schema, entry.Tier)
		if !ok {
			continue
		}
		total += EffectiveStake(entry.Amount, tier)
	}
	return total
}

type entryWire struct {
	Owner         string
	Validator     string
	Amount        uint64
	Tier          string
	BondedAtEpoch uint64
}

func (e *Engine) persist(entry *Entry) error {
	wire := entryWire{
		Owner: entry.Owner.Hex(), Validator: entry.Validator.Hex(),
		Amount: entry.Amount, Tier: entry.Tier, BondedAtEpoch: entry.BondedAtEpoch,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return e.store.Put(storage.StakeKey(entry.Owner.Hex(), entry.Validator.Hex()), raw)
}

// LoadAll reads every stake entry from storage into memory, used at
// node startup.
func (e *Engine) LoadAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Iterate([]byte("stake/"), func(_, value []byte) bool {
		var wire entryWire
		if err := json.Unmarshal(value, &wire); err != nil {
			return true
		}
		owner, err1 := core.AddressFromHex(wire.Owner)
		validator, err2 := core.AddressFromHex(wire.Validator)
		if err1 != nil || err2 != nil {
			return true
		}
		entry := &Entry{Owner: owner, Validator: validator, Amount: wire.Amount, Tier: wire.Tier, BondedAtEpoch: wire.BondedAtEpoch}
		e.entries[entryKey(owner, validator)] = entry
		return true
	})
}
