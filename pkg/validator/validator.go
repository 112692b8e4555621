// Package validator implements the validator record, the bounded
// active set, and epoch-boundary rotation. Promotion into the active
// set is an effective-stake rank gate against a registry map keyed by
// pubkey, with each record carrying a simple {Active, Standby, Jailed}
// status.
package validator

import (
	"encoding/json"
	"sort"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
)

type Status string

const (
	Active  Status = "Active"
	Standby Status = "Standby"
	Jailed  Status = "Jailed"
)

// Record is a validator's on-chain state.
type Record struct {
	Pubkey              core.Address
	SelfStake           uint64
	CommissionBps       uint32
	Status              Status
	MissedBlockCounter  uint64
	LastActiveEpoch     uint64
	PerformanceScore    uint32
	JailedAtEpoch       uint64
}

// Set keeps validator records in a pubkey-keyed map and the active set
// in a dense slice ordered by rank position plus a pubkey->index map,
// per the "arena + index" design note —
// rebuilt wholesale at each epoch boundary rather than mutated
// incrementally, avoiding a pointer graph across rotations.
type Set struct {
	mu      sync.RWMutex
	store   storage.Store
	records map[core.Address]*Record
	active  []core.Address // ranked, length <= maxValidators
	index   map[core.Address]int

	maxValidators uint32
	minStake      uint64
	jailEpochs    uint64
}

func NewSet(store storage.Store, maxValidators uint32, minStake uint64, jailEpochs uint64) *Set {
	return &Set{
		store: store, records: make(map[core.Address]*Record),
		index: make(map[core.Address]int),
		maxValidators: maxValidators, minStake: minStake, jailEpochs: jailEpochs,
	}
}

func (s *Set) Get(pubkey core.Address) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[pubkey]
	return r, ok
}

// Upsert registers or updates a validator record, persisting it
// immediately.
func (s *Set) Upsert(r *Record) error {
	s.mu.Lock()
	s.records[r.Pubkey] = r
	s.mu.Unlock()
	return s.persist(r)
}

// ActiveSet returns the current ranked active set (read-only snapshot).
func (s *Set) ActiveSet() []core.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Address, len(s.active))
	copy(out, s.active)
	return out
}

// ProposerFor implements the deterministic round-robin:
// active_set[(height+round) mod |active_set|].
func (s *Set) ProposerFor(height uint64, round uint32) (core.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.active) == 0 {
		return core.Address{}, false
	}
	idx := (height + uint64(round)) % uint64(len(s.active))
	return s.active[idx], true
}

// EffectiveStakeFn computes a validator's ranking weight: self stake
// plus delegated stake, both scaled by tier vote-weight, summed by the
// staking engine. Injected to avoid a staking<->validator import cycle.
type EffectiveStakeFn func(pubkey core.Address) uint64

// RotationEvent is emitted for every status transition at an epoch
// boundary.
type RotationEvent struct {
	Pubkey core.Address
	Kind   string // "ValidatorActivated" | "ValidatorDeactivated"
}

// Rotate runs the epoch-boundary ranking: non-jailed validators with
// self_stake >= min_stake are ranked by effective stake descending (ties
// by pubkey ascending); the top maxValidators become Active, the rest
// Standby. Jailed validators past jail_epochs become eligible again as
// Standby.
func (s *Set) Rotate(epoch uint64, effectiveStake EffectiveStakeFn) []RotationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevActive := make(map[core.Address]bool, len(s.active))
	for _, a := range s.active {
		prevActive[a] = true
	}

	type candidate struct {
		pubkey core.Address
		weight uint64
	}
	var candidates []candidate
	for pk, r := range s.records {
		if r.Status == Jailed {
			if epoch >= r.JailedAtEpoch+s.jailEpochs {
				r.Status = Standby
			} else {
				continue
			}
		}
		if r.SelfStake < s.minStake {
			continue
		}
		candidates = append(candidates, candidate{pubkey: pk, weight: effectiveStake(pk)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].weight != candidates[j].weight {
			return candidates[i].weight > candidates[j].weight
		}
		return candidates[i].pubkey.Less(candidates[j].pubkey)
	})

	cap := int(s.maxValidators)
	if cap > len(candidates) {
		cap = len(candidates)
	}

	newActive := make([]core.Address, 0, cap)
	newIndex := make(map[core.Address]int, cap)
	var events []RotationEvent
	for i, c := range candidates {
		rec := s.records[c.pubkey]
		if i < cap {
			newActive = append(newActive, c.pubkey)
			newIndex[c.pubkey] = i
			rec.LastActiveEpoch = epoch
			if rec.Status != Active {
				rec.Status = Active
				events = append(events, RotationEvent{Pubkey: c.pubkey, Kind: "ValidatorActivated"})
			} else if !prevActive[c.pubkey] {
				events = append(events, RotationEvent{Pubkey: c.pubkey, Kind: "ValidatorActivated"})
			}
		} else {
			if rec.Status == Active {
				rec.Status = Standby
				events = append(events, RotationEvent{Pubkey: c.pubkey, Kind: "ValidatorDeactivated"})
			} else {
				rec.Status = Standby
			}
		}
		_ = s.persist(rec)
	}
	s.active = newActive
	s.index = newIndex
	return events
}

// Jail transitions a validator to Jailed status.
func (s *Set) Jail(pubkey core.Address, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[pubkey]
	if !ok {
		return nil
	}
	r.Status = Jailed
	r.JailedAtEpoch = epoch
	if idx, ok := s.index[pubkey]; ok {
		s.active = append(s.active[:idx], s.active[idx+1:]...)
		delete(s.index, pubkey)
		for a, i := range s.index {
			if i > idx {
				s.index[a] = i - 1
			}
		}
	}
	return s.persist(r)
}

func (s *Set) Count() (active, standby, jailed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		switch r.Status {
		case Active:
			active++
		case Standby:
			standby++
		case Jailed:
			jailed++
		}
	}
	return
}

func (s *Set) persist(r *Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.store.Put(storage.ValidatorKey(r.Pubkey.Hex()), raw)
}

// LoadAll reads every validator record from storage at startup.
func (s *Set) LoadAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Iterate(storage.ValidatorPrefix, func(_, value []byte) bool {
		var r Record
		if err := json.Unmarshal(value, &r); err != nil {
			return true
		}
		rec := r
		s.records[rec.Pubkey] = &rec
		if rec.Status == Active {
			s.active = append(s.active, rec.Pubkey)
		}
		return true
	})
}
