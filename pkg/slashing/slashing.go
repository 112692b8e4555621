// Package slashing implements the evidence pool and slash computation:
// deduplicated {DoubleSign, Downtime, InvalidBlock} offenses, each
// reducing the offender's self-stake only — delegators are never
// touched.
package slashing

import (
	"encoding/json"
	"fmt"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/xerrors"
)

type OffenseKind string

const (
	DoubleSign   OffenseKind = "DoubleSign"
	Downtime     OffenseKind = "Downtime"
	InvalidBlock OffenseKind = "InvalidBlock"
)

// SlashBps returns the basis-point fraction of self_stake burned for
// kind.
func SlashBps(kind OffenseKind) uint32 {
	switch kind {
	case DoubleSign:
		return core.SlashBpsDoubleSign
	case Downtime:
		return core.SlashBpsDowntime
	case InvalidBlock:
		return core.SlashBpsInvalidBlock
	default:
		return 0
	}
}

// Evidence is a submitted offense record, keyed by its own hash for
// pool deduplication.
type Evidence struct {
	Hash      core.Hash
	Offender  core.Address
	Kind      OffenseKind
	Height    uint64
	Detail    string // e.g. "(h,r,step)" tuple for DoubleSign, free text otherwise
}

// ComputeHash derives the dedup key deterministically from the
// evidence's identifying fields, so two independent observers submitting
// the same offense collide on the same hash.
func (e Evidence) ComputeHash() core.Hash {
	var heightLE [8]byte
	for i := 0; i < 8; i++ {
		heightLE[i] = byte(e.Height >> (8 * i))
	}
	return core.SumSHA256(e.Offender[:], []byte(e.Kind), heightLE[:], []byte(e.Detail))
}

// SlashEvent records the effect of processing one piece of evidence.
type SlashEvent struct {
	Offender     core.Address
	Kind         OffenseKind
	Amount       uint64
	Height       uint64
	EvidenceHash core.Hash
}

// Pool is the evidence pool: deduplicated by hash, pruned by age.
type Pool struct {
	mu              sync.Mutex
	store           storage.Store
	pending         map[core.Hash]Evidence
	processed       map[core.Hash]uint64 // hash -> height processed, retained for the dedup window
	evidenceWindow  uint64
}

func NewPool(store storage.Store, evidenceWindowBlocks uint64) *Pool {
	return &Pool{
		store: store, evidenceWindow: evidenceWindowBlocks,
		pending: make(map[core.Hash]Evidence), processed: make(map[core.Hash]uint64),
	}
}

// Submit adds evidence to the pool, rejecting duplicates (pending or
// already processed within the dedup window).
func (p *Pool) Submit(ev Evidence) error {
	if ev.Hash.IsZero() {
		ev.Hash = ev.ComputeHash()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[ev.Hash]; ok {
		return nil
	}
	if _, ok := p.processed[ev.Hash]; ok {
		return nil
	}
	p.pending[ev.Hash] = ev
	raw, err := json.Marshal(wireEvidence(ev))
	if err != nil {
		return err
	}
	return p.store.Put(storage.EvidenceKey(ev.Hash.Hex()), raw)
}

// DrainExpired discards pending evidence older than the dedup window
// relative to currentHeight, returning the discarded hashes.
func (p *Pool) DrainExpired(currentHeight uint64) []core.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []core.Hash
	for h, ev := range p.pending {
		if currentHeight > ev.Height+p.evidenceWindow {
			expired = append(expired, h)
			delete(p.pending, h)
		}
	}
	for h, at := range p.processed {
		if currentHeight > at+p.evidenceWindow {
			delete(p.processed, h)
		}
	}
	return expired
}

// Pending returns a snapshot of all pending evidence, used by the block
// executor's post-transaction slashing pass.
func (p *Pool) Pending() []Evidence {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Evidence, 0, len(p.pending))
	for _, ev := range p.pending {
		out = append(out, ev)
	}
	return out
}

// MarkProcessed removes evidence from pending and records it in the
// processed set for the remainder of the dedup window, so replays of
// the same evidence_hash are rejected by Submit.
func (p *Pool) MarkProcessed(hash core.Hash, height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, hash)
	p.processed[hash] = height
}

// SelfStakeSlasher is the staking engine's self-stake reduction,
// injected to avoid a slashing<->staking import cycle.
type SelfStakeSlasher func(offender core.Address, amount uint64) (uint64, error)

// Jailer is the validator set's jail transition, injected for the same
// reason.
type Jailer func(offender core.Address, epoch uint64) error

// Process applies one piece of evidence's effect: compute the
// slash amount from the offender's current self_stake, burn it via
// slashSelfStake, jail the offender, and return the resulting
// SlashEvent. selfStake is the offender's self_stake BEFORE slashing.
func Process(ev Evidence, selfStake uint64, currentEpoch uint64, slashSelfStake SelfStakeSlasher, jail Jailer) (SlashEvent, error) {
	bps := SlashBps(ev.Kind)
	if bps == 0 {
		return SlashEvent{}, xerrors.New(xerrors.Integrity, "slashing", fmt.Errorf("unknown offense kind %q", ev.Kind))
	}
	amount := selfStake * uint64(bps) / uint64(core.BpsDenominator)
	removed, err := slashSelfStake(ev.Offender, amount)
	if err != nil {
		return SlashEvent{}, xerrors.New(xerrors.State, "slashing", err)
	}
	if err := jail(ev.Offender, currentEpoch); err != nil {
		return SlashEvent{}, xerrors.New(xerrors.State, "slashing", err)
	}
	return SlashEvent{
		Offender: ev.Offender, Kind: ev.Kind, Amount: removed,
		Height: ev.Height, EvidenceHash: ev.Hash,
	}, nil
}

type wireEvidenceT struct {
	Hash     string
	Offender string
	Kind     string
	Height   uint64
	Detail   string
}

func wireEvidence(ev Evidence) wireEvidenceT {
	return wireEvidenceT{
		Hash: ev.Hash.Hex(), Offender: ev.Offender.Hex(),
		Kind: string(ev.Kind), Height: ev.Height, Detail: ev.Detail,
	}
}

// LoadAll reads pending evidence from storage at startup.
func (p *Pool) LoadAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Iterate(storage.EvidencePrefix, func(_, value []byte) bool {
		var w wireEvidenceT
		if err := json.Unmarshal(value, &w); err != nil {
			return true
		}
		hash, err1 := core.HashFromHex(w.Hash)
		offender, err2 := core.AddressFromHex(w.Offender)
		if err1 != nil || err2 != nil {
			return true
		}
		ev := Evidence{Hash: hash, Offender: offender, Kind: OffenseKind(w.Kind), Height: w.Height, Detail: w.Detail}
		p.pending[hash] = ev
		return true
	})
}
