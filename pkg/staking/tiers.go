// Package staking implements lock tiers, reward accrual, and effective
// stake / vote-weight computation. A chain selects one tier schema at
// genesis load; DESIGN.md records Schema A as authoritative.
package staking

// Schema identifies which of the two tier tables is authoritative for a
// chain, chosen once at genesis load.
type Schema string

const (
	SchemaA Schema = "A"
	SchemaB Schema = "B"
)

// Tier is a lock-tier definition: its lock duration, its APY in basis
// points and its vote-weight multiplier (x1000).
type Tier struct {
	Name         string
	LockEpochs   uint64 // 0 = instant unbond, permanent tiers use Permanent=true
	Permanent    bool
	APYBps       uint32
	VoteWeightX1000 uint32
	Instant      bool // NoLock/Delegator-style instant unbond
}

// TiersA is Schema A ("bonus APY"): base_apy_bps=500 plus a per-tier bonus.
var TiersA = map[string]Tier{
	"NoLock":     {Name: "NoLock", Instant: true, APYBps: 500, VoteWeightX1000: 1000},
	"ThreeMonth": {Name: "ThreeMonth", LockEpochs: 90, APYBps: 600, VoteWeightX1000: 1500},
	"SixMonth":   {Name: "SixMonth", LockEpochs: 180, APYBps: 700, VoteWeightX1000: 2000},
	"OneYear":    {Name: "OneYear", LockEpochs: 365, APYBps: 800, VoteWeightX1000: 3000},
	"Permanent":  {Name: "Permanent", Permanent: true, APYBps: 1000, VoteWeightX1000: 5000},
}

// TiersB is Schema B ("rate-percent"): seven tiers earning a fraction of
// a 500-bps validator rate.
var TiersB = map[string]Tier{
	"NoLock":        {Name: "NoLock", Instant: true, APYBps: 25, VoteWeightX1000: 0},
	"ThirtyDay":     {Name: "ThirtyDay", LockEpochs: 30, APYBps: 50, VoteWeightX1000: 100},
	"NinetyDay":     {Name: "NinetyDay", LockEpochs: 90, APYBps: 100, VoteWeightX1000: 200},
	"OneEightyDay":  {Name: "OneEightyDay", LockEpochs: 180, APYBps: 150, VoteWeightX1000: 300},
	"ThreeSixtyDay": {Name: "ThreeSixtyDay", LockEpochs: 360, APYBps: 250, VoteWeightX1000: 500},
	"Delegator":     {Name: "Delegator", Instant: true, APYBps: 500, VoteWeightX1000: 1000},
	"Permanent":     {Name: "Permanent", Permanent: true, APYBps: 600, VoteWeightX1000: 1500},
}

func TiersFor(schema Schema) map[string]Tier {
	if schema == SchemaB {
		return TiersB
	}
	return TiersA
}

// Lookup resolves tierName under schema, returning ok=false if the name
// belongs to the other schema (or is unknown) — the genesis/bond-time
// rejection named in the Open Question decision.
func Lookup(schema Schema, tierName string) (Tier, bool) {
	t, ok := TiersFor(schema)[tierName]
	return t, ok
}

// EffectiveStake implements effective = raw * vote_weight_x1000 / 1000.
func EffectiveStake(raw uint64, tier Tier) uint64 {
	return raw * uint64(tier.VoteWeightX1000) / 1000
}
