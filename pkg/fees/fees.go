// Package fees implements the EIP-1559-style base-fee update rule and
// the four-way fee split with exact integer conservation. A small
// manager holds the chain's fee configuration and exposes pure
// adjustment functions over it.
package fees

// Split identifies the four fee destinations.
type Split struct {
	Burn      uint64
	Validator uint64
	Treasury  uint64
	Developer uint64
}

// BpsRatios is a four-way basis-point split that must sum to 10000.
type BpsRatios struct {
	BurnBps      uint32
	ValidatorBps uint32
	TreasuryBps  uint32
	DeveloperBps uint32
}

func (r BpsRatios) Sum() uint32 {
	return r.BurnBps + r.ValidatorBps + r.TreasuryBps + r.DeveloperBps
}

// Params configures the engine; set once from genesis chain_params.
type Params struct {
	BaseFeeFloor          uint64
	TargetGasPerBlock     uint64
	ElasticityMultiplier  uint64

	// Fixed split, used when Interpolated is false.
	Fixed BpsRatios

	// Epoch-interpolated split, used when Interpolated is true.
	Interpolated     bool
	LaunchRatios     BpsRatios
	MaturityRatios   BpsRatios
	TransitionEpochs uint64
}

// NextBaseFee implements the base-fee update rule:
//
//	delta = base_fee * (used - target) / target / elasticity
//	new_base_fee = max(base_fee_floor, base_fee + delta)
//
// Integer division truncates toward zero; a minimum change of ±1 is
// applied when used != target and the computed |delta| rounds to 0, to
// avoid the rate stalling. Per the Open Question decision in DESIGN.md,
// `used` is the gas actually consumed by the block just executed.
func (p Params) NextBaseFee(baseFee, used uint64) uint64 {
	target := int64(p.TargetGasPerBlock)
	if target == 0 {
		return max64(p.BaseFeeFloor, baseFee)
	}
	elasticity := int64(p.ElasticityMultiplier)
	if elasticity == 0 {
		elasticity = 1
	}

	usedI := int64(used)
	baseFeeI := int64(baseFee)
	diff := usedI - target

	delta := truncDiv(truncDiv(baseFeeI*diff, target), elasticity)
	if diff != 0 && delta == 0 {
		if diff > 0 {
			delta = 1
		} else {
			delta = -1
		}
	}

	next := baseFeeI + delta
	if next < int64(p.BaseFeeFloor) {
		next = int64(p.BaseFeeFloor)
	}
	if next < 0 {
		next = 0
	}
	return uint64(next)
}

// truncDiv performs integer division truncating toward zero (Go's /
// already does this for integers; the helper documents the intent at
// call sites).
func truncDiv(a, b int64) int64 {
	return a / b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// RatiosAt returns the split ratios effective at epoch e: the fixed
// ratios, or a linear interpolation between launch and maturity ratios
// capped at TransitionEpochs.
func (p Params) RatiosAt(epoch uint64) BpsRatios {
	if !p.Interpolated {
		return p.Fixed
	}
	e := epoch
	if e > p.TransitionEpochs {
		e = p.TransitionEpochs
	}
	interp := func(launch, maturity uint32) uint32 {
		if p.TransitionEpochs == 0 {
			return maturity
		}
		delta := int64(maturity) - int64(launch)
		return uint32(int64(launch) + delta*int64(e)/int64(p.TransitionEpochs))
	}
	return BpsRatios{
		BurnBps:      interp(p.LaunchRatios.BurnBps, p.MaturityRatios.BurnBps),
		ValidatorBps: interp(p.LaunchRatios.ValidatorBps, p.MaturityRatios.ValidatorBps),
		TreasuryBps:  interp(p.LaunchRatios.TreasuryBps, p.MaturityRatios.TreasuryBps),
		DeveloperBps: interp(p.LaunchRatios.DeveloperBps, p.MaturityRatios.DeveloperBps),
	}
}

// SplitFee implements the canonical conservation rule: each
// non-burn bucket receives floor(F*bps/10000), and burn absorbs the
// remainder so the buckets sum to F exactly, even when burn's own bps is
// zero.
func SplitFee(f uint64, r BpsRatios) Split {
	validator := f * uint64(r.ValidatorBps) / 10000
	treasury := f * uint64(r.TreasuryBps) / 10000
	developer := f * uint64(r.DeveloperBps) / 10000
	burn := f - validator - treasury - developer
	return Split{Burn: burn, Validator: validator, Treasury: treasury, Developer: developer}
}
