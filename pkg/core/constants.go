package core

import "time"

// BFT timeout base/step values.
const (
	TimeoutProposeBase   = 3000 * time.Millisecond
	TimeoutProposeStep   = 500 * time.Millisecond
	TimeoutPrevoteBase   = 1000 * time.Millisecond
	TimeoutPrevoteStep   = 500 * time.Millisecond
	TimeoutPrecommitBase = 1000 * time.Millisecond
	TimeoutPrecommitStep = 500 * time.Millisecond
)

// Default chain parameters, overridable per genesis file.
const (
	DefaultEpochLength         = 10_000
	DefaultBlockTimeMs         = 3_000
	DefaultMaxValidators       = 200
	DefaultBaseFeeFloor        = 1
	DefaultTargetGasPerBlock   = 15_000_000
	DefaultElasticityMultiplier = 8
	DefaultMinStake            = 1_000_000
	DefaultJailEpochs          = 1
	DefaultEvidenceWindowEpochs = 2
	DefaultFeeBurnBps      = 4000
	DefaultFeeValidatorBps = 3000
	DefaultFeeTreasuryBps  = 2000
	DefaultFeeDeveloperBps = 1000
	DefaultTransitionEpochs = 1825

	BpsDenominator = 10000
)

// Slash fractions in basis points of self_stake.
const (
	SlashBpsDoubleSign   = 500
	SlashBpsDowntime     = 100
	SlashBpsInvalidBlock = 1000

	DowntimeMissedBlockThreshold = 100
)

// SecondsPerYear anchors the reward-accrual formula.
const SecondsPerYear = 365 * 24 * 60 * 60
