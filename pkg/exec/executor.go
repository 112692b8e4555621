// Package exec implements the deterministic block executor, wiring
// together state, fees, staking, the validator set, slashing, and
// developer-share attribution for one committed block.
// Signature verification fans out one goroutine per transaction over an
// indexed results slice; the debit/credit/nonce loop that follows runs
// strictly sequentially to keep state transitions deterministic.
package exec

import (
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"trv-chain/pkg/core"
	"trv-chain/pkg/fees"
	"trv-chain/pkg/reward"
	"trv-chain/pkg/slashing"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/validator"
	"trv-chain/pkg/xerrors"
)

// Params configures one Executor, sourced from genesis chain_params.
type Params struct {
	Fees               fees.Params
	Treasury           core.Address
	EpochLength        uint64
	EpochLengthSeconds uint64
}

// Executor applies committed blocks to state. It owns no
// consensus logic — bft.Machine decides what commits, Executor decides
// what that commit does to the ledger.
type Executor struct {
	log *zap.Logger

	state      *state.State
	staking    *staking.Engine
	validators *validator.Set
	evidence   *slashing.Pool
	deployers  *reward.Registry

	params Params
	supply staking.Supply

	baseFee uint64
}

func New(log *zap.Logger, st *state.State, stk *staking.Engine, vs *validator.Set, pool *slashing.Pool, deployers *reward.Registry, params Params, initialSupply, initialBaseFee uint64) *Executor {
	return &Executor{
		log: log, state: st, staking: stk, validators: vs, evidence: pool, deployers: deployers,
		params: params, supply: staking.Supply{Initial: initialSupply}, baseFee: initialBaseFee,
	}
}

// Result summarizes the effect of applying one block, for logging and
// for the RPC server's read path.
type Result struct {
	GasUsed     uint64
	FeeTotal    uint64
	Split       fees.Split
	SlashEvents []slashing.SlashEvent
	Rotations   []validator.RotationEvent
	NextBaseFee uint64
	StateRoot   core.Hash
}

// BaseFee returns the base fee the next block must be built against.
func (e *Executor) BaseFee() uint64 { return e.baseFee }

// Supply returns a snapshot of the monotonic supply counters.
func (e *Executor) Supply() staking.Supply { return e.supply }

// Params returns the genesis-derived parameter set this Executor was
// constructed with, so a preview executor can be built with the same
// configuration.
func (e *Executor) Params() Params { return e.params }

// ApplyBlock applies every step of block execution in order — signature
// verification, per-tx debit/credit/nonce, fee routing, reward accrual,
// slashing, epoch rotation, and state-root verification — against
// block, built for the given epoch. A bad signature, a nonce mismatch,
// a balance below amount+fee, or a state-root mismatch rejects the
// whole block with a Validation-kind error; a failing transaction is
// not skipped on its own while the rest of the block applies. A
// storage read or write failure returns an Integrity-kind error.
func (e *Executor) ApplyBlock(block *core.Block, epoch uint64) (Result, error) {
	if err := verifySignatures(block.Transactions); err != nil {
		return Result{}, xerrors.New(xerrors.Validation, "exec", err)
	}

	var gasUsed, feeTotal uint64
	var burnTotal, validatorTotal, treasuryTotal uint64
	developerCredits := make(map[core.Address]uint64)

	for _, tx := range block.Transactions {
		acc, err := e.state.GetAccount(tx.From)
		if err != nil {
			return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
		}
		if tx.Nonce != acc.Nonce {
			return Result{}, xerrors.New(xerrors.Validation, "exec", fmt.Errorf("tx %s: nonce mismatch: have %d want %d", tx.Hash().Hex(), tx.Nonce, acc.Nonce))
		}

		gas := tx.GasUsed()
		fee := e.baseFee * gas
		total := new(big.Int).SetUint64(tx.Amount + fee)
		if !acc.CanSpend(total) {
			return Result{}, xerrors.New(xerrors.Validation, "exec", fmt.Errorf("tx %s: balance %s below amount+fee %s", tx.Hash().Hex(), acc.Balance.String(), total.String()))
		}

		acc.Balance.Sub(acc.Balance, total)
		acc.Nonce++
		if err := e.state.ApplyUpdate(tx.From, acc); err != nil {
			return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
		}

		toAcc, err := e.state.GetAccount(tx.To)
		if err != nil {
			return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
		}
		toAcc.Balance.Add(toAcc.Balance, new(big.Int).SetUint64(tx.Amount))
		if err := e.state.ApplyUpdate(tx.To, toAcc); err != nil {
			return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
		}

		if tx.IsContractDeployment() {
			if err := e.deployers.ObserveTransaction(tx); err != nil {
				return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
			}
		}

		// Fee routing is per-transaction, not per-block: developer-share
		// attribution keys off each transaction's own `to` address, and
		// splitting each fee individually still satisfies the
		// block-level conservation sum.
		// since a sum of exactly-conserved splits conserves the total.
		ratios := e.params.Fees.RatiosAt(epoch)
		split := fees.SplitFee(fee, ratios)
		burnTotal += split.Burn
		validatorTotal += split.Validator
		treasuryTotal += split.Treasury

		developer, devAmount, toTreasury := e.deployers.AttributeDeveloperShare(tx.To, split.Developer)
		if devAmount > 0 {
			developerCredits[developer] += devAmount
		}
		treasuryTotal += toTreasury

		gasUsed += gas
		feeTotal += fee
	}

	if err := e.creditBucket(block.Header.Proposer, validatorTotal); err != nil {
		return Result{}, err
	}
	if err := e.creditBucket(e.params.Treasury, treasuryTotal); err != nil {
		return Result{}, err
	}
	for addr, amount := range developerCredits {
		if err := e.creditBucket(addr, amount); err != nil {
			return Result{}, err
		}
	}
	e.supply.Burned += burnTotal

	rewards, minted, err := e.staking.AccrueRewards(e.params.EpochLengthSeconds, e.commissionBpsOf)
	if err != nil {
		return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
	}
	for addr, amount := range rewards {
		if err := e.creditBucket(addr, amount); err != nil {
			return Result{}, err
		}
	}
	e.supply.Minted += minted

	slashEvents, err := e.processSlashing(block.Header.Height, epoch)
	if err != nil {
		return Result{}, err
	}

	var rotations []validator.RotationEvent
	if block.Header.Height > 0 && block.Header.Height%e.params.EpochLength == 0 {
		rotations = e.validators.Rotate(epoch, e.staking.EffectiveStakeOf)
	}

	root, err := e.state.StateRoot()
	if err != nil {
		return Result{}, xerrors.New(xerrors.Integrity, "exec", err)
	}
	if root != block.Header.StateRoot {
		return Result{}, xerrors.New(xerrors.Validation, "exec", fmt.Errorf("state root mismatch: computed %s, header claims %s", root.Hex(), block.Header.StateRoot.Hex()))
	}

	nextBaseFee := e.params.Fees.NextBaseFee(e.baseFee, gasUsed)
	e.baseFee = nextBaseFee

	e.log.Info("applied block",
		zap.Uint64("height", block.Header.Height),
		zap.Int("tx_count", len(block.Transactions)),
		zap.Uint64("gas_used", gasUsed),
		zap.Uint64("fee_total", feeTotal),
		zap.Uint64("next_base_fee", nextBaseFee),
		zap.Int("slash_events", len(slashEvents)),
		zap.Int("rotations", len(rotations)),
	)

	return Result{
		GasUsed:     gasUsed,
		FeeTotal:    feeTotal,
		Split:       fees.Split{Burn: burnTotal, Validator: validatorTotal, Treasury: treasuryTotal},
		SlashEvents: slashEvents,
		Rotations:   rotations,
		NextBaseFee: nextBaseFee,
		StateRoot:   root,
	}, nil
}

func (e *Executor) creditBucket(addr core.Address, amount uint64) error {
	if amount == 0 || addr.IsZero() {
		return nil
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return xerrors.New(xerrors.Integrity, "exec", err)
	}
	acc.Balance.Add(acc.Balance, new(big.Int).SetUint64(amount))
	if err := e.state.ApplyUpdate(addr, acc); err != nil {
		return xerrors.New(xerrors.Integrity, "exec", err)
	}
	return nil
}

func (e *Executor) commissionBpsOf(val core.Address) uint32 {
	rec, ok := e.validators.Get(val)
	if !ok {
		return 0
	}
	return rec.CommissionBps
}

// processSlashing drains the evidence pool's dedup window, then
// apply every still-pending piece of evidence.
func (e *Executor) processSlashing(height, epoch uint64) ([]slashing.SlashEvent, error) {
	e.evidence.DrainExpired(height)
	pending := e.evidence.Pending()
	if len(pending) == 0 {
		return nil, nil
	}
	events := make([]slashing.SlashEvent, 0, len(pending))
	for _, ev := range pending {
		rec, ok := e.validators.Get(ev.Offender)
		selfStake := uint64(0)
		if ok {
			selfStake = rec.SelfStake
		}
		result, err := slashing.Process(ev, selfStake, epoch, e.staking.SlashSelfStake, e.validators.Jail)
		if err != nil {
			return nil, xerrors.New(xerrors.Integrity, "exec", err)
		}
		e.supply.Burned += result.Amount
		if ok {
			rec.SelfStake -= result.Amount
			if err := e.validators.Upsert(rec); err != nil {
				return nil, xerrors.New(xerrors.Integrity, "exec", err)
			}
		}
		e.evidence.MarkProcessed(ev.Hash, height)
		events = append(events, result)
	}
	return events, nil
}

// verifySignatures fans signature checks out across goroutines, since
// verification has no shared mutable state and the order transactions
// are checked in does not affect the outcome.
func verifySignatures(txs []*core.Transaction) error {
	results := make([]bool, len(txs))
	var wg sync.WaitGroup
	for i, tx := range txs {
		wg.Add(1)
		go func(idx int, t *core.Transaction) {
			defer wg.Done()
			results[idx] = t.Verify()
		}(i, tx)
	}
	wg.Wait()
	for i, ok := range results {
		if !ok {
			return fmt.Errorf("tx %s: invalid signature", txs[i].Hash().Hex())
		}
	}
	return nil
}
