// Package node wires every other package into one running process: it
// owns the storage tiers, the chain/state/validator/staking/slashing
// engines, the block executor, the mempool, the BFT driver loop, the
// P2P transport, and the RPC server, and translates bft.Machine's pure
// Actions into the I/O each one requires.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"trv-chain/pkg/bft"
	"trv-chain/pkg/chain"
	"trv-chain/pkg/core"
	"trv-chain/pkg/exec"
	"trv-chain/pkg/genesis"
	"trv-chain/pkg/mempool"
	"trv-chain/pkg/p2p"
	"trv-chain/pkg/reward"
	"trv-chain/pkg/rpc"
	"trv-chain/pkg/slashing"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/utils"
	"trv-chain/pkg/validator"
	"trv-chain/pkg/xerrors"
)

// Config carries everything the node needs that isn't derivable from
// the genesis file: local identity, storage location, and bind ports.
type Config struct {
	DataDir    string
	Self       core.Address
	PrivateKey ed25519.PrivateKey // signs this node's own votes; Self must be AddressFromPubKey(PrivateKey.Public())
	P2PPort    int
	RPCPort    int
	MetricsDir string
}

// Node owns one validator's full process: consensus, execution,
// storage, and the two network-facing servers.
type Node struct {
	log *zap.Logger

	hot   *storage.HotStore
	warm  *storage.WarmStore
	chain *chain.Chain

	state      *state.State
	validators *validator.Set
	staking    *staking.Engine
	evidence   *slashing.Pool
	deployers  *reward.Registry
	executor   *exec.Executor
	mempool    *mempool.Mempool

	net    *p2p.Network
	rpc    *rpc.Server
	health *utils.HealthMonitor

	genesisFile *genesis.File
	self        core.Address
	privateKey  ed25519.PrivateKey

	mu      sync.Mutex
	machine *bft.Machine
	timers  map[timerKey]*time.Timer
}

type timerKey struct {
	height uint64
	round  uint32
	step   bft.Step
}

// mempoolBacklogWarn is the pending-transaction count above which the
// mempool health check reports degraded rather than healthy.
const mempoolBacklogWarn = 5000

// Open constructs every component and seeds genesis state on a node
// with an empty chain.
func Open(log *zap.Logger, cfg Config, gf *genesis.File) (*Node, error) {
	warm, err := storage.OpenWarmStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open warm store: %w", err)
	}
	hot, err := storage.NewHotStore(warm, 4096)
	if err != nil {
		return nil, fmt.Errorf("open hot store: %w", err)
	}

	ch, err := chain.Open(hot)
	if err != nil {
		return nil, fmt.Errorf("open chain: %w", err)
	}
	st := state.New(hot)
	vs := validator.NewSet(hot, gf.ChainParams.MaxValidators, gf.ChainParams.MinStake, gf.ChainParams.JailEpochs)
	stk := staking.NewEngine(hot, gf.Schema())
	evidence := slashing.NewPool(hot, gf.ChainParams.EvidenceWindowEpochs*gf.ChainParams.EpochLength)
	deployers := reward.NewRegistry(hot)

	if err := vs.LoadAll(); err != nil {
		return nil, fmt.Errorf("load validators: %w", err)
	}
	if err := stk.LoadAll(); err != nil {
		return nil, fmt.Errorf("load stake entries: %w", err)
	}
	if err := evidence.LoadAll(); err != nil {
		return nil, fmt.Errorf("load evidence pool: %w", err)
	}
	if err := deployers.LoadAll(); err != nil {
		return nil, fmt.Errorf("load deployer registry: %w", err)
	}

	var initialSupply uint64
	if _, ok := ch.LatestBlock(); !ok {
		initialSupply, err = seedGenesis(st, vs, stk, gf)
		if err != nil {
			return nil, fmt.Errorf("seed genesis: %w", err)
		}
	} else {
		initialSupply = gf.ChainParams.MinStake // placeholder lower bound; Supply.Initial only matters at genesis
	}

	params, err := gf.ExecParams()
	if err != nil {
		return nil, fmt.Errorf("derive exec params: %w", err)
	}
	ex := exec.New(log, st, stk, vs, evidence, deployers, params, initialSupply, gf.ChainParams.BaseFeeFloor)

	net, err := p2p.New(log, cfg.P2PPort)
	if err != nil {
		return nil, fmt.Errorf("start p2p network: %w", err)
	}

	mp := mempool.New(
		func(tx *core.Transaction) {
			raw, _ := json.Marshal(tx)
			_ = net.Publish(p2p.TopicTx, raw)
		},
		func(hash core.Hash) {},
	)

	rpcServer := rpc.New(log, ch, st, mp, vs, stk, ex, cfg.RPCPort)

	n := &Node{
		log: log, hot: hot, warm: warm, chain: ch,
		state: st, validators: vs, staking: stk, evidence: evidence, deployers: deployers,
		executor: ex, mempool: mp, net: net, rpc: rpcServer,
		health:      utils.NewHealthMonitor(log, 30*time.Second),
		genesisFile: gf, self: cfg.Self, privateKey: cfg.PrivateKey,
		machine: bft.New(),
		timers:  make(map[timerKey]*time.Timer),
	}

	if len(vs.ActiveSet()) == 0 {
		vs.Rotate(0, stk.EffectiveStakeOf)
	}

	n.registerHealthChecks()
	n.wireNetwork()
	return n, nil
}

// registerHealthChecks wires the chain head, peer count, and mempool
// backlog into the periodic health monitor.
func (n *Node) registerHealthChecks() {
	n.health.RegisterComponent("chain", func() (utils.HealthStatus, string) {
		if _, ok := n.chain.LatestHeight(); !ok {
			return utils.StatusDegraded, "no blocks committed yet"
		}
		return utils.StatusHealthy, ""
	})
	n.health.RegisterComponent("p2p", func() (utils.HealthStatus, string) {
		peers := n.net.PeerCount()
		if peers == 0 {
			return utils.StatusDegraded, "no connected peers"
		}
		return utils.StatusHealthy, fmt.Sprintf("%d peers", peers)
	})
	n.health.RegisterComponent("mempool", func() (utils.HealthStatus, string) {
		size := n.mempool.Size()
		if size >= mempoolBacklogWarn {
			return utils.StatusDegraded, fmt.Sprintf("%d pending transactions", size)
		}
		return utils.StatusHealthy, ""
	})
}

func seedGenesis(st *state.State, vs *validator.Set, stk *staking.Engine, gf *genesis.File) (uint64, error) {
	var totalStake uint64
	for _, acc := range gf.Accounts {
		addr, err := core.AddressFromHex(acc.AddressHex)
		if err != nil {
			return 0, fmt.Errorf("genesis account %q: %w", acc.AddressHex, err)
		}
		if err := st.ApplyUpdate(addr, &core.Account{Balance: new(big.Int).SetUint64(acc.Balance)}); err != nil {
			return 0, err
		}
	}
	for _, v := range gf.Validators {
		pub, err := core.AddressFromHex(v.PubkeyHex)
		if err != nil {
			return 0, fmt.Errorf("genesis validator %q: %w", v.PubkeyHex, err)
		}
		if err := vs.Upsert(&validator.Record{
			Pubkey: pub, SelfStake: v.SelfStake, CommissionBps: v.CommissionBps, Status: validator.Standby,
		}); err != nil {
			return 0, err
		}
		if _, err := stk.Bond(pub, pub, v.SelfStake, v.Tier, 0); err != nil {
			return 0, fmt.Errorf("bond genesis self-stake for %q: %w", v.PubkeyHex, err)
		}
		totalStake += v.SelfStake
	}
	return totalStake, nil
}

func (n *Node) wireNetwork() {
	_, _ = n.net.Subscribe(p2p.TopicTx, func(payload []byte) {
		var tx core.Transaction
		if err := json.Unmarshal(payload, &tx); err != nil {
			return
		}
		if err := n.mempool.Admit(&tx, stateAccountView{n.state}, n.executor.BaseFee()); err != nil {
			n.log.Debug("rejected gossiped transaction", zap.Error(err))
		}
	})
	_, _ = n.net.Subscribe(p2p.TopicConsensusProposal, func(payload []byte) {
		var p wireProposal
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		n.dispatch(func(ctx bft.RoundContext) []bft.Action {
			return n.machine.OnProposal(p.toProposal(), ctx)
		})
	})
	_, _ = n.net.Subscribe(p2p.TopicConsensusVote, func(payload []byte) {
		var v bft.Vote
		if err := json.Unmarshal(payload, &v); err != nil {
			return
		}
		if !v.Verify() {
			n.log.Debug("dropped vote with invalid signature", zap.String("voter", v.Voter.Hex()))
			return
		}
		n.dispatch(func(ctx bft.RoundContext) []bft.Action {
			return n.machine.OnVote(v, ctx)
		})
	})
}

type stateAccountView struct{ st *state.State }

func (a stateAccountView) NonceOf(addr core.Address) uint64 {
	acc, err := a.st.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Nonce
}

func (a stateAccountView) BalanceOf(addr core.Address) uint64 {
	acc, err := a.st.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Balance.Uint64()
}

// wireProposal is Proposal's wire form: core.Block already round-trips
// through JSON, so only the envelope needs a named type here.
type wireProposal struct {
	Height     uint64
	Round      uint32
	Block      *core.Block
	ValidRound int64
	Proposer   core.Address
}

func (w wireProposal) toProposal() bft.Proposal {
	return bft.Proposal{Height: w.Height, Round: w.Round, Block: w.Block, ValidRound: w.ValidRound, Proposer: w.Proposer}
}

// Run starts the block-height-driven consensus loop and blocks until
// ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	go func() {
		if err := n.rpc.Start(); err != nil {
			n.log.Warn("rpc server stopped", zap.Error(err))
		}
	}()
	n.health.StartPeriodicChecks()

	n.dispatch(func(rctx bft.RoundContext) []bft.Action {
		return n.machine.EnterNewRound(rctx)
	})

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = n.rpc.Stop(shutdownCtx)
	_ = n.net.Close()
	_ = n.hot.Close()
	return nil
}

func (n *Node) roundContext() bft.RoundContext {
	active := n.validators.ActiveSet()
	power := make(map[core.Address]uint64, len(active))
	var total uint64
	for _, a := range active {
		w := n.staking.EffectiveStakeOf(a)
		power[a] = w
		total += w
	}
	return bft.RoundContext{ActiveSet: active, VotingPower: power, TotalVotingPower: total, Self: n.self}
}

// dispatch runs produce under the node's lock against a fresh round
// context and carries out every Action it returns.
func (n *Node) dispatch(produce func(bft.RoundContext) []bft.Action) {
	n.mu.Lock()
	defer n.mu.Unlock()
	actions := produce(n.roundContext())
	n.perform(actions)
}

func (n *Node) perform(actions []bft.Action) {
	for _, a := range actions {
		switch a.Kind {
		case bft.ActionProposeBlock:
			n.performPropose(a)
		case bft.ActionCastVote:
			n.performCastVote(a)
		case bft.ActionCommitBlock:
			n.performCommit(a)
		case bft.ActionScheduleTimeout:
			n.performScheduleTimeout(a)
		case bft.ActionEmitEvidence:
			if err := n.evidence.Submit(a.Evidence); err != nil {
				n.log.Warn("evidence submission failed", zap.Error(err))
			}
		}
	}
}

func (n *Node) performPropose(a bft.Action) {
	var block *core.Block
	if a.Reuse != nil {
		block = a.Reuse
	} else {
		block = n.buildBlock(a.Height)
	}
	raw, err := json.Marshal(wireProposal{Height: a.Height, Round: a.Round, Block: block, ValidRound: a.ValidRound, Proposer: n.self})
	if err != nil {
		n.log.Warn("marshal proposal", zap.Error(err))
		return
	}
	if err := n.net.Publish(p2p.TopicConsensusProposal, raw); err != nil {
		n.log.Warn("publish proposal", zap.Error(err))
	}
	more := n.machine.OnProposal(bft.Proposal{Height: a.Height, Round: a.Round, Block: block, ValidRound: a.ValidRound, Proposer: n.self}, n.roundContext())
	n.perform(more)
}

// buildBlock assembles a candidate block from the mempool and previews
// its effect against a throwaway overlay universe — a full parallel
// set of state/staking/validator/evidence/deployer instances backed by
// a copy-on-write Overlay over the warm store — so the header's
// StateRoot reflects what committing this exact block would produce
// without mutating any canonical component ahead of consensus.
func (n *Node) buildBlock(height uint64) *core.Block {
	maxGas := n.genesisFile.ChainParams.TargetGasPerBlock * n.genesisFile.ChainParams.ElasticityMultiplier
	txs := n.mempool.Retrieve(maxGas, n.executor.BaseFee())

	header := core.BlockHeader{
		Height: height, TimestampUnix: time.Now().Unix(),
		Proposer: n.self, TxMerkleRoot: core.TxMerkleRoot(txs),
	}
	if parent, ok := n.chain.LatestBlock(); ok {
		header.ParentHash = parent.Hash()
	}
	block := &core.Block{Header: header, Transactions: txs}

	result, err := n.previewApply(block, height)
	if err != nil {
		n.log.Warn("preview apply for proposal failed, proposing empty block", zap.Error(err))
		block.Transactions = nil
		block.Header.TxMerkleRoot = core.TxMerkleRoot(nil)
		result, err = n.previewApply(block, height)
		if err != nil {
			n.log.Error("preview apply for empty block also failed", zap.Error(err))
			return block
		}
	}
	block.Header.StateRoot = result.StateRoot
	return block
}

// previewApply replays block against a fresh overlay-backed copy of
// every stateful component, leaving the canonical copies untouched.
func (n *Node) previewApply(block *core.Block, height uint64) (exec.Result, error) {
	overlay := storage.NewOverlay(n.hot)

	previewState := state.New(overlay)
	previewStaking := staking.NewEngine(overlay, n.genesisFile.Schema())
	previewValidators := validator.NewSet(overlay, n.genesisFile.ChainParams.MaxValidators, n.genesisFile.ChainParams.MinStake, n.genesisFile.ChainParams.JailEpochs)
	previewEvidence := slashing.NewPool(overlay, n.genesisFile.ChainParams.EvidenceWindowEpochs*n.genesisFile.ChainParams.EpochLength)
	previewDeployers := reward.NewRegistry(overlay)

	if err := previewStaking.LoadAll(); err != nil {
		return exec.Result{}, err
	}
	if err := previewValidators.LoadAll(); err != nil {
		return exec.Result{}, err
	}
	if err := previewEvidence.LoadAll(); err != nil {
		return exec.Result{}, err
	}
	if err := previewDeployers.LoadAll(); err != nil {
		return exec.Result{}, err
	}
	if len(previewValidators.ActiveSet()) == 0 {
		previewValidators.Rotate(0, previewStaking.EffectiveStakeOf)
	}

	previewExecutor := exec.New(n.log, previewState, previewStaking, previewValidators, previewEvidence, previewDeployers,
		n.executor.Params(), n.executor.Supply().Initial, n.executor.BaseFee())
	result, err := previewExecutor.ApplyBlock(block, n.epochOf(height))
	if err != nil && block.Header.StateRoot.IsZero() {
		// A candidate carries no StateRoot yet, so ApplyBlock's final root
		// check fails after every state change has reached the overlay.
		// Read the root off the overlay and replay with it filled in; the
		// replay fails again if the error came from any earlier check.
		root, rootErr := previewState.StateRoot()
		if rootErr != nil || root.IsZero() {
			return result, err
		}
		candidate := *block
		candidate.Header.StateRoot = root
		return n.previewApply(&candidate, height)
	}
	return result, err
}

func (n *Node) epochOf(height uint64) uint64 {
	return height / n.genesisFile.ChainParams.EpochLength
}

func (n *Node) performCastVote(a bft.Action) {
	vote := a.Vote
	vote.Sign(n.privateKey)
	raw, err := json.Marshal(vote)
	if err != nil {
		return
	}
	if err := n.net.Publish(p2p.TopicConsensusVote, raw); err != nil {
		n.log.Warn("publish vote", zap.Error(err))
	}
}

func (n *Node) performCommit(a bft.Action) {
	activeBeforeCommit := n.validators.ActiveSet()

	result, err := n.executor.ApplyBlock(a.Block, n.epochOf(a.Block.Header.Height))
	if err != nil {
		if kind, ok := xerrors.KindOf(err); ok && kind == xerrors.Validation {
			n.recordInvalidBlock(a.Block, err)
		}
		n.log.Error("block commit failed, refusing to advance", zap.Error(err))
		return
	}
	if err := n.chain.PutBlock(a.Block); err != nil {
		n.log.Error("persist committed block failed", zap.Error(err))
		return
	}
	n.mempool.EvictCommitted(a.Block.Transactions, stateAccountView{n.state})
	n.recordMissedBlocks(a.Block.Header.Height, activeBeforeCommit, a.Voters)
	n.log.Info("committed block",
		zap.Uint64("height", a.Block.Header.Height),
		zap.Uint64("next_base_fee", result.NextBaseFee),
		zap.Int("slash_events", len(result.SlashEvents)),
	)

	more := n.machine.EnterNewRound(n.roundContext())
	n.perform(more)
}

// recordInvalidBlock submits InvalidBlock evidence against a block's
// proposer when the executor rejects an already-precommitted block: a
// quorum agreed on the block's hash, but execution itself found it
// malformed, which is only possible if the proposer built it
// dishonestly.
func (n *Node) recordInvalidBlock(block *core.Block, cause error) {
	ev := slashing.Evidence{
		Offender: block.Header.Proposer, Kind: slashing.InvalidBlock, Height: block.Header.Height,
		Detail: cause.Error(),
	}
	ev.Hash = ev.ComputeHash()
	if err := n.evidence.Submit(ev); err != nil {
		n.log.Warn("invalid-block evidence submission failed", zap.Error(err))
	}
}

// recordMissedBlocks charges every validator active at height that did
// not contribute a precommit to the committing quorum with a missed
// block, resets the streak for everyone who did, and submits Downtime
// evidence once a validator's streak crosses the threshold.
func (n *Node) recordMissedBlocks(height uint64, active, voters []core.Address) {
	voted := make(map[core.Address]bool, len(voters))
	for _, v := range voters {
		voted[v] = true
	}
	for _, addr := range active {
		rec, ok := n.validators.Get(addr)
		if !ok {
			continue
		}
		if voted[addr] {
			if rec.MissedBlockCounter == 0 {
				continue
			}
			rec.MissedBlockCounter = 0
			if err := n.validators.Upsert(rec); err != nil {
				n.log.Warn("reset missed-block counter failed", zap.Error(err), zap.String("validator", addr.Hex()))
			}
			continue
		}
		rec.MissedBlockCounter++
		if err := n.validators.Upsert(rec); err != nil {
			n.log.Warn("increment missed-block counter failed", zap.Error(err), zap.String("validator", addr.Hex()))
			continue
		}
		if rec.MissedBlockCounter < core.DowntimeMissedBlockThreshold {
			continue
		}
		ev := slashing.Evidence{
			Offender: addr, Kind: slashing.Downtime, Height: height,
			Detail: fmt.Sprintf("missed %d consecutive blocks", rec.MissedBlockCounter),
		}
		ev.Hash = ev.ComputeHash()
		if err := n.evidence.Submit(ev); err != nil {
			n.log.Warn("downtime evidence submission failed", zap.Error(err))
			continue
		}
		rec.MissedBlockCounter = 0
		if err := n.validators.Upsert(rec); err != nil {
			n.log.Warn("reset missed-block counter after downtime evidence failed", zap.Error(err), zap.String("validator", addr.Hex()))
		}
	}
}

func (n *Node) performScheduleTimeout(a bft.Action) {
	key := timerKey{height: a.Height, round: a.Round, step: a.TimeoutStep}
	if existing, ok := n.timers[key]; ok {
		existing.Stop()
	}
	d := bft.Deadline(a.TimeoutStep, a.Round)
	n.timers[key] = time.AfterFunc(d, func() {
		n.dispatch(func(ctx bft.RoundContext) []bft.Action {
			return n.machine.OnTimeout(a.Height, a.Round, a.TimeoutStep, ctx)
		})
	})
}
