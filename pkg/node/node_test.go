package node

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"go.uber.org/zap"

	"trv-chain/pkg/chain"
	"trv-chain/pkg/core"
	"trv-chain/pkg/exec"
	"trv-chain/pkg/genesis"
	"trv-chain/pkg/mempool"
	"trv-chain/pkg/reward"
	"trv-chain/pkg/slashing"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/validator"
	"trv-chain/pkg/xerrors"
)

// testFixture builds every storage-backed component node.Open would,
// against a temp-dir warm store, without ever starting a p2p host — the
// pieces under test here (seedGenesis, buildBlock, previewApply) never
// touch the network.
type testFixture struct {
	gf         *genesis.File
	validator  core.Address
	validators *validator.Set
	staking    *staking.Engine
	evidence   *slashing.Pool
	deployers  *reward.Registry
	state      *state.State
	chain      *chain.Chain
	hot        *storage.HotStore
}

func newTestFixture(t *testing.T) (*testFixture, ed25519.PrivateKey) {
	t.Helper()

	warm, err := storage.OpenWarmStore(t.TempDir())
	if err != nil {
		t.Fatalf("open warm store: %v", err)
	}
	hot, err := storage.NewHotStore(warm, 256)
	if err != nil {
		t.Fatalf("open hot store: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate validator key: %v", err)
	}
	valAddr, err := core.AddressFromPubKey(pub)
	if err != nil {
		t.Fatalf("derive validator address: %v", err)
	}
	treasuryPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate treasury key: %v", err)
	}
	treasury, err := core.AddressFromPubKey(treasuryPub)
	if err != nil {
		t.Fatalf("derive treasury address: %v", err)
	}

	gf := genesis.New("test-chain", 0, treasury)
	gf.AddValidator(valAddr.Hex(), 2_000_000, 500, "NoLock")
	gf.AddAccount(valAddr.Hex(), 1_000_000)

	ch, err := chain.Open(hot)
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	st := state.New(hot)
	vs := validator.NewSet(hot, gf.ChainParams.MaxValidators, gf.ChainParams.MinStake, gf.ChainParams.JailEpochs)
	stk := staking.NewEngine(hot, gf.Schema())
	evidence := slashing.NewPool(hot, gf.ChainParams.EvidenceWindowEpochs*gf.ChainParams.EpochLength)
	deployers := reward.NewRegistry(hot)

	if _, err := seedGenesis(st, vs, stk, gf); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}
	vs.Rotate(0, stk.EffectiveStakeOf)

	return &testFixture{
		gf: gf, validator: valAddr, validators: vs, staking: stk,
		evidence: evidence, deployers: deployers, state: st, chain: ch, hot: hot,
	}, priv
}

func (f *testFixture) newNode(t *testing.T) *Node {
	t.Helper()
	params, err := f.gf.ExecParams()
	if err != nil {
		t.Fatalf("derive exec params: %v", err)
	}
	ex := exec.New(zap.NewNop(), f.state, f.staking, f.validators, f.evidence, f.deployers,
		params, 1_010_000, f.gf.ChainParams.BaseFeeFloor)
	mp := mempool.New(func(*core.Transaction) {}, func(core.Hash) {})

	return &Node{
		log: zap.NewNop(), hot: f.hot, chain: f.chain,
		state: f.state, validators: f.validators, staking: f.staking,
		evidence: f.evidence, deployers: f.deployers, executor: ex, mempool: mp,
		genesisFile: f.gf, self: f.validator,
	}
}

func TestSeedGenesisCreditsAccountsAndBondsSelfStake(t *testing.T) {
	f, _ := newTestFixture(t)

	acc, err := f.state.GetAccount(f.validator)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Uint64() != 1_000_000 {
		t.Fatalf("want balance 1000000, got %s", acc.Balance.String())
	}

	rec, ok := f.validators.Get(f.validator)
	if !ok {
		t.Fatalf("validator record missing after seeding")
	}
	if rec.SelfStake != 2_000_000 {
		t.Fatalf("want self-stake 2000000, got %d", rec.SelfStake)
	}

	if got := f.staking.EffectiveStakeOf(f.validator); got == 0 {
		t.Fatalf("want nonzero effective stake after bonding")
	}

	active := f.validators.ActiveSet()
	if len(active) != 1 || active[0] != f.validator {
		t.Fatalf("want the sole validator active after rotation, got %v", active)
	}
}

func TestBuildBlockIsDeterministicAndDoesNotMutateCanonicalState(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)

	rootBefore, err := f.state.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	activeBefore := len(f.validators.ActiveSet())
	stakeBefore := f.staking.EffectiveStakeOf(f.validator)

	block1 := n.buildBlock(1)
	block2 := n.buildBlock(1)

	if block1.Header.StateRoot.IsZero() {
		t.Fatalf("built block has a zero state root")
	}
	if block1.Header.StateRoot != block2.Header.StateRoot {
		t.Fatalf("two previews of the same height produced different state roots: %s vs %s",
			block1.Header.StateRoot.Hex(), block2.Header.StateRoot.Hex())
	}

	got, err := f.state.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	if got != rootBefore {
		t.Fatalf("canonical state root mutated by a proposal preview: before=%s after=%s",
			rootBefore.Hex(), got.Hex())
	}
	if got := len(f.validators.ActiveSet()); got != activeBefore {
		t.Fatalf("canonical active set size mutated by a proposal preview: before=%d after=%d",
			activeBefore, got)
	}
	if got := f.staking.EffectiveStakeOf(f.validator); got != stakeBefore {
		t.Fatalf("canonical effective stake mutated by a proposal preview: before=%d after=%d",
			stakeBefore, got)
	}
}

func TestBuildBlockWithEmptyMempoolIsWellFormed(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)

	block := n.buildBlock(1)
	if block.Header.Height != 1 {
		t.Fatalf("want height 1, got %d", block.Header.Height)
	}
	if block.Header.Proposer != n.self {
		t.Fatalf("want proposer %s, got %s", n.self.Hex(), block.Header.Proposer.Hex())
	}
	if len(block.Transactions) != 0 {
		t.Fatalf("want no transactions in an empty mempool, got %d", len(block.Transactions))
	}
}

func TestEpochOf(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)

	epochLen := f.gf.ChainParams.EpochLength
	if got := n.epochOf(0); got != 0 {
		t.Fatalf("want epoch 0 at height 0, got %d", got)
	}
	if got := n.epochOf(epochLen); got != 1 {
		t.Fatalf("want epoch 1 at height %d, got %d", epochLen, got)
	}
}

func TestStateAccountView(t *testing.T) {
	f, _ := newTestFixture(t)
	view := stateAccountView{f.state}

	if got := view.BalanceOf(f.validator); got != 1_000_000 {
		t.Fatalf("want balance 1000000, got %d", got)
	}
	if got := view.NonceOf(f.validator); got != 0 {
		t.Fatalf("want nonce 0, got %d", got)
	}

	unknown := core.Address{}
	if got := view.BalanceOf(unknown); got != 0 {
		t.Fatalf("want balance 0 for an unseen address, got %d", got)
	}
}

func TestRecordMissedBlocksEmitsDowntimeEvidenceAtThreshold(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)
	active := []core.Address{f.validator}

	// the validator casts no precommit for any of these heights.
	for h := uint64(1); h < core.DowntimeMissedBlockThreshold; h++ {
		n.recordMissedBlocks(h, active, nil)
	}
	if len(f.evidence.Pending()) != 0 {
		t.Fatalf("downtime evidence submitted before crossing the threshold")
	}

	n.recordMissedBlocks(core.DowntimeMissedBlockThreshold, active, nil)

	var found bool
	for _, ev := range f.evidence.Pending() {
		if ev.Offender == f.validator && ev.Kind == slashing.Downtime {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected downtime evidence once the missed-block streak crossed the threshold")
	}

	rec, ok := f.validators.Get(f.validator)
	if !ok {
		t.Fatalf("validator record missing")
	}
	if rec.MissedBlockCounter != 0 {
		t.Fatalf("expected missed-block counter reset after emitting evidence, got %d", rec.MissedBlockCounter)
	}
}

func TestRecordMissedBlocksResetsStreakOnVote(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)
	active := []core.Address{f.validator}

	n.recordMissedBlocks(1, active, nil)
	n.recordMissedBlocks(2, active, nil)
	rec, _ := f.validators.Get(f.validator)
	if rec.MissedBlockCounter != 2 {
		t.Fatalf("want missed-block counter 2, got %d", rec.MissedBlockCounter)
	}

	n.recordMissedBlocks(3, active, []core.Address{f.validator})
	rec, _ = f.validators.Get(f.validator)
	if rec.MissedBlockCounter != 0 {
		t.Fatalf("want missed-block counter reset to 0 after a precommit, got %d", rec.MissedBlockCounter)
	}
}

func TestRecordInvalidBlockEmitsEvidenceAgainstTheProposer(t *testing.T) {
	f, _ := newTestFixture(t)
	n := f.newNode(t)

	block := &core.Block{Header: core.BlockHeader{Height: 5, Proposer: f.validator}}
	n.recordInvalidBlock(block, xerrors.New(xerrors.Validation, "exec", errors.New("state root mismatch")))

	var found bool
	for _, ev := range f.evidence.Pending() {
		if ev.Offender == f.validator && ev.Kind == slashing.InvalidBlock && ev.Height == 5 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected invalid-block evidence recorded against the proposer")
	}
}
