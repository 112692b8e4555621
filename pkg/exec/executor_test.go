package exec

import (
	"crypto/ed25519"
	"math/big"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"trv-chain/pkg/core"
	"trv-chain/pkg/fees"
	"trv-chain/pkg/reward"
	"trv-chain/pkg/slashing"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/validator"
)

// ed25519Pair is a signer fixture for transactions in executor tests.
type ed25519Pair struct {
	Address    core.Address
	PrivateKey ed25519.PrivateKey
}

func newEd25519Pair(t *testing.T) ed25519Pair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := core.AddressFromPubKey(pub)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	return ed25519Pair{Address: addr, PrivateKey: priv}
}

func (p ed25519Pair) Sign(tx *core.Transaction) {
	tx.Sign(p.PrivateKey)
}

// memStore is a minimal in-memory storage.Store fake for executor tests.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}
func (m *memStore) Put(key, value []byte) error {
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}
func (m *memStore) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}
func (m *memStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), m.data[k]) {
			break
		}
	}
	return nil
}
func (m *memStore) Close() error { return nil }

func testAddr(b byte) core.Address {
	var a core.Address
	a[0] = b
	return a
}

func newTestExecutor(t *testing.T) (*Executor, *state.State, ed25519Pair) {
	t.Helper()
	store := newMemStore()
	st := state.New(store)
	stk := staking.NewEngine(store, staking.SchemaA)
	vs := validator.NewSet(store, 10, 1_000_000, 1)
	pool := slashing.NewPool(store, 20_000)
	deployers := reward.NewRegistry(store)

	params := Params{
		Fees: fees.Params{
			BaseFeeFloor:         1,
			TargetGasPerBlock:    1_000_000,
			ElasticityMultiplier: 8,
			Fixed:                fees.BpsRatios{BurnBps: 4000, ValidatorBps: 3000, TreasuryBps: 2000, DeveloperBps: 1000},
		},
		Treasury:           testAddr(0xFE),
		EpochLength:        10000,
		EpochLengthSeconds: 600,
	}
	ex := New(zap.NewNop(), st, stk, vs, pool, deployers, params, 0, 1)
	pair := newEd25519Pair(t)
	return ex, st, pair
}

func TestApplyBlock_EmptyBlock(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	block := &core.Block{Header: core.BlockHeader{Height: 0, Proposer: testAddr(1)}}
	root, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	block.Header.StateRoot = root

	result, err := ex.ApplyBlock(block, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.GasUsed != 0 || result.FeeTotal != 0 {
		t.Fatalf("expected zero gas/fee for an empty block, got %+v", result)
	}
}

func TestApplyBlock_SimpleTransfer(t *testing.T) {
	ex, st, pair := newTestExecutor(t)

	from := pair.Address
	to := testAddr(2)
	fromAcc, _ := st.GetAccount(from)
	fromAcc.Balance = big.NewInt(1_000_000)
	if err := st.ApplyUpdate(from, fromAcc); err != nil {
		t.Fatal(err)
	}

	tx := &core.Transaction{From: from, To: to, Amount: 1000, Nonce: 0}
	pair.Sign(tx)

	block := &core.Block{
		Header:       core.BlockHeader{Height: 0, Proposer: testAddr(9)},
		Transactions: []*core.Transaction{tx},
	}
	gas := tx.GasUsed()
	fee := ex.BaseFee() * gas
	wantFromBal := big.NewInt(1_000_000)
	wantFromBal.Sub(wantFromBal, big.NewInt(int64(1000+fee)))

	// compute expected state root by applying manually through a scratch state
	scratch := state.New(newMemStore())
	scratchFrom, _ := scratch.GetAccount(from)
	scratchFrom.Balance = big.NewInt(1_000_000)
	scratch.ApplyUpdate(from, scratchFrom)
	scratchFrom.Balance.Sub(scratchFrom.Balance, big.NewInt(int64(1000+fee)))
	scratchFrom.Nonce = 1
	scratch.ApplyUpdate(from, scratchFrom)
	scratchTo, _ := scratch.GetAccount(to)
	scratchTo.Balance.Add(scratchTo.Balance, big.NewInt(1000))
	scratch.ApplyUpdate(to, scratchTo)
	creditFeeBuckets(t, scratch, fee, ex.params.Fees.RatiosAt(0), testAddr(9), ex.params.Treasury)
	scratchRoot, err := scratch.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	block.Header.StateRoot = scratchRoot

	result, err := ex.ApplyBlock(block, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FeeTotal != fee {
		t.Fatalf("fee total = %d, want %d", result.FeeTotal, fee)
	}

	gotFrom, _ := st.GetAccount(from)
	if gotFrom.Balance.Cmp(wantFromBal) != 0 {
		t.Fatalf("from balance = %s, want %s", gotFrom.Balance, wantFromBal)
	}
	if gotFrom.Nonce != 1 {
		t.Fatalf("from nonce = %d, want 1", gotFrom.Nonce)
	}
	gotTo, _ := st.GetAccount(to)
	if gotTo.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("to balance = %s, want 1000", gotTo.Balance)
	}
}

func TestApplyBlock_FeeSplitConservation(t *testing.T) {
	ex, st, pair := newTestExecutor(t)
	from := pair.Address
	fromAcc, _ := st.GetAccount(from)
	fromAcc.Balance = big.NewInt(10_000_000)
	st.ApplyUpdate(from, fromAcc)

	tx := &core.Transaction{From: from, To: testAddr(2), Amount: 1, Nonce: 0}
	pair.Sign(tx)
	block := &core.Block{Header: core.BlockHeader{Height: 0, Proposer: testAddr(9)}, Transactions: []*core.Transaction{tx}}

	fee := ex.BaseFee() * tx.GasUsed()
	ratios := ex.params.Fees.RatiosAt(0)
	split := fees.SplitFee(fee, ratios)
	if split.Burn+split.Validator+split.Treasury+split.Developer != fee {
		t.Fatalf("split does not conserve: %+v sums to %d, want %d", split, split.Burn+split.Validator+split.Treasury+split.Developer, fee)
	}

	// predict the post-execution state root against an independent scratch
	// state seeded identically, rather than mutating st (the executor's own
	// state) ahead of the real ApplyBlock call.
	scratch := state.New(newMemStore())
	scratchFrom, _ := scratch.GetAccount(from)
	scratchFrom.Balance = big.NewInt(10_000_000)
	scratch.ApplyUpdate(from, scratchFrom)
	creditFeeBuckets(t, scratch, fee, ratios, testAddr(9), ex.params.Treasury)
	root := computeRootAfter(t, scratch, tx, ex.BaseFee())
	block.Header.StateRoot = root

	result, err := ex.ApplyBlock(block, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := result.Split.Burn + result.Split.Validator + result.Split.Treasury
	devSum := result.FeeTotal - sum
	if sum+devSum != result.FeeTotal {
		t.Fatalf("block-level conservation violated: %+v + developer %d != fee total %d", result.Split, devSum, result.FeeTotal)
	}
}

func TestApplyBlock_RejectsBadSignature(t *testing.T) {
	ex, st, pair := newTestExecutor(t)
	from := pair.Address
	fromAcc, _ := st.GetAccount(from)
	fromAcc.Balance = big.NewInt(1_000_000)
	st.ApplyUpdate(from, fromAcc)

	tx := &core.Transaction{From: from, To: testAddr(2), Amount: 1000, Nonce: 0}
	// deliberately do not sign

	block := &core.Block{Header: core.BlockHeader{Height: 0, Proposer: testAddr(9)}, Transactions: []*core.Transaction{tx}}
	root, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	block.Header.StateRoot = root

	if _, err := ex.ApplyBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of an unsigned transaction")
	}
}

func TestApplyBlock_RejectsStateRootMismatch(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	block := &core.Block{Header: core.BlockHeader{Height: 0, Proposer: testAddr(9)}}
	var bogus core.Hash
	bogus[0] = 0xFF
	block.Header.StateRoot = bogus

	if _, err := ex.ApplyBlock(block, 0); err == nil {
		t.Fatalf("expected rejection on state root mismatch")
	}
}

func computeRootAfter(t *testing.T, st *state.State, tx *core.Transaction, baseFee uint64) core.Hash {
	t.Helper()
	fee := baseFee * tx.GasUsed()
	fromAcc, _ := st.GetAccount(tx.From)
	fromAcc.Balance.Sub(fromAcc.Balance, big.NewInt(int64(tx.Amount+fee)))
	fromAcc.Nonce++
	st.ApplyUpdate(tx.From, fromAcc)
	toAcc, _ := st.GetAccount(tx.To)
	toAcc.Balance.Add(toAcc.Balance, big.NewInt(int64(tx.Amount)))
	st.ApplyUpdate(tx.To, toAcc)
	root, err := st.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}
	return root
}

// creditFeeBuckets applies the executor's routing of one fee to st when
// no deployer is registered: the validator share goes to the proposer,
// the treasury and developer shares to the treasury.
func creditFeeBuckets(t *testing.T, st *state.State, fee uint64, ratios fees.BpsRatios, proposer, treasury core.Address) {
	t.Helper()
	split := fees.SplitFee(fee, ratios)
	credits := []struct {
		addr   core.Address
		amount uint64
	}{{proposer, split.Validator}, {treasury, split.Treasury + split.Developer}}
	for _, c := range credits {
		if c.amount == 0 {
			continue
		}
		acc, _ := st.GetAccount(c.addr)
		acc.Balance.Add(acc.Balance, new(big.Int).SetUint64(c.amount))
		st.ApplyUpdate(c.addr, acc)
	}
}
