package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"trv-chain/pkg/chain"
	"trv-chain/pkg/core"
	"trv-chain/pkg/exec"
	"trv-chain/pkg/fees"
	"trv-chain/pkg/mempool"
	"trv-chain/pkg/reward"
	"trv-chain/pkg/slashing"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/storage"
	"trv-chain/pkg/validator"
)

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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := newMemStore()
	st := state.New(store)
	ch, err := chain.Open(store)
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	mp := mempool.New(nil, nil)
	vs := validator.NewSet(store, 10, 1_000_000, 1)
	stk := staking.NewEngine(store, staking.SchemaA)
	pool := slashing.NewPool(store, 20_000)
	deployers := reward.NewRegistry(store)
	params := exec.Params{
		Fees: fees.Params{
			BaseFeeFloor:         1,
			TargetGasPerBlock:    1_000_000,
			ElasticityMultiplier: 8,
			Fixed:                fees.BpsRatios{BurnBps: 4000, ValidatorBps: 3000, TreasuryBps: 2000, DeveloperBps: 1000},
		},
		Treasury:           core.Address{0xFE},
		EpochLength:        10000,
		EpochLengthSeconds: 600,
	}
	ex := exec.New(zap.NewNop(), st, stk, vs, pool, deployers, params, 0, 1000)
	return New(zap.NewNop(), ch, st, mp, vs, stk, ex, 9944)
}

func doRPC(t *testing.T, s *Server, method string, params interface{}) response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = b
	}
	req := request{JSONRPC: "2.0", Method: method, Params: raw, ID: json.RawMessage(`1`)}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	s.handle(w, r)

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v (body=%s)", err, w.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_health", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_doesNotExist", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestGetLatestBlock_NoneCommitted(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_getLatestBlock", nil)
	if resp.Error == nil || resp.Error.Code != codeBlockNotFound {
		t.Fatalf("expected block-not-found error, got %+v", resp.Error)
	}
}

func TestGetBlock_AfterCommit(t *testing.T) {
	s := newTestServer(t)
	block := &core.Block{Header: core.BlockHeader{Height: 1, Proposer: core.Address{0x01}}}
	if err := s.chain.PutBlock(block); err != nil {
		t.Fatalf("put block: %v", err)
	}

	resp := doRPC(t, s, "trv1_getBlock", map[string]uint64{"height": 1})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	latest := doRPC(t, s, "trv1_getLatestBlock", nil)
	if latest.Error != nil {
		t.Fatalf("unexpected error on latest: %+v", latest.Error)
	}
}

func TestGetBlock_NotYetCommitted(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_getBlock", map[string]uint64{"height": 42})
	if resp.Error == nil || resp.Error.Code != codeBlockNotFound {
		t.Fatalf("expected block-not-found error, got %+v", resp.Error)
	}
}

func TestGetAccount_InvalidPubkey(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_getAccount", map[string]string{"pubkey_hex": "not-hex"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestGetAccount_ZeroBalanceDefault(t *testing.T) {
	s := newTestServer(t)
	addr := core.Address{0x42}
	resp := doRPC(t, s, "trv1_getAccount", map[string]string{"pubkey_hex": addr.Hex()})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestGetFeeInfo(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_getFeeInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if _, ok := m["base_fee"]; !ok {
		t.Fatalf("expected base_fee field in result %v", m)
	}
}

func TestGetValidators_Empty(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_getValidators", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestSubmitTransaction_MalformedRejected(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "trv1_submitTransaction", map[string]interface{}{
		"tx": map[string]interface{}{
			"from":      "not-hex",
			"to":        core.Address{0x02}.Hex(),
			"amount":    100,
			"nonce":     0,
			"signature": "",
		},
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	s := newTestServer(t)
	body := `{"jsonrpc":"1.0","method":"trv1_health"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	s.handle(w, r)

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestMalformedJSONRejected(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	s.handle(w, r)

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse-error, got %+v", resp.Error)
	}
}
