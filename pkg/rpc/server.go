// Package rpc implements the JSON-RPC 2.0 HTTP server: a single POST /
// endpoint dispatching trv1_* methods, backed by an http.Server with
// explicit read/write/idle timeouts and a CORS middleware, and a fixed
// error-code taxonomy for malformed requests and consensus-state
// lookups.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trv-chain/pkg/chain"
	"trv-chain/pkg/core"
	"trv-chain/pkg/exec"
	"trv-chain/pkg/mempool"
	"trv-chain/pkg/staking"
	"trv-chain/pkg/state"
	"trv-chain/pkg/validator"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeTxRejected     = -32000
	codeBlockNotFound  = -32001
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server dispatches JSON-RPC 2.0 requests over a read-only view of chain
// state. trv1_submitTransaction is its only side-effecting method.
type Server struct {
	log *zap.Logger

	chain      *chain.Chain
	state      *state.State
	mempoolP   *mempool.Mempool
	validators *validator.Set
	staking    *staking.Engine
	executor   *exec.Executor

	addr string
	srv  *http.Server
}

func New(log *zap.Logger, ch *chain.Chain, st *state.State, mp *mempool.Mempool, vs *validator.Set, stk *staking.Engine, ex *exec.Executor, port int) *Server {
	return &Server{
		log: log, chain: ch, state: st, mempoolP: mp, validators: vs, staking: stk, executor: ex,
		addr: fmt.Sprintf(":%d", port),
	}
}

// Start begins serving JSON-RPC requests; it returns once the listener
// fails or Stop is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("rpc server listening", zap.String("addr", s.addr))
	return s.srv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "only POST is supported"}})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "failed to read request body"}})
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "missing jsonrpc/method"}})
		return
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	writeResponse(w, resp)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "trv1_health":
		return map[string]string{"status": "ok"}, nil
	case "trv1_getBlock":
		return s.getBlock(params)
	case "trv1_getLatestBlock":
		return s.getLatestBlock()
	case "trv1_getValidators":
		return s.getValidators(), nil
	case "trv1_getStakingInfo":
		return s.getStakingInfo(params)
	case "trv1_getFeeInfo":
		return s.getFeeInfo(), nil
	case "trv1_submitTransaction":
		return s.submitTransaction(params)
	case "trv1_getAccount":
		return s.getAccount(params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

type heightParams struct {
	Height uint64 `json:"height"`
}

func (s *Server) getBlock(params json.RawMessage) (interface{}, *rpcError) {
	var p heightParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "expected {\"height\": <uint64>}", Data: err.Error()}
	}
	block, ok, err := s.chain.BlockAt(p.Height)
	if err != nil {
		return nil, &rpcError{Code: codeBlockNotFound, Message: err.Error()}
	}
	if !ok {
		return nil, &rpcError{Code: codeBlockNotFound, Message: fmt.Sprintf("block at height %d not yet committed", p.Height)}
	}
	return blockView(block), nil
}

func (s *Server) getLatestBlock() (interface{}, *rpcError) {
	block, ok := s.chain.LatestBlock()
	if !ok {
		return nil, &rpcError{Code: codeBlockNotFound, Message: "no block committed yet"}
	}
	return blockView(block), nil
}

type validatorView struct {
	Pubkey        string `json:"pubkey"`
	SelfStake     uint64 `json:"self_stake"`
	CommissionBps uint32 `json:"commission_bps"`
	Status        string `json:"status"`
}

func (s *Server) getValidators() interface{} {
	active := s.validators.ActiveSet()
	out := make([]validatorView, 0, len(active))
	for _, pk := range active {
		rec, ok := s.validators.Get(pk)
		if !ok {
			continue
		}
		out = append(out, validatorView{
			Pubkey: pk.Hex(), SelfStake: rec.SelfStake,
			CommissionBps: rec.CommissionBps, Status: string(rec.Status),
		})
	}
	return out
}

type pubkeyParams struct {
	PubkeyHex string `json:"pubkey_hex"`
}

func (s *Server) getStakingInfo(params json.RawMessage) (interface{}, *rpcError) {
	var p pubkeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "expected {\"pubkey_hex\": <hex>}", Data: err.Error()}
	}
	addr, err := core.AddressFromHex(p.PubkeyHex)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid pubkey_hex", Data: err.Error()}
	}
	effective := s.staking.EffectiveStakeOf(addr)
	supply := s.executor.Supply()
	return map[string]interface{}{
		"effective_stake": effective,
		"total_supply":    supply.Total(),
		"minted":          supply.Minted,
		"burned":          supply.Burned,
	}, nil
}

func (s *Server) getFeeInfo() interface{} {
	return map[string]interface{}{
		"base_fee": s.executor.BaseFee(),
	}
}

type submitTxParams struct {
	Tx txView `json:"tx"`
}

type txView struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
	Data      string `json:"data,omitempty"`
}

func (s *Server) submitTransaction(params json.RawMessage) (interface{}, *rpcError) {
	var p submitTxParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid transaction params", Data: err.Error()}
	}
	tx, err := p.Tx.toCore()
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "malformed transaction", Data: err.Error()}
	}
	if err := s.mempoolP.Admit(tx, accountView{s.state}, s.executor.BaseFee()); err != nil {
		return nil, &rpcError{Code: codeTxRejected, Message: err.Error()}
	}
	hash := tx.Hash()
	return map[string]string{"tx_hash": hash.Hex()}, nil
}

type blockResponse struct {
	Height        uint64   `json:"height"`
	TimestampUnix int64    `json:"timestamp_unix"`
	ParentHash    string   `json:"parent_hash"`
	Proposer      string   `json:"proposer"`
	StateRoot     string   `json:"state_root"`
	TxMerkleRoot  string   `json:"tx_merkle_root"`
	TxHashes      []string `json:"tx_hashes"`
}

func blockView(block *core.Block) blockResponse {
	hashes := block.TxHashes()
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return blockResponse{
		Height:        block.Header.Height,
		TimestampUnix: block.Header.TimestampUnix,
		ParentHash:    block.Header.ParentHash.Hex(),
		Proposer:      block.Header.Proposer.Hex(),
		StateRoot:     block.Header.StateRoot.Hex(),
		TxMerkleRoot:  block.Header.TxMerkleRoot.Hex(),
		TxHashes:      out,
	}
}

// toCore decodes a wire transaction view into its core.Transaction form.
// The signature is taken as-is; ApplyBlock/Mempool.Admit verify it.
func (v txView) toCore() (*core.Transaction, error) {
	from, err := core.AddressFromHex(v.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := core.AddressFromHex(v.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	sigBytes, err := hex.DecodeString(v.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sigBytes) != core.SignatureLen {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", core.SignatureLen, len(sigBytes))
	}
	var data []byte
	if v.Data != "" {
		data, err = hex.DecodeString(v.Data)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
	}
	tx := &core.Transaction{From: from, To: to, Amount: v.Amount, Nonce: v.Nonce, Data: data}
	copy(tx.Signature[:], sigBytes)
	return tx, nil
}

func (s *Server) getAccount(params json.RawMessage) (interface{}, *rpcError) {
	var p pubkeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "expected {\"pubkey_hex\": <hex>}", Data: err.Error()}
	}
	addr, err := core.AddressFromHex(p.PubkeyHex)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid pubkey_hex", Data: err.Error()}
	}
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return map[string]interface{}{
		"address": addr.Hex(),
		"balance": acc.Balance.String(),
		"nonce":   acc.Nonce,
	}, nil
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accountView adapts pkg/state.State to pkg/mempool.AccountView so the
// RPC layer can admit transactions without the mempool importing
// pkg/state directly.
type accountView struct {
	state *state.State
}

func (a accountView) NonceOf(addr core.Address) uint64 {
	acc, err := a.state.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Nonce
}

func (a accountView) BalanceOf(addr core.Address) uint64 {
	acc, err := a.state.GetAccount(addr)
	if err != nil {
		return 0
	}
	if !acc.Balance.IsUint64() {
		return ^uint64(0)
	}
	return acc.Balance.Uint64()
}
