// Package chain owns committed-block persistence and the canonical
// "current head" pointer, the bridge between bft.Machine's
// ActionCommitBlock, the block executor, and read paths like the RPC
// server. Blocks, headers, and transaction bodies are stored through
// the storage.Store interface under block/<height>, header/<height>,
// and txs/<height>, with the head tracked at meta/chain_head.
package chain

import (
	"encoding/json"
	"fmt"
	"sync"

	"trv-chain/pkg/core"
	"trv-chain/pkg/storage"
)

// Chain stores every committed block and tracks the current head.
type Chain struct {
	mu    sync.RWMutex
	store storage.Store
	head  *core.Block
}

func Open(store storage.Store) (*Chain, error) {
	c := &Chain{store: store}
	raw, err := store.Get([]byte(storage.MetaChainHead))
	if err == storage.ErrNotFound {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return nil, fmt.Errorf("decode chain head: %w", err)
	}
	block, ok, err := c.blockAt(height)
	if err != nil {
		return nil, err
	}
	if ok {
		c.head = block
	}
	return c, nil
}

// PutBlock persists block (header, transactions, and the full block
// under its own key for fast lookup) and advances the head pointer.
// Callers must have already verified the block commits (a precommit
// quorum was reached) before calling this.
func (c *Chain) PutBlock(block *core.Block) error {
	headerRaw, err := json.Marshal(block.Header)
	if err != nil {
		return err
	}
	txsRaw, err := json.Marshal(block.Transactions)
	if err != nil {
		return err
	}
	blockRaw, err := json.Marshal(block)
	if err != nil {
		return err
	}

	if err := c.store.Put(storage.HeaderKey(block.Header.Height), headerRaw); err != nil {
		return err
	}
	if err := c.store.Put(storage.TxsKey(block.Header.Height), txsRaw); err != nil {
		return err
	}
	if err := c.store.Put(storage.BlockKey(block.Header.Height), blockRaw); err != nil {
		return err
	}
	headRaw, err := json.Marshal(block.Header.Height)
	if err != nil {
		return err
	}
	if err := c.store.Put([]byte(storage.MetaChainHead), headRaw); err != nil {
		return err
	}

	c.mu.Lock()
	c.head = block
	c.mu.Unlock()
	return nil
}

// LatestBlock returns the most recently committed block, if any.
func (c *Chain) LatestBlock() (*core.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head, c.head != nil
}

// LatestHeight returns the height of the current head, or 0 with ok=false
// before genesis commits.
func (c *Chain) LatestHeight() (uint64, bool) {
	block, ok := c.LatestBlock()
	if !ok {
		return 0, false
	}
	return block.Header.Height, true
}

// BlockAt returns the committed block at height, if present — either
// still in the warm/hot tiers or reconstructable from an archived
// header-only snapshot.
func (c *Chain) BlockAt(height uint64) (*core.Block, bool, error) {
	return c.blockAt(height)
}

func (c *Chain) blockAt(height uint64) (*core.Block, bool, error) {
	raw, err := c.store.Get(storage.BlockKey(height))
	if err == storage.ErrNotFound {
		return c.headerOnlyAt(height)
	}
	if err != nil {
		return nil, false, err
	}
	var block core.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return &block, true, nil
}

// headerOnlyAt reconstructs a header-only block for a height the cold
// tier has archived, keeping only the block header and not the full
// body.
func (c *Chain) headerOnlyAt(height uint64) (*core.Block, bool, error) {
	raw, err := c.store.Get(storage.HeaderKey(height))
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var header core.BlockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, false, fmt.Errorf("decode header %d: %w", height, err)
	}
	return &core.Block{Header: header}, true, nil
}
