package storage

import (
	lru "github.com/hashicorp/golang-lru"
)

// HotStore is an LRU cache in front of a WarmStore, holding the most
// recently touched blocks/headers/accounts. Reads populate the cache on
// miss; writes always go to warm first, then update the cache, so a
// crash between the two never leaves the cache ahead of durable state.
type HotStore struct {
	warm  *WarmStore
	cache *lru.Cache
}

func NewHotStore(warm *WarmStore, workingSetSize int) (*HotStore, error) {
	cache, err := lru.New(workingSetSize)
	if err != nil {
		return nil, err
	}
	return &HotStore{warm: warm, cache: cache}, nil
}

func (h *HotStore) Get(key []byte) ([]byte, error) {
	if v, ok := h.cache.Get(string(key)); ok {
		return v.([]byte), nil
	}
	v, err := h.warm.Get(key)
	if err != nil {
		return nil, err
	}
	h.cache.Add(string(key), v)
	return v, nil
}

func (h *HotStore) Put(key, value []byte) error {
	if err := h.warm.Put(key, value); err != nil {
		return err
	}
	h.cache.Add(string(key), value)
	return nil
}

func (h *HotStore) Delete(key []byte) error {
	if err := h.warm.Delete(key); err != nil {
		return err
	}
	h.cache.Remove(string(key))
	return nil
}

func (h *HotStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return h.warm.Iterate(prefix, fn)
}

func (h *HotStore) Close() error {
	return h.warm.Close()
}

// NewBatch exposes the warm tier's batch so callers can commit several
// writes atomically; the hot cache is invalidated for each touched key
// once the batch commits successfully (see HotStore.CommitInvalidating).
func (h *HotStore) NewBatch() *Batch {
	return h.warm.NewBatch()
}

// CommitInvalidating commits the batch and evicts keys from the hot cache
// so the next read re-populates from warm.
func (h *HotStore) CommitInvalidating(b *Batch, keys [][]byte) error {
	if err := b.Commit(); err != nil {
		return err
	}
	for _, k := range keys {
		h.cache.Remove(string(k))
	}
	return nil
}
