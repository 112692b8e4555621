package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// WarmStore is the durable, full-history tier, backed by LevelDB and
// exposed behind the Store interface.
type WarmStore struct {
	db *leveldb.DB
}

func OpenWarmStore(dataDir string) (*WarmStore, error) {
	db, err := leveldb.OpenFile(dataDir, nil)
	if err != nil {
		return nil, err
	}
	return &WarmStore{db: db}, nil
}

func (w *WarmStore) Get(key []byte) ([]byte, error) {
	v, err := w.db.Get(key, nil)
	if err == leveldb.ErrNotFound || errors.IsCorrupted(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (w *WarmStore) Put(key, value []byte) error {
	return w.db.Put(key, value, nil)
}

func (w *WarmStore) Delete(key []byte) error {
	return w.db.Delete(key, nil)
}

func (w *WarmStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := w.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		val := append([]byte(nil), iter.Value()...)
		if !fn(key, val) {
			break
		}
	}
	return iter.Error()
}

func (w *WarmStore) Close() error {
	return w.db.Close()
}

// Batch groups writes for atomic commit via *leveldb.Batch.
type Batch struct {
	w     *WarmStore
	batch *leveldb.Batch
}

func (w *WarmStore) NewBatch() *Batch {
	return &Batch{w: w, batch: new(leveldb.Batch)}
}

func (b *Batch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *Batch) Delete(key []byte)     { b.batch.Delete(key) }

func (b *Batch) Commit() error {
	return b.w.db.Write(b.batch, nil)
}
