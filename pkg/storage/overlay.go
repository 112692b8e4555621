package storage

// Overlay is a copy-on-write view over a base Store: writes land only in
// an in-memory map, reads fall through to base on a local miss, and
// Discard drops the whole overlay without ever touching base. A block
// proposer uses one to compute the StateRoot a candidate block would
// produce before that block has gone through consensus — nothing the
// preview writes is visible to any other reader of base.
type Overlay struct {
	base    Store
	written map[string][]byte
	deleted map[string]bool
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{
		base:    base,
		written: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if o.deleted[k] {
		return nil, ErrNotFound
	}
	if v, ok := o.written[k]; ok {
		return v, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deleted, k)
	o.written[k] = append([]byte{}, value...)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.written, k)
	o.deleted[k] = true
	return nil
}

// Iterate visits every overlay-written key under prefix first, then
// every base key under prefix not shadowed by an overlay write or
// delete. Order is not the base store's key order; callers that need a
// deterministic scan order should not rely on Overlay for it.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	seen := make(map[string]bool)
	for k, v := range o.written {
		if len(k) < len(prefix) || k[:len(prefix)] != string(prefix) {
			continue
		}
		seen[k] = true
		if !fn([]byte(k), v) {
			return nil
		}
	}
	return o.base.Iterate(prefix, func(key, value []byte) bool {
		k := string(key)
		if seen[k] || o.deleted[k] {
			return true
		}
		return fn(key, value)
	})
}

func (o *Overlay) Close() error { return nil }
