package storage

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Archiver moves state out of the warm tier's working set once it falls
// more than retentionEpochs behind the finalized epoch, keeping only
// block headers (not full bodies) for archived heights. It prefix-scans
// and batch-deletes against a finalized-height cutoff computed from the
// epoch-count retention window.
type Archiver struct {
	store            *HotStore
	log              *zap.Logger
	retentionEpochs  uint64
	epochLength      uint64
}

func NewArchiver(store *HotStore, log *zap.Logger, retentionEpochs, epochLength uint64) *Archiver {
	return &Archiver{store: store, log: log, retentionEpochs: retentionEpochs, epochLength: epochLength}
}

// Sweep runs at an epoch boundary: it writes a snapshot record for the
// epoch now falling out of the retention window and deletes the full
// block bodies (not headers) for the heights that snapshot subsumes.
func (a *Archiver) Sweep(currentEpoch uint64) error {
	if currentEpoch < a.retentionEpochs {
		return nil
	}
	archiveEpoch := currentEpoch - a.retentionEpochs
	snapKey := SnapshotKey(archiveEpoch)
	if _, err := a.store.Get(snapKey); err == nil {
		return nil // already archived
	}

	startHeight := archiveEpoch * a.epochLength
	endHeight := startHeight + a.epochLength

	marker := make([]byte, 8)
	binary.BigEndian.PutUint64(marker, archiveEpoch)
	batch := a.store.NewBatch()
	batch.Put(snapKey, marker)
	var keys [][]byte
	for h := startHeight; h < endHeight; h++ {
		batch.Delete(BlockKey(h))
		keys = append(keys, BlockKey(h), TxsKey(h))
		batch.Delete(TxsKey(h))
	}
	if err := a.store.CommitInvalidating(batch, keys); err != nil {
		return fmt.Errorf("archive sweep epoch %d: %w", archiveEpoch, err)
	}
	a.log.Info("archived epoch", zap.Uint64("epoch", archiveEpoch), zap.Uint64("start_height", startHeight), zap.Uint64("end_height", endHeight))
	return nil
}
