package core

// ComputeMerkleRoot computes the Merkle root of a sequence of leaf hashes
// by pairwise SHA-256 hashing, halving the level each round; an odd node
// at a level carries forward unchanged into the next level. An empty leaf
// set yields the zero hash.
func ComputeMerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Hash{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, SumSHA256(level[i][:], level[i+1][:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// TxMerkleRoot is the Merkle root of a block's transaction hashes in
// inclusion order.
func TxMerkleRoot(txs []*Transaction) Hash {
	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return ComputeMerkleRoot(hashes)
}
