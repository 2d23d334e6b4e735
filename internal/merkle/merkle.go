// Package merkle computes the coinbase-position Merkle branch a Stratum job
// hands to miners, and folds a submitted coinbase hash back through that
// branch to reconstruct the block's Merkle root.
package merkle

import "github.com/wernerpool/stratum/internal/bitcoin"

// BuildBranch computes the Merkle branch for the transaction at position 0
// (the coinbase) given the txids of the remaining transactions in the
// block, in block order. Each returned entry is the sibling hash needed to
// fold the coinbase hash up to the root one level at a time, following the
// standard odd-level duplication rule.
//
// txids must be in natural (internal) byte order, matching the order
// DoubleSHA256 produces; FoldRoot expects the same.
func BuildBranch(txids [][]byte) [][]byte {
	if len(txids) == 0 {
		return nil
	}

	level := make([][]byte, len(txids)+1)
	level[0] = nil // placeholder for the coinbase, whose hash varies per miner
	copy(level[1:], txids)

	var branch [][]byte
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		// The coinbase's current position in this level is always 0: record
		// its sibling before collapsing to the next level.
		branch = append(branch, level[1])

		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			if level[i] == nil {
				// still the coinbase's lineage; its hash is unknown here, so
				// leave a placeholder and let the real fold happen in
				// FoldRoot at submission time.
				next[i/2] = nil
				continue
			}
			next[i/2] = bitcoin.DoubleSHA256(append(append([]byte{}, level[i]...), level[i+1]...))
		}
		level = next
	}

	return branch
}

// FoldRoot reconstructs the Merkle root given a coinbase transaction hash
// and the branch computed by BuildBranch.
func FoldRoot(coinbaseHash []byte, branch [][]byte) []byte {
	hash := append([]byte{}, coinbaseHash...)
	for _, sibling := range branch {
		combined := make([]byte, 0, 64)
		combined = append(combined, hash...)
		combined = append(combined, sibling...)
		hash = bitcoin.DoubleSHA256(combined)
	}
	return hash
}

// Root computes the Merkle root of a full, ordered list of transaction
// hashes (coinbase included at position 0). Used for the witness-commitment
// computation over wtxids, where there is no "vary later" placeholder.
func Root(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		return make([]byte, 32)
	}
	if len(hashes) == 1 {
		return append([]byte{}, hashes[0]...)
	}

	level := make([][]byte, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := make([]byte, 0, 64)
			combined = append(combined, level[i]...)
			combined = append(combined, level[i+1]...)
			next[i/2] = bitcoin.DoubleSHA256(combined)
		}
		level = next
	}
	return level[0]
}

// WitnessCommitment computes the BIP-141 witness commitment given the
// wtxids of every transaction in the block (the coinbase's wtxid is defined
// as 32 zero bytes) and the witness reserved value (32 zero bytes by
// convention). The result is SHA256d(witnessMerkleRoot || reservedValue),
// ready to be wrapped in the OP_RETURN output by the coinbase builder.
func WitnessCommitment(wtxids [][]byte, reservedValue []byte) []byte {
	full := make([][]byte, 0, len(wtxids)+1)
	full = append(full, make([]byte, 32))
	full = append(full, wtxids...)

	root := Root(full)
	combined := make([]byte, 0, 64)
	combined = append(combined, root...)
	combined = append(combined, reservedValue...)
	return bitcoin.DoubleSHA256(combined)
}
