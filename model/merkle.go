package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// BuildMerkleRoot computes the merkle root of the given leaf hashes,
// duplicating the last element of every odd sized level. The second return
// value is true when two identical siblings were combined, which means a
// different list of leaves yields the same root.
func BuildMerkleRoot(hashes []chainhash.Hash) (chainhash.Hash, bool) {
	if len(hashes) == 0 {
		return chainhash.Hash{}, false
	}

	level := make([]chainhash.Hash, len(hashes))
	copy(level, hashes)

	mutated := false

	var buf [chainhash.HashSize * 2]byte

	for len(level) > 1 {
		for i := 0; i+1 < len(level); i += 2 {
			if level[i] == level[i+1] {
				mutated = true
			}
		}

		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([]chainhash.Hash, 0, len(level)/2)

		for i := 0; i < len(level); i += 2 {
			copy(buf[:chainhash.HashSize], level[i][:])
			copy(buf[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.DoubleHashH(buf[:]))
		}

		level = next
	}

	return level[0], mutated
}
