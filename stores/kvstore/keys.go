package kvstore

import (
	"encoding/binary"
)

// Single byte namespace tags. The block tree database holds the block index,
// file info, reindex flag, tx index and named flags; the chainstate database
// holds coins and the best block; the zerocoin database holds the mint, spend
// and accumulator namespaces.
const (
	PrefixBlockIndex  byte = 'b'
	PrefixFileInfo    byte = 'f'
	KeyLastBlockFile  byte = 'l'
	KeyReindexing     byte = 'R'
	PrefixTxIndex     byte = 't'
	PrefixCoins       byte = 'c'
	KeyBestBlock      byte = 'B'
	PrefixFlag        byte = 'F'
	PrefixMint        byte = 'm'
	PrefixSpend       byte = 's'
	PrefixAccumulator byte = '2'
)

// Key concatenates a namespace tag and key parts.
func Key(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}

	k := make([]byte, 0, n)
	k = append(k, prefix)

	for _, p := range parts {
		k = append(k, p...)
	}

	return k
}

// Uint32Key builds a namespace key with a little-endian uint32 suffix.
func Uint32Key(prefix byte, v uint32) []byte {
	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], v)

	return Key(prefix, b[:])
}

// FlagKey builds the key of a named boolean flag.
func FlagKey(name string) []byte {
	return Key(PrefixFlag, []byte(name))
}
