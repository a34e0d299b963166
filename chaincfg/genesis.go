// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/model"
)

const genesisTimestamp = "Reuters 05/Oct/2018 Stocks slide as bond yields hit seven-year highs"

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks of
// every network.  Its output is unspendable.
var genesisCoinbaseTx = model.Tx{
	Version: 1,
	TxIn: []*model.TxIn{
		{
			PreviousOutPoint: model.OutPoint{
				Hash:  chainhash.Hash{},
				Index: model.MaxPrevOutIndex,
			},
			SignatureScript: append([]byte{
				0x04, 0xff, 0xff, 0x00, 0x1d, // push 0x1d00ffff
				0x01, 0x04, // push 4
				byte(len(genesisTimestamp)),
			}, genesisTimestamp...),
			Sequence: model.MaxTxInSequenceNum,
		},
	},
	TxOut: []*model.TxOut{
		{
			Value:    0,
			PkScript: []byte{0x6a}, // OP_RETURN
		},
	},
	LockTime: 0,
}

// genesisHash is the hash of the first block in the block chain for the main
// network (genesis block).
var genesisHash = mustHash("4ae60fe937feeb705bcb3d631f16d1fcc103744335336ca3d2ee19e4ffc935fd")

// genesisMerkleRoot is the merkle root recorded in the main network genesis
// header.
var genesisMerkleRoot = mustHash("73f27d6a3e0291af32c45da791d04edefa6b7b3dff9943146eedc9e4150e4650")

// genesisBlock defines the genesis block of the block chain which serves as the
// public transaction ledger for the main network.
var genesisBlock = model.Block{
	Header: &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  chainhash.Hash{},
		HashMerkleRoot: genesisMerkleRoot,
		Timestamp:      1538753921,
		Bits:           0x1e0ffff0,
		Nonce:          1026102636,
	},
	Transactions: []*model.Tx{&genesisCoinbaseTx},
}

// testNetGenesisBlock defines the genesis block of the test network.
var testNetGenesisBlock = model.Block{
	Header: &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  chainhash.Hash{},
		HashMerkleRoot: genesisCoinbaseTx.TxHash(),
		Timestamp:      1538753922,
		Bits:           0x1e0ffff0,
		Nonce:          2402015,
	},
	Transactions: []*model.Tx{&genesisCoinbaseTx},
}

var testNetGenesisHash = testNetGenesisBlock.Header.Hash()

// regTestGenesisBlock defines the genesis block of the regression test network.
var regTestGenesisBlock = model.Block{
	Header: &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  chainhash.Hash{},
		HashMerkleRoot: genesisCoinbaseTx.TxHash(),
		Timestamp:      1538753923,
		Bits:           0x207fffff,
		Nonce:          1,
	},
	Transactions: []*model.Tx{&genesisCoinbaseTx},
}

var regTestGenesisHash = regTestGenesisBlock.Header.Hash()

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}

	return *h
}
