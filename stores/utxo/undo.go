package utxo

import (
	"bytes"
	"io"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

// maxUndoEntries bounds counts read from undo records.
const maxUndoEntries = 1 << 20

// TxInUndo records a spent output together with the metadata of the
// transaction that created it, so disconnect can recreate pruned coins.
type TxInUndo struct {
	Out       model.TxOut
	CoinBase  bool
	CoinStake bool
	Height    int32
	Version   int32
}

// TxUndo holds the undo records of the inputs of one transaction.
type TxUndo struct {
	Prevouts []TxInUndo
}

// BlockUndo holds the undo records of every non-coinbase transaction of a
// block, in block order.
type BlockUndo struct {
	Txs []TxUndo
}

func (u *TxInUndo) appendTo(b []byte) []byte {
	code := uint64(u.Height) << 2
	if u.CoinBase {
		code |= 1
	}

	if u.CoinStake {
		code |= 2
	}

	b = util.AppendVarInt(b, code)
	b = util.AppendVarInt(b, uint64(uint32(u.Version)))

	return AppendCompressedTxOut(b, &u.Out)
}

func (u *TxInUndo) read(r io.Reader) error {
	code, err := util.ReadVarInt(r)
	if err != nil {
		return err
	}

	if code>>2 > 0x7fffffff {
		return errors.NewCorruptionError("undo height out of range")
	}

	version, err := util.ReadVarInt(r)
	if err != nil {
		return err
	}

	out, err := ReadCompressedTxOut(r)
	if err != nil {
		return err
	}

	u.Height = int32(code >> 2)
	u.CoinBase = code&1 != 0
	u.CoinStake = code&2 != 0
	u.Version = int32(uint32(version))
	u.Out = *out

	return nil
}

func (bu *BlockUndo) Bytes() []byte {
	b := util.AppendCompactSize(nil, uint64(len(bu.Txs)))

	for i := range bu.Txs {
		b = util.AppendCompactSize(b, uint64(len(bu.Txs[i].Prevouts)))

		for j := range bu.Txs[i].Prevouts {
			b = bu.Txs[i].Prevouts[j].appendTo(b)
		}
	}

	return b
}

func NewBlockUndoFromBytes(b []byte) (*BlockUndo, error) {
	r := bytes.NewReader(b)

	n, err := util.ReadCompactSize(r)
	if err != nil || n > maxUndoEntries {
		return nil, errors.NewCorruptionError("bad undo tx count", err)
	}

	bu := &BlockUndo{Txs: make([]TxUndo, n)}

	for i := range bu.Txs {
		m, err := util.ReadCompactSize(r)
		if err != nil || m > maxUndoEntries {
			return nil, errors.NewCorruptionError("bad undo input count", err)
		}

		bu.Txs[i].Prevouts = make([]TxInUndo, m)

		for j := range bu.Txs[i].Prevouts {
			if err := bu.Txs[i].Prevouts[j].read(r); err != nil {
				return nil, errors.NewCorruptionError("bad undo record %d/%d", i, j, err)
			}
		}
	}

	if r.Len() != 0 {
		return nil, errors.NewCorruptionError("undo record has %d trailing bytes", r.Len())
	}

	return bu, nil
}
