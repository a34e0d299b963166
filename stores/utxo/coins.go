package utxo

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

const (
	coinsFlagCoinBase  = 1
	coinsFlagCoinStake = 2
)

// Coins holds the unspent outputs of one transaction. Spent outputs are
// replaced by the null sentinel and trailing nulls are trimmed, so a fully
// spent transaction has no outputs left and is pruned.
type Coins struct {
	CoinBase  bool
	CoinStake bool
	Height    int32
	Version   int32
	Outputs   []*model.TxOut
}

// NewCoinsFromTx builds the coins of tx confirmed at height. Outputs that
// can never be spent are stored as nulls.
func NewCoinsFromTx(tx *model.Tx, height int32) *Coins {
	c := &Coins{
		CoinBase:  tx.IsCoinBase(),
		CoinStake: tx.IsCoinStake(),
		Height:    height,
		Version:   tx.Version,
		Outputs:   make([]*model.TxOut, len(tx.TxOut)),
	}

	for i, out := range tx.TxOut {
		if IsUnspendable(out) {
			c.Outputs[i] = nullTxOut()
			continue
		}

		c.Outputs[i] = &model.TxOut{Value: out.Value, PkScript: append([]byte(nil), out.PkScript...)}
	}

	c.Cleanup()

	return c
}

func nullTxOut() *model.TxOut {
	return &model.TxOut{Value: -1}
}

// Cleanup trims trailing spent outputs.
func (c *Coins) Cleanup() {
	for len(c.Outputs) > 0 && c.Outputs[len(c.Outputs)-1].IsNull() {
		c.Outputs = c.Outputs[:len(c.Outputs)-1]
	}

	if len(c.Outputs) == 0 {
		c.Outputs = nil
	}
}

// Clear resets the coins to the pruned state.
func (c *Coins) Clear() {
	*c = Coins{}
}

// IsPruned reports whether no unspent output remains.
func (c *Coins) IsPruned() bool {
	for _, out := range c.Outputs {
		if !out.IsNull() {
			return false
		}
	}

	return true
}

// IsAvailable reports whether output n is unspent.
func (c *Coins) IsAvailable(n uint32) bool {
	return int(n) < len(c.Outputs) && !c.Outputs[n].IsNull()
}

// Output returns output n if it is unspent.
func (c *Coins) Output(n uint32) (*model.TxOut, bool) {
	if !c.IsAvailable(n) {
		return nil, false
	}

	return c.Outputs[n], true
}

// Spend marks output n spent and returns it.
func (c *Coins) Spend(n uint32) (*model.TxOut, bool) {
	if !c.IsAvailable(n) {
		return nil, false
	}

	out := c.Outputs[n]
	c.Outputs[n] = nullTxOut()
	c.Cleanup()

	return out, true
}

// IsMature reports whether a coinbase or coinstake created at c.Height may be
// spent at spendHeight.
func (c *Coins) IsMature(spendHeight int32, maturity int32) bool {
	if !c.CoinBase && !c.CoinStake {
		return true
	}

	return spendHeight-c.Height >= maturity
}

func (c *Coins) Clone() *Coins {
	clone := *c
	clone.Outputs = make([]*model.TxOut, len(c.Outputs))

	for i, out := range c.Outputs {
		clone.Outputs[i] = &model.TxOut{Value: out.Value, PkScript: append([]byte(nil), out.PkScript...)}
	}

	return &clone
}

// Equal compares the serialized forms.
func (c *Coins) Equal(other *Coins) bool {
	return bytes.Equal(c.Bytes(), other.Bytes())
}

// MemoryUsage estimates the heap bytes held by the coins.
func (c *Coins) MemoryUsage() int {
	n := 48
	for _, out := range c.Outputs {
		n += 40 + cap(out.PkScript)
	}

	return n
}

func (c *Coins) String() string {
	return fmt.Sprintf("Coins(height=%d, version=%d, coinbase=%t, coinstake=%t, outputs=%d)",
		c.Height, c.Version, c.CoinBase, c.CoinStake, len(c.Outputs))
}

// Bytes encodes the coins: version, flags, height, output count, an
// availability bitmap and the compressed unspent outputs.
func (c *Coins) Bytes() []byte {
	b := make([]byte, 0, 16+len(c.Outputs)*26)

	flags := uint64(0)
	if c.CoinBase {
		flags |= coinsFlagCoinBase
	}

	if c.CoinStake {
		flags |= coinsFlagCoinStake
	}

	b = util.AppendVarInt(b, uint64(uint32(c.Version)))
	b = util.AppendVarInt(b, flags)
	b = util.AppendVarInt(b, uint64(c.Height))
	b = util.AppendVarInt(b, uint64(len(c.Outputs)))

	mask := make([]byte, (len(c.Outputs)+7)/8)

	for i, out := range c.Outputs {
		if !out.IsNull() {
			mask[i/8] |= 1 << (i % 8)
		}
	}

	b = append(b, mask...)

	for _, out := range c.Outputs {
		if !out.IsNull() {
			b = AppendCompressedTxOut(b, out)
		}
	}

	return b
}

func NewCoinsFromBytes(b []byte) (*Coins, error) {
	r := bytes.NewReader(b)

	var fields [4]uint64

	for i := range fields {
		v, err := util.ReadVarInt(r)
		if err != nil {
			return nil, errors.NewCorruptionError("truncated coins record", err)
		}

		fields[i] = v
	}

	if fields[0] > 0xffffffff || fields[2] > 0x7fffffff || fields[3] > 1<<20 {
		return nil, errors.NewCorruptionError("coins record field out of range")
	}

	c := &Coins{
		Version:   int32(uint32(fields[0])),
		CoinBase:  fields[1]&coinsFlagCoinBase != 0,
		CoinStake: fields[1]&coinsFlagCoinStake != 0,
		Height:    int32(fields[2]),
		Outputs:   make([]*model.TxOut, fields[3]),
	}

	mask := make([]byte, (fields[3]+7)/8)
	if _, err := io.ReadFull(r, mask); err != nil {
		return nil, errors.NewCorruptionError("truncated coins mask", err)
	}

	for i := range c.Outputs {
		if mask[i/8]&(1<<(i%8)) == 0 {
			c.Outputs[i] = nullTxOut()
			continue
		}

		out, err := ReadCompressedTxOut(r)
		if err != nil {
			return nil, errors.NewCorruptionError("bad coins output %d", i, err)
		}

		c.Outputs[i] = out
	}

	if r.Len() != 0 {
		return nil, errors.NewCorruptionError("coins record has %d trailing bytes", r.Len())
	}

	c.Cleanup()

	return c, nil
}
