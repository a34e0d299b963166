package utxo

import (
	"io"

	"github.com/libsv/go-bk/bec"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/util"
)

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqual       = 0x87
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opReturn      = 0x6a

	// numSpecialScripts is the number of script templates with a dedicated
	// compact encoding.
	numSpecialScripts = 6

	// maxScriptSize bounds scripts stored in the coins database.
	maxScriptSize = 10000
)

// CompressAmount maps an amount to a smaller integer, exploiting that most
// amounts are round decimal values.
func CompressAmount(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	e := uint64(0)
	for n%10 == 0 && e < 9 {
		n /= 10
		e++
	}

	if e < 9 {
		d := n % 10
		n /= 10

		return 1 + (n*9+d-1)*10 + e
	}

	return 1 + (n-1)*10 + 9
}

// DecompressAmount is the inverse of CompressAmount.
func DecompressAmount(x uint64) uint64 {
	if x == 0 {
		return 0
	}

	x--

	e := x % 10
	x /= 10

	var n uint64

	if e < 9 {
		d := x%9 + 1
		x /= 9
		n = x*10 + d
	} else {
		n = x + 1
	}

	for ; e > 0; e-- {
		n *= 10
	}

	return n
}

// compressScript returns the special encoding of the common templates: pay to
// pubkey hash, pay to script hash and pay to pubkey.
func compressScript(script []byte) ([]byte, bool) {
	switch {
	case len(script) == 25 && script[0] == opDup && script[1] == opHash160 && script[2] == 20 &&
		script[23] == opEqualVerify && script[24] == opCheckSig:
		return append([]byte{0x00}, script[3:23]...), true

	case len(script) == 23 && script[0] == opHash160 && script[1] == 20 && script[22] == opEqual:
		return append([]byte{0x01}, script[2:22]...), true

	case len(script) == 35 && script[0] == 33 && script[34] == opCheckSig && (script[1] == 0x02 || script[1] == 0x03):
		return append([]byte{script[1]}, script[2:34]...), true

	case len(script) == 67 && script[0] == 65 && script[66] == opCheckSig && script[1] == 0x04:
		if _, err := bec.ParsePubKey(script[1:66], bec.S256()); err != nil {
			return nil, false
		}

		return append([]byte{0x04 | (script[65] & 0x01)}, script[2:34]...), true
	}

	return nil, false
}

func specialScriptSize(n uint64) int {
	if n == 0 || n == 1 {
		return 20
	}

	return 32
}

func decompressScript(kind uint64, data []byte) ([]byte, error) {
	switch kind {
	case 0x00:
		script := []byte{opDup, opHash160, 20}
		script = append(script, data...)

		return append(script, opEqualVerify, opCheckSig), nil

	case 0x01:
		script := []byte{opHash160, 20}
		script = append(script, data...)

		return append(script, opEqual), nil

	case 0x02, 0x03:
		script := []byte{33, byte(kind)}
		script = append(script, data...)

		return append(script, opCheckSig), nil

	case 0x04, 0x05:
		compressed := append([]byte{byte(kind - 2)}, data...)

		pub, err := bec.ParsePubKey(compressed, bec.S256())
		if err != nil {
			return nil, errors.NewCorruptionError("invalid compressed pubkey in coins", err)
		}

		script := []byte{65}
		script = append(script, pub.SerialiseUncompressed()...)

		return append(script, opCheckSig), nil
	}

	return nil, errors.NewCorruptionError("unknown script compression %d", kind)
}

// AppendCompressedTxOut appends the compact form of out.
func AppendCompressedTxOut(b []byte, out *model.TxOut) []byte {
	b = util.AppendVarInt(b, CompressAmount(uint64(out.Value)))

	if special, ok := compressScript(out.PkScript); ok {
		return append(b, special...)
	}

	b = util.AppendVarInt(b, uint64(len(out.PkScript)+numSpecialScripts))

	return append(b, out.PkScript...)
}

// ReadCompressedTxOut reads an output written by AppendCompressedTxOut.
func ReadCompressedTxOut(r io.Reader) (*model.TxOut, error) {
	amount, err := util.ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	value := DecompressAmount(amount)
	if value > uint64(model.MaxMoney) {
		return nil, errors.NewCorruptionError("coin amount out of range")
	}

	n, err := util.ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	var script []byte

	if n < numSpecialScripts {
		data := make([]byte, specialScriptSize(n))
		if _, err = io.ReadFull(r, data); err != nil {
			return nil, err
		}

		if script, err = decompressScript(n, data); err != nil {
			return nil, err
		}
	} else {
		size := n - numSpecialScripts
		if size > maxScriptSize {
			// oversized scripts are unspendable; skip them
			if _, err = io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, err
			}

			return &model.TxOut{Value: int64(value), PkScript: []byte{opReturn}}, nil
		}

		script = make([]byte, size)
		if _, err = io.ReadFull(r, script); err != nil {
			return nil, err
		}
	}

	return &model.TxOut{Value: int64(value), PkScript: script}, nil
}

// IsUnspendable reports whether an output can never be spent and so is not
// kept in the coins set: data carriers, zerocoin mints and empty markers.
func IsUnspendable(out *model.TxOut) bool {
	if out.IsEmpty() || out.IsZerocoinMint() {
		return true
	}

	return len(out.PkScript) > 0 && (out.PkScript[0] == opReturn || len(out.PkScript) > maxScriptSize)
}
