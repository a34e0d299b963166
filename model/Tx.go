package model

import (
	"bytes"
	"encoding/hex"
	"io"
	"math"
	"strconv"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

const (
	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// MaxPrevOutIndex is the index used by a null outpoint.
	MaxPrevOutIndex uint32 = 0xffffffff

	// TxVersion is the current transaction version.
	TxVersion int32 = 1

	// maxScriptSize bounds the length prefix of a script read from the wire.
	// Zerocoin spend proofs are carried in scriptSigs and are large.
	maxScriptSize = 2000000
)

// OutPoint identifies a transaction output.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// IsNull reports whether the outpoint is the null outpoint used by coinbase,
// coinstake markers and zerocoin spends.
func (o OutPoint) IsNull() bool {
	return o.Index == MaxPrevOutIndex && o.Hash == chainhash.Hash{}
}

func (o *OutPoint) SetNull() {
	o.Hash = chainhash.Hash{}
	o.Index = MaxPrevOutIndex
}

func (o OutPoint) String() string {
	return o.Hash.String() + ":" + strconv.FormatUint(uint64(o.Index), 10)
}

type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// IsZerocoinSpend reports whether the input script carries a zerocoin spend.
func (ti *TxIn) IsZerocoinSpend() bool {
	return len(ti.SignatureScript) > 0 && ti.SignatureScript[0] == OpZerocoinSpend
}

func (ti *TxIn) IsFinal() bool {
	return ti.Sequence == MaxTxInSequenceNum
}

type TxOut struct {
	Value    int64
	PkScript []byte
}

func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{Value: value, PkScript: pkScript}
}

// IsNull reports whether the output is the pruned sentinel.
func (to *TxOut) IsNull() bool {
	return to.Value == -1
}

func (to *TxOut) SetNull() {
	to.Value = -1
	to.PkScript = nil
}

// IsEmpty reports whether the output is the coinstake marker.
func (to *TxOut) IsEmpty() bool {
	return to.Value == 0 && len(to.PkScript) == 0
}

func (to *TxOut) IsZerocoinMint() bool {
	return len(to.PkScript) > 0 && to.PkScript[0] == OpZerocoinMint
}

func (to *TxOut) Equal(other *TxOut) bool {
	return to.Value == other.Value && bytes.Equal(to.PkScript, other.PkScript)
}

// SerializeSize returns the number of bytes it would take to serialize the
// output.
func (to *TxOut) SerializeSize() int {
	return 8 + util.CompactSizeLen(uint64(len(to.PkScript))) + len(to.PkScript)
}

type Tx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

func NewTx(version int32) *Tx {
	return &Tx{Version: version}
}

func (tx *Tx) AddTxIn(ti *TxIn) {
	tx.TxIn = append(tx.TxIn, ti)
}

func (tx *Tx) AddTxOut(to *TxOut) {
	tx.TxOut = append(tx.TxOut, to)
}

// TxHash computes the double sha256 of the serialized transaction.
func (tx *Tx) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Bytes())
}

// IsCoinBase reports whether the transaction has exactly one input whose
// outpoint is null and carries no zerocoin spend.
func (tx *Tx) IsCoinBase() bool {
	return len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.IsNull() && !tx.ContainsZerocoins()
}

// IsCoinStake reports whether the transaction is the stake transaction of a
// proof-of-stake block: the first output is empty and a regular input is spent.
func (tx *Tx) IsCoinStake() bool {
	return len(tx.TxIn) > 0 && !tx.TxIn[0].PreviousOutPoint.IsNull() &&
		!tx.TxIn[0].IsZerocoinSpend() && len(tx.TxOut) >= 2 && tx.TxOut[0].IsEmpty()
}

func (tx *Tx) IsZerocoinSpend() bool {
	return len(tx.TxIn) > 0 && tx.TxIn[0].IsZerocoinSpend()
}

func (tx *Tx) IsZerocoinMint() bool {
	for _, out := range tx.TxOut {
		if out.IsZerocoinMint() {
			return true
		}
	}

	return false
}

func (tx *Tx) ContainsZerocoins() bool {
	return tx.IsZerocoinSpend() || tx.IsZerocoinMint()
}

// ValueOut sums the output values, failing when the total leaves the money
// range.
func (tx *Tx) ValueOut() (int64, error) {
	var total int64

	for _, out := range tx.TxOut {
		var ok bool

		if total, ok = AddMoney(total, out.Value); !ok {
			return 0, errors.NewTxInvalidError("value out of range")
		}
	}

	return total, nil
}

// IsFinal reports whether the transaction is final at the given block height
// and time.
func (tx *Tx) IsFinal(blockHeight int32, blockTime int64) bool {
	if tx.LockTime == 0 {
		return true
	}

	lockTime := int64(tx.LockTime)

	threshold := int64(blockHeight)
	if lockTime >= util.LockTimeThreshold {
		threshold = blockTime
	}

	if lockTime < threshold {
		return true
	}

	for _, in := range tx.TxIn {
		if !in.IsFinal() {
			return false
		}
	}

	return true
}

// Copy creates a deep copy of the transaction.
func (tx *Tx) Copy() *Tx {
	newTx := &Tx{
		Version:  tx.Version,
		TxIn:     make([]*TxIn, 0, len(tx.TxIn)),
		TxOut:    make([]*TxOut, 0, len(tx.TxOut)),
		LockTime: tx.LockTime,
	}

	for _, in := range tx.TxIn {
		newTx.TxIn = append(newTx.TxIn, &TxIn{
			PreviousOutPoint: in.PreviousOutPoint,
			SignatureScript:  append([]byte(nil), in.SignatureScript...),
			Sequence:         in.Sequence,
		})
	}

	for _, out := range tx.TxOut {
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    out.Value,
			PkScript: append([]byte(nil), out.PkScript...),
		})
	}

	return newTx
}

// PartialHash is the hash of the transaction with every signature script
// cleared. Zerocoin spend proofs and their ECDSA signatures commit to it, so
// each spend of a multi-spend transaction signs the same digest.
func (tx *Tx) PartialHash() chainhash.Hash {
	txCopy := tx.Copy()
	for _, in := range txCopy.TxIn {
		in.SignatureScript = nil
	}

	return txCopy.TxHash()
}

func (tx *Tx) SerializeSize() int {
	n := 8 + util.CompactSizeLen(uint64(len(tx.TxIn))) + util.CompactSizeLen(uint64(len(tx.TxOut)))

	for _, in := range tx.TxIn {
		n += 40 + util.CompactSizeLen(uint64(len(in.SignatureScript))) + len(in.SignatureScript)
	}

	for _, out := range tx.TxOut {
		n += out.SerializeSize()
	}

	return n
}

func (tx *Tx) Serialize(w io.Writer) error {
	_, err := w.Write(tx.Bytes())
	return err
}

func (tx *Tx) Bytes() []byte {
	b := make([]byte, 0, tx.SerializeSize())

	b = appendUint32(b, uint32(tx.Version))
	b = util.AppendCompactSize(b, uint64(len(tx.TxIn)))

	for _, in := range tx.TxIn {
		b = append(b, in.PreviousOutPoint.Hash[:]...)
		b = appendUint32(b, in.PreviousOutPoint.Index)
		b = util.AppendVarBytes(b, in.SignatureScript)
		b = appendUint32(b, in.Sequence)
	}

	b = util.AppendCompactSize(b, uint64(len(tx.TxOut)))

	for _, out := range tx.TxOut {
		b = appendUint64(b, uint64(out.Value))
		b = util.AppendVarBytes(b, out.PkScript)
	}

	return appendUint32(b, tx.LockTime)
}

func (tx *Tx) String() string {
	return hex.EncodeToString(tx.Bytes())
}

func (tx *Tx) Deserialize(r io.Reader) error {
	version, err := util.ReadUint32(r)
	if err != nil {
		return err
	}

	tx.Version = int32(version)

	count, err := util.ReadCompactSize(r)
	if err != nil {
		return err
	}

	tx.TxIn = make([]*TxIn, 0, capHint(count))

	for i := uint64(0); i < count; i++ {
		in := &TxIn{}

		if _, err = io.ReadFull(r, in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}

		if in.PreviousOutPoint.Index, err = util.ReadUint32(r); err != nil {
			return err
		}

		if in.SignatureScript, err = util.ReadVarBytes(r, maxScriptSize, "signature script"); err != nil {
			return err
		}

		if in.Sequence, err = util.ReadUint32(r); err != nil {
			return err
		}

		tx.TxIn = append(tx.TxIn, in)
	}

	if count, err = util.ReadCompactSize(r); err != nil {
		return err
	}

	tx.TxOut = make([]*TxOut, 0, capHint(count))

	for i := uint64(0); i < count; i++ {
		out := &TxOut{}

		value, err := util.ReadUint64(r)
		if err != nil {
			return err
		}

		out.Value = int64(value)

		if out.PkScript, err = util.ReadVarBytes(r, maxScriptSize, "public key script"); err != nil {
			return err
		}

		tx.TxOut = append(tx.TxOut, out)
	}

	tx.LockTime, err = util.ReadUint32(r)

	return err
}

func NewTxFromBytes(b []byte) (*Tx, error) {
	tx := &Tx{}

	r := bytes.NewReader(b)
	if err := tx.Deserialize(r); err != nil {
		return nil, errors.NewProcessingError("failed to deserialize transaction", err)
	}

	if r.Len() != 0 {
		return nil, errors.NewProcessingError("%d trailing bytes after transaction", r.Len())
	}

	return tx, nil
}

func NewTxFromString(s string) (*Tx, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.NewProcessingError("invalid transaction hex", err)
	}

	return NewTxFromBytes(b)
}

// capHint caps a wire-supplied element count used for preallocation.
func capHint(count uint64) int {
	if count > 1024 {
		return 1024
	}

	return int(count)
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(b []byte, v uint64) []byte {
	return appendUint32(appendUint32(b, uint32(v&math.MaxUint32)), uint32(v>>32))
}
