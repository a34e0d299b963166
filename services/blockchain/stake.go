package blockchain

import (
	"encoding/binary"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/utxo"
	"github.com/tessacoin/tessanode/util"
)

// ComputeStakeModifier derives the stake modifier of the block built on
// prev: the first eight bytes of the double sha256 of the modifier of prev
// and the kernel outpoint hash (proof of stake) or block hash (proof of
// work) of prev.
func ComputeStakeModifier(prev *blockchain_store.BlockIndex) uint64 {
	if prev == nil {
		return 0
	}

	buf := make([]byte, 8, 8+chainhash.HashSize)
	binary.LittleEndian.PutUint64(buf, prev.StakeModifier)

	if prev.ProofOfStake {
		buf = append(buf, prev.KernelOutPoint.Hash[:]...)
	} else {
		buf = append(buf, prev.Hash[:]...)
	}

	h := chainhash.DoubleHashB(buf)

	return binary.LittleEndian.Uint64(h[:8])
}

// KernelHash hashes the stake modifier with the staked output and the
// candidate block time.
func KernelHash(modifier uint64, outTime uint32, outPoint model.OutPoint, tryTime uint32) chainhash.Hash {
	buf := make([]byte, 0, 8+4+chainhash.HashSize+4+4)
	buf = binary.LittleEndian.AppendUint64(buf, modifier)
	buf = binary.LittleEndian.AppendUint32(buf, outTime)
	buf = append(buf, outPoint.Hash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, outPoint.Index)
	buf = binary.LittleEndian.AppendUint32(buf, tryTime)

	return chainhash.DoubleHashH(buf)
}

// CheckKernelHash reports whether kernel is below the target of bits
// weighted by the staked value.
func CheckKernelHash(kernel chainhash.Hash, bits uint32, value int64) bool {
	if value <= 0 {
		return false
	}

	target := util.CompactToBig(bits)
	if target.Sign() <= 0 {
		return false
	}

	target.Mul(target, big.NewInt(value))

	return util.HashToBig(&kernel).Cmp(target) < 0
}

// checkProofOfStake validates the kernel of a proof of stake block whose
// parent is prev. view must still hold the staked output.
func (cs *ChainState) checkProofOfStake(block *model.Block, bi, prev *blockchain_store.BlockIndex, view *utxo.Cache) error {
	coinstake := block.Transactions[1]
	kernelIn := coinstake.TxIn[0].PreviousOutPoint

	coins, err := view.AccessCoins(kernelIn.Hash)
	if err != nil {
		return err
	}

	if coins == nil || !coins.IsAvailable(kernelIn.Index) {
		return blockInvalid(100, "bad-cs-kernel-missing %s", kernelIn)
	}

	if bi.Height-coins.Height < cs.params.StakeMinDepth {
		return blockInvalid(100, "bad-cs-kernel-depth %s at depth %d", kernelIn, bi.Height-coins.Height)
	}

	outBlock := cs.chain.At(coins.Height)
	if outBlock == nil {
		return errors.NewProcessingError("no active block at height %d for kernel %s", coins.Height, kernelIn)
	}

	outTime := uint32(outBlock.BlockTime())
	tryTime := block.Header.Timestamp

	if int64(tryTime)-int64(outTime) < int64(cs.params.StakeMinAge.Seconds()) {
		return blockInvalid(100, "bad-cs-kernel-age %s", kernelIn)
	}

	out, _ := coins.Output(kernelIn.Index)

	modifier := ComputeStakeModifier(prev)
	kernel := KernelHash(modifier, outTime, kernelIn, tryTime)

	if !CheckKernelHash(kernel, block.Header.Bits, out.Value) {
		return blockInvalid(100, "bad-cs-kernel-hash %s does not meet target", kernel)
	}

	return nil
}

// stakePubKey returns the key that must sign a proof of stake block: the
// key of a pay-to-pubkey stake output, or the key revealed by the kernel
// input when the stake output pays to its hash.
func stakePubKey(block *model.Block) ([]byte, error) {
	coinstake := block.Transactions[1]
	pkScript := coinstake.TxOut[1].PkScript

	if key, ok := txscript.ExtractPubKey(pkScript); ok {
		return key, nil
	}

	dest, class := txscript.ExtractDestination(pkScript)
	if class != txscript.PubKeyHashTy {
		return nil, blockInvalid(100, "bad-block-signature stake output is %s", class)
	}

	pushes, err := txscript.PushedData(coinstake.TxIn[0].SignatureScript)
	if err != nil || len(pushes) == 0 {
		return nil, blockInvalid(100, "bad-block-signature no key in kernel input")
	}

	key := pushes[len(pushes)-1]

	var hash [20]byte
	copy(hash[:], crypto.Hash160(key))

	if hash != dest.Hash {
		return nil, blockInvalid(100, "bad-block-signature kernel key does not own stake output")
	}

	return key, nil
}

// CheckBlockSignature verifies the staker signature of a proof of stake
// block. Proof of work blocks carry no signature.
func CheckBlockSignature(block *model.Block, hash chainhash.Hash) error {
	if !block.IsProofOfStake() {
		if len(block.Signature) != 0 {
			return blockInvalid(100, "bad-block-signature on proof of work block")
		}

		return nil
	}

	if len(block.Signature) == 0 {
		return blockInvalid(100, "bad-block-signature missing")
	}

	keyBytes, err := stakePubKey(block)
	if err != nil {
		return err
	}

	pub, err := bec.ParsePubKey(keyBytes, bec.S256())
	if err != nil {
		return blockInvalid(100, "bad-block-signature bad key", err)
	}

	sig, err := bec.ParseDERSignature(block.Signature, bec.S256())
	if err != nil {
		return blockInvalid(100, "bad-block-signature malformed", err)
	}

	if !sig.Verify(hash[:], pub) {
		return blockInvalid(100, "bad-block-signature does not verify")
	}

	return nil
}

// SignBlock signs the block hash with the stake key.
func SignBlock(block *model.Block, hash chainhash.Hash, key *bec.PrivateKey) error {
	sig, err := key.Sign(hash[:])
	if err != nil {
		return errors.NewProcessingError("failed to sign block %s", hash, err)
	}

	block.Signature = sig.Serialise()

	return nil
}
