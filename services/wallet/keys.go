package wallet

import (
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/bip32"
	bkchaincfg "github.com/libsv/go-bk/chaincfg"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
)

// HD layout: m/44'/coin_type'/0'/branch/index.
const (
	hdPurpose      = 44
	branchExternal = 0
	branchInternal = 1
)

// KeyPath locates a derived key below the account.
type KeyPath struct {
	Branch uint32
	Index  uint32
}

// keyChain holds the public half of the HD account. Keys can be derived and
// recognised without the seed; signing needs the private account key.
type keyChain struct {
	branches [2]*bip32.ExtendedKey
	derived  [2]uint32
	paths    map[[20]byte]KeyPath
	hashes   map[KeyPath][20]byte
	pubKeys  map[[20]byte][]byte
}

// accountKey derives the private account key of seed.
func accountKey(seed []byte, params *chaincfg.Params) (*bip32.ExtendedKey, error) {
	master, err := bip32.NewMaster(seed, &bkchaincfg.MainNet)
	if err != nil {
		return nil, errors.NewWalletError("invalid wallet seed", err)
	}

	key := master
	for _, i := range []uint32{hdPurpose, params.HDCoinType, 0} {
		if key, err = key.Child(bip32.HardenedKeyStart + i); err != nil {
			return nil, errors.NewWalletError("failed to derive account key", err)
		}
	}

	return key, nil
}

func newKeyChain(accountXPub string) (*keyChain, error) {
	account, err := bip32.NewKeyFromString(accountXPub)
	if err != nil {
		return nil, errors.NewWalletError("invalid account public key", err)
	}

	kc := &keyChain{
		paths:   make(map[[20]byte]KeyPath),
		hashes:  make(map[KeyPath][20]byte),
		pubKeys: make(map[[20]byte][]byte),
	}

	for branch := range kc.branches {
		if kc.branches[branch], err = account.Child(uint32(branch)); err != nil {
			return nil, errors.NewWalletError("failed to derive branch %d", branch, err)
		}
	}

	return kc, nil
}

// extend derives public keys of branch up to, not including, upTo.
func (kc *keyChain) extend(branch uint32, upTo uint32) error {
	for kc.derived[branch] < upTo {
		index := kc.derived[branch]
		kc.derived[branch]++

		child, err := kc.branches[branch].Child(index)
		if err != nil {
			if errors.Is(err, bip32.ErrInvalidChild) {
				continue
			}

			return errors.NewWalletError("failed to derive key %d/%d", branch, index, err)
		}

		pub, err := child.ECPubKey()
		if err != nil {
			return errors.NewWalletError("failed to derive key %d/%d", branch, index, err)
		}

		serialized := pub.SerialiseCompressed()

		var h [20]byte
		copy(h[:], crypto.Hash160(serialized))

		path := KeyPath{Branch: branch, Index: index}
		kc.paths[h] = path
		kc.hashes[path] = h
		kc.pubKeys[h] = serialized
	}

	return nil
}

// pubKeyAt returns the compressed public key at path, which must be derived.
func (kc *keyChain) pubKeyAt(path KeyPath) ([]byte, [20]byte, bool) {
	h, ok := kc.hashes[path]
	if !ok {
		return nil, h, false
	}

	return kc.pubKeys[h], h, true
}

// privateKeyAt derives the private key at path below the private account
// key.
func privateKeyAt(account *bip32.ExtendedKey, path KeyPath) (*bec.PrivateKey, error) {
	branch, err := account.Child(path.Branch)
	if err != nil {
		return nil, errors.NewWalletError("failed to derive branch %d", path.Branch, err)
	}

	child, err := branch.Child(path.Index)
	if err != nil {
		return nil, errors.NewWalletError("failed to derive key %d/%d", path.Branch, path.Index, err)
	}

	key, err := child.ECPrivKey()
	if err != nil {
		return nil, errors.NewWalletError("failed to derive key %d/%d", path.Branch, path.Index, err)
	}

	return key, nil
}
