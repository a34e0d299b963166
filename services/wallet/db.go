package wallet

import (
	"encoding/binary"

	jsoniter "github.com/json-iterator/go"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/stores/kvstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Wallet database namespaces.
const (
	keyMeta          byte = 'M'
	prefixKey        byte = 'k'
	prefixTx         byte = 't'
	prefixAddress    byte = 'a'
	prefixAccounting byte = 'e'
	prefixMint       byte = 'z'
)

const walletVersion = 1

// walletMeta is the single wallet header record. Seed and ZerocoinSeed are
// sealed with the master key when Encrypted is set.
type walletMeta struct {
	Version      int          `json:"version"`
	Encrypted    bool         `json:"encrypted"`
	Salt         []byte       `json:"salt,omitempty"`
	Scrypt       scryptParams `json:"scrypt"`
	EncMasterKey []byte       `json:"encMasterKey,omitempty"`
	Seed         []byte       `json:"seed"`
	ZerocoinSeed []byte       `json:"zerocoinSeed"`
	AccountXPub  string       `json:"accountXPub"`
	NextExternal uint32       `json:"nextExternal"`
	NextInternal uint32       `json:"nextInternal"`
	MintCount    uint32       `json:"mintCount"`
	OrderPos     int64        `json:"orderPos"`
	EntrySeq     uint64       `json:"entrySeq"`
	BirthHeight  int32        `json:"birthHeight"`
	BestHeight   int32        `json:"bestHeight"`
}

// keyRecord is an imported key. Secret is sealed when the wallet is
// encrypted.
type keyRecord struct {
	PubKey     []byte `json:"pubKey"`
	Secret     []byte `json:"secret"`
	Compressed bool   `json:"compressed"`
}

// txRecord is the stored form of a WalletTx.
type txRecord struct {
	Raw         []byte `json:"raw"`
	Received    int64  `json:"received"`
	BlockHash   string `json:"blockHash,omitempty"`
	BlockHeight int32  `json:"blockHeight"`
	BlockIndex  int    `json:"blockIndex"`
	Conflicted  bool   `json:"conflicted,omitempty"`
	WatchOnly   bool   `json:"watchOnly,omitempty"`
	FromMe      bool   `json:"fromMe,omitempty"`
	OrderPos    int64  `json:"orderPos"`
}

type walletDB struct {
	store kvstore.Store
}

func (db *walletDB) readMeta() (*walletMeta, error) {
	b, err := db.store.Get([]byte{keyMeta})
	if err != nil {
		return nil, err
	}

	meta := &walletMeta{}
	if err := json.Unmarshal(b, meta); err != nil {
		return nil, errors.NewStorageError("corrupt wallet header", err)
	}

	if meta.Version > walletVersion {
		return nil, errors.NewWalletError("wallet version %d is newer than supported %d", meta.Version, walletVersion)
	}

	return meta, nil
}

func (db *walletDB) put(batch *kvstore.Batch, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.NewProcessingError("failed to encode wallet record", err)
	}

	batch.Put(key, b)

	return nil
}

func (db *walletDB) write(batch *kvstore.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	if err := db.store.Write(batch, true); err != nil {
		return errors.NewStorageError("failed to write wallet", err)
	}

	return nil
}

// each decodes every record under prefix and passes it to fn with the
// prefix stripped from the key.
func each[T any](db *walletDB, prefix byte, fn func(key []byte, v *T) error) error {
	it := db.store.NewIterator([]byte{prefix})
	defer it.Release()

	for it.Next() {
		v := new(T)
		if err := json.Unmarshal(it.Value(), v); err != nil {
			return errors.NewStorageError("corrupt wallet record %x", it.Key(), err)
		}

		if err := fn(append([]byte(nil), it.Key()[1:]...), v); err != nil {
			return err
		}
	}

	return it.Error()
}

func metaKey() []byte {
	return []byte{keyMeta}
}

func entryKey(seq uint64) []byte {
	var b [8]byte

	binary.BigEndian.PutUint64(b[:], seq)

	return kvstore.Key(prefixAccounting, b[:])
}
