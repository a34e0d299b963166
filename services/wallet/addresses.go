package wallet

import (
	"context"
	"time"

	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/util/retry"
)

// AddressEntry is an address book record.
type AddressEntry struct {
	Label   string `json:"label"`
	Purpose string `json:"purpose"`
}

// AccountingEntry records a movement between account labels that has no
// transaction of its own.
type AccountingEntry struct {
	Seq      uint64 `json:"seq"`
	Account  string `json:"account"`
	Other    string `json:"other"`
	Amount   int64  `json:"amount"`
	Time     int64  `json:"time"`
	Comment  string `json:"comment,omitempty"`
	OrderPos int64  `json:"orderPos"`
}

const (
	PurposeReceive = "receive"
	PurposeSend    = "send"
)

const labelWriteRetries = 3

// NewAddress hands out the next receiving key and records it under label.
func (w *Wallet) NewAddress(label string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, h, err := w.nextKey(branchExternal)
	if err != nil {
		return "", err
	}

	addr := txscript.Destination{Kind: txscript.DestPubKeyHash, Hash: h}.Encode(w.params)

	batch := kvstore.NewBatch()
	if err := w.setAddressEntry(batch, addr, label, PurposeReceive); err != nil {
		return "", err
	}

	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		return "", err
	}

	if err := w.db.write(batch); err != nil {
		return "", err
	}

	return addr, nil
}

// changeScript hands out a fresh internal key for change.
func (w *Wallet) changeScript() ([]byte, error) {
	_, h, err := w.nextKey(branchInternal)
	if err != nil {
		return nil, err
	}

	return txscript.PayToPubKeyHashScript(h[:])
}

func (w *Wallet) setAddressEntry(batch *kvstore.Batch, addr, label, purpose string) error {
	entry := &AddressEntry{Label: label, Purpose: purpose}
	w.addressBook[addr] = entry

	return w.db.put(batch, kvstore.Key(prefixAddress, []byte(addr)), entry)
}

// SetLabel records a label for addr, which may belong to someone else. The
// write is retried since a lost label is cosmetic.
func (w *Wallet) SetLabel(ctx context.Context, addr, label string) error {
	dest, err := txscript.DecodeDestination(addr, w.params)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	purpose := PurposeSend
	if dest.Kind == txscript.DestPubKeyHash && w.haveKey(dest.Hash) {
		purpose = PurposeReceive
	}

	batch := kvstore.NewBatch()
	if err := w.setAddressEntry(batch, addr, label, purpose); err != nil {
		return err
	}

	return retry.Do(ctx, w.logger, func() error {
		return w.db.write(batch)
	}, labelWriteRetries, 2, 100*time.Millisecond, "[wallet] address book write")
}

// AddressBook returns a copy of the address book.
func (w *Wallet) AddressBook() map[string]AddressEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	book := make(map[string]AddressEntry, len(w.addressBook))
	for addr, entry := range w.addressBook {
		book[addr] = *entry
	}

	return book
}

// Move records an internal transfer of amount from one account label to
// another.
func (w *Wallet) Move(from, to string, amount int64, comment string) (*AccountingEntry, error) {
	if amount <= 0 || !model.MoneyRange(amount) {
		return nil, errors.NewInvalidArgumentError("invalid amount %d", amount)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().Unix()
	batch := kvstore.NewBatch()

	debit := &AccountingEntry{Account: from, Other: to, Amount: -amount, Time: now, Comment: comment}
	credit := &AccountingEntry{Account: to, Other: from, Amount: amount, Time: now, Comment: comment}

	for _, e := range []*AccountingEntry{debit, credit} {
		e.Seq = w.meta.EntrySeq
		e.OrderPos = w.meta.OrderPos
		w.meta.EntrySeq++
		w.meta.OrderPos++

		if err := w.db.put(batch, entryKey(e.Seq), e); err != nil {
			return nil, err
		}
	}

	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		return nil, err
	}

	if err := w.db.write(batch); err != nil {
		return nil, err
	}

	w.entries = append(w.entries, debit, credit)

	return credit, nil
}

// AccountingEntries returns the entries of account, or all entries when
// account is "*", in log order.
func (w *Wallet) AccountingEntries(account string) []AccountingEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []AccountingEntry

	for _, e := range w.entries {
		if account == "*" || e.Account == account {
			out = append(out, *e)
		}
	}

	return out
}

// privateKey returns the private key of a key hash the wallet holds.
func (w *Wallet) privateKey(h [20]byte) (*bec.PrivateKey, bool, error) {
	if path, ok := w.keys.paths[h]; ok {
		if w.accountPriv == nil {
			return nil, false, errors.NewWalletLockedError("wallet is locked")
		}

		key, err := privateKeyAt(w.accountPriv, path)

		return key, true, err
	}

	rec, ok := w.imported[h]
	if !ok {
		return nil, false, errors.NewWalletError("no key for %x", h)
	}

	secret, err := w.secret(rec)
	if err != nil {
		return nil, false, err
	}

	key, _ := bec.PrivKeyFromBytes(bec.S256(), secret)

	return key, rec.Compressed, nil
}

// KeyForScript returns the private key that signs for an output script.
func (w *Wallet) KeyForScript(pkScript []byte) (*bec.PrivateKey, error) {
	h, ok := keyHash(pkScript)
	if !ok {
		return nil, errors.NewWalletError("unsupported output script")
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	key, _, err := w.privateKey(h)

	return key, err
}

// keyDB adapts the wallet keys for the script signer. The caller holds
// w.mu.
func (w *Wallet) keyDB() txscript.KeyDB {
	return txscript.KeyClosure(func(h [20]byte) (*bec.PrivateKey, bool, error) {
		return w.privateKey(h)
	})
}

// ImportPrivKey adds a key given in wallet import format.
func (w *Wallet) ImportPrivKey(encoded, label string) (string, error) {
	payload, err := model.DecodeBase58Check(encoded, []byte{w.params.PrivateKeyID})
	if err != nil {
		return "", errors.NewInvalidArgumentError("invalid private key encoding", err)
	}

	compressed := len(payload) == 33 && payload[32] == 0x01
	if len(payload) != 32 && !compressed {
		return "", errors.NewInvalidArgumentError("invalid private key length %d", len(payload))
	}

	key, pub := bec.PrivKeyFromBytes(bec.S256(), payload[:32])

	serialized := pub.SerialiseUncompressed()
	if compressed {
		serialized = pub.SerialiseCompressed()
	}

	var h [20]byte
	copy(h[:], crypto.Hash160(serialized))

	w.mu.Lock()
	defer w.mu.Unlock()

	addr := txscript.Destination{Kind: txscript.DestPubKeyHash, Hash: h}.Encode(w.params)

	if w.haveKey(h) {
		return addr, nil
	}

	rec := &keyRecord{PubKey: serialized, Secret: key.Serialise(), Compressed: compressed}

	if w.meta.Encrypted {
		if w.masterKey == nil {
			return "", errors.NewWalletLockedError("wallet is locked")
		}

		if rec.Secret, err = seal(w.masterKey, rec.Secret); err != nil {
			return "", err
		}
	}

	batch := kvstore.NewBatch()
	if err := w.db.put(batch, kvstore.Key(prefixKey, h[:]), rec); err != nil {
		return "", err
	}

	if err := w.setAddressEntry(batch, addr, label, PurposeReceive); err != nil {
		return "", err
	}

	if err := w.db.write(batch); err != nil {
		return "", err
	}

	w.imported[h] = rec

	return addr, nil
}

// DumpPrivKey returns the key of addr in wallet import format.
func (w *Wallet) DumpPrivKey(addr string) (string, error) {
	dest, err := txscript.DecodeDestination(addr, w.params)
	if err != nil {
		return "", err
	}

	if dest.Kind != txscript.DestPubKeyHash {
		return "", errors.NewInvalidArgumentError("address %s is not a key address", addr)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	key, compressed, err := w.privateKey(dest.Hash)
	if err != nil {
		return "", err
	}

	payload := key.Serialise()
	if compressed {
		payload = append(payload, 0x01)
	}

	return model.EncodeBase58Check([]byte{w.params.PrivateKeyID}, payload), nil
}
