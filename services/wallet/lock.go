package wallet

import (
	"time"

	"github.com/libsv/go-bk/bip32"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/stores/kvstore"
)

func (w *Wallet) isLocked() bool {
	return w.meta.Encrypted && w.masterKey == nil
}

// IsLocked reports whether signing needs a passphrase first.
func (w *Wallet) IsLocked() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.isLocked()
}

func (w *Wallet) IsEncrypted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.meta.Encrypted
}

func (w *Wallet) setUnlocked(masterKey, seed, zcSeed []byte, account *bip32.ExtendedKey) {
	w.masterKey = masterKey
	w.seed = seed
	w.zcSeed = zcSeed
	w.accountPriv = account
}

func (w *Wallet) lock() {
	if w.relock != nil {
		w.relock.Stop()
		w.relock = nil
	}

	wipe(w.masterKey)
	wipe(w.seed)
	wipe(w.zcSeed)
	w.setUnlocked(nil, nil, nil, nil)
}

// Encrypt seals the HD seed, the zerocoin seed and the imported keys under
// a master key protected by passphrase, and locks the wallet.
func (w *Wallet) Encrypt(passphrase []byte) error {
	if len(passphrase) == 0 {
		return errors.NewInvalidArgumentError("empty passphrase")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.meta.Encrypted {
		return errors.NewWalletError("wallet is already encrypted")
	}

	masterKey, err := randomBytes(masterKeyLen)
	if err != nil {
		return err
	}

	salt, err := randomBytes(saltLen)
	if err != nil {
		return err
	}

	kek, err := passphraseKey(passphrase, salt, w.meta.Scrypt)
	if err != nil {
		return err
	}
	defer wipe(kek)

	meta := *w.meta
	meta.Encrypted = true
	meta.Salt = salt

	if meta.EncMasterKey, err = seal(kek, masterKey); err != nil {
		return err
	}

	if meta.Seed, err = seal(masterKey, w.seed); err != nil {
		return err
	}

	if meta.ZerocoinSeed, err = seal(masterKey, w.zcSeed); err != nil {
		return err
	}

	batch := kvstore.NewBatch()
	sealed := make(map[[20]byte]*keyRecord, len(w.imported))

	for h, rec := range w.imported {
		secret, err := seal(masterKey, rec.Secret)
		if err != nil {
			return err
		}

		sealed[h] = &keyRecord{PubKey: rec.PubKey, Secret: secret, Compressed: rec.Compressed}

		if err := w.db.put(batch, kvstore.Key(prefixKey, h[:]), sealed[h]); err != nil {
			return err
		}
	}

	if err := w.db.put(batch, metaKey(), &meta); err != nil {
		return err
	}

	if err := w.db.write(batch); err != nil {
		return err
	}

	w.meta = &meta
	w.imported = sealed

	wipe(masterKey)
	w.lock()

	w.logger.Infof("[wallet] wallet encrypted")

	return nil
}

// Unlock decrypts the wallet secrets. A positive timeout relocks the
// wallet after it elapses.
func (w *Wallet) Unlock(passphrase []byte, timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.meta.Encrypted {
		return errors.NewWalletError("wallet is not encrypted")
	}

	masterKey, err := w.openMasterKey(passphrase)
	if err != nil {
		return err
	}

	seed, err := open(masterKey, w.meta.Seed)
	if err != nil {
		return errors.NewWalletError("wallet seed does not decrypt", err)
	}

	zcSeed, err := open(masterKey, w.meta.ZerocoinSeed)
	if err != nil {
		return errors.NewWalletError("zerocoin seed does not decrypt", err)
	}

	account, err := accountKey(seed, w.params)
	if err != nil {
		return err
	}

	w.lock()
	w.setUnlocked(masterKey, seed, zcSeed, account)
	w.topUpMintLookahead()

	if timeout > 0 {
		w.relock = time.AfterFunc(timeout, func() {
			w.mu.Lock()
			w.lock()
			w.mu.Unlock()

			w.logger.Infof("[wallet] relocked after %s", timeout)
		})
	}

	return nil
}

func (w *Wallet) openMasterKey(passphrase []byte) ([]byte, error) {
	kek, err := passphraseKey(passphrase, w.meta.Salt, w.meta.Scrypt)
	if err != nil {
		return nil, err
	}
	defer wipe(kek)

	masterKey, err := open(kek, w.meta.EncMasterKey)
	if err != nil {
		return nil, errors.NewWalletLockedError("incorrect passphrase")
	}

	return masterKey, nil
}

// Lock forgets the decrypted secrets.
func (w *Wallet) Lock() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.meta.Encrypted {
		return errors.NewWalletError("wallet is not encrypted")
	}

	w.lock()

	return nil
}

// ChangePassphrase re-seals the master key under a new passphrase.
func (w *Wallet) ChangePassphrase(oldPassphrase, newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return errors.NewInvalidArgumentError("empty passphrase")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.meta.Encrypted {
		return errors.NewWalletError("wallet is not encrypted")
	}

	masterKey, err := w.openMasterKey(oldPassphrase)
	if err != nil {
		return err
	}
	defer wipe(masterKey)

	salt, err := randomBytes(saltLen)
	if err != nil {
		return err
	}

	kek, err := passphraseKey(newPassphrase, salt, w.meta.Scrypt)
	if err != nil {
		return err
	}
	defer wipe(kek)

	encMaster, err := seal(kek, masterKey)
	if err != nil {
		return err
	}

	meta := *w.meta
	meta.Salt = salt
	meta.EncMasterKey = encMaster

	batch := kvstore.NewBatch()
	if err := w.db.put(batch, metaKey(), &meta); err != nil {
		return err
	}

	if err := w.db.write(batch); err != nil {
		return err
	}

	w.meta = &meta

	return nil
}

// secret returns the plaintext private key bytes of an imported key.
func (w *Wallet) secret(rec *keyRecord) ([]byte, error) {
	if !w.meta.Encrypted {
		return rec.Secret, nil
	}

	if w.masterKey == nil {
		return nil, errors.NewWalletLockedError("wallet is locked")
	}

	return open(w.masterKey, rec.Secret)
}
