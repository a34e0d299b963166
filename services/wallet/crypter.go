package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/tessacoin/tessanode/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	masterKeyLen = 32
	saltLen      = 16
)

// scryptParams are the passphrase derivation costs stored with the wallet so
// a wallet stays readable if the defaults change.
type scryptParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

var defaultScrypt = scryptParams{N: 1 << 15, R: 8, P: 1}

// passphraseKey derives the key-encryption key of a passphrase.
func passphraseKey(passphrase []byte, salt []byte, p scryptParams) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, p.N, p.R, p.P, masterKeyLen)
	if err != nil {
		return nil, errors.NewWalletError("failed to derive passphrase key", err)
	}

	return key, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.NewWalletError("failed to read random bytes", err)
	}

	return b, nil
}

// seal encrypts plaintext with AES-256-GCM. The nonce is prepended to the
// ciphertext.
func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal. A wrong key fails authentication.
func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.NewWalletError("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.NewWalletLockedError("decryption failed", err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewWalletError("invalid encryption key", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewWalletError("failed to create cipher", err)
	}

	return gcm, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
