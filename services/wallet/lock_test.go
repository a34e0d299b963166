package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

func TestCrypter_SealOpen(t *testing.T) {
	key, err := randomBytes(masterKeyLen)
	require.NoError(t, err)

	sealed, err := seal(key, []byte("secret"))
	require.NoError(t, err)

	plain, err := open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)

	other, err := randomBytes(masterKeyLen)
	require.NoError(t, err)

	_, err = open(other, sealed)
	require.ErrorIs(t, err, errors.ErrWalletLocked)
}

func TestWallet_EncryptUnlock(t *testing.T) {
	tw := newTestWallet(t)
	tw.fund(t)

	require.False(t, tw.IsEncrypted())
	require.Error(t, tw.Lock())

	require.NoError(t, tw.Encrypt([]byte("correct horse")))
	assert.True(t, tw.IsEncrypted())
	assert.True(t, tw.IsLocked())
	require.Error(t, tw.Encrypt([]byte("again")))

	// receiving keys come from the public branch
	_, err := tw.NewAddress("")
	require.NoError(t, err)

	_, err = tw.SendTo(context.Background(), tw.chainAddress(), model.COIN)
	require.ErrorIs(t, err, errors.ErrWalletLocked)

	_, err = tw.StakeableCoins(tw.chain.CS.Height() + 1)
	require.ErrorIs(t, err, errors.ErrWalletLocked)

	require.ErrorIs(t, tw.Unlock([]byte("wrong"), 0), errors.ErrWalletLocked)
	assert.True(t, tw.IsLocked())

	require.NoError(t, tw.Unlock([]byte("correct horse"), 0))
	assert.False(t, tw.IsLocked())

	_, err = tw.SendTo(context.Background(), tw.chainAddress(), model.COIN)
	require.NoError(t, err)

	require.NoError(t, tw.Lock())
	assert.True(t, tw.IsLocked())
}

func TestWallet_UnlockTimeout(t *testing.T) {
	tw := newTestWallet(t)

	require.NoError(t, tw.Encrypt([]byte("pass")))
	require.NoError(t, tw.Unlock([]byte("pass"), 50*time.Millisecond))
	assert.False(t, tw.IsLocked())

	assert.Eventually(t, tw.IsLocked, 5*time.Second, 10*time.Millisecond)
}

func TestWallet_ChangePassphrase(t *testing.T) {
	tw := newTestWallet(t)

	require.NoError(t, tw.Encrypt([]byte("old")))
	require.ErrorIs(t, tw.ChangePassphrase([]byte("bad"), []byte("new")), errors.ErrWalletLocked)
	require.NoError(t, tw.ChangePassphrase([]byte("old"), []byte("new")))

	require.Error(t, tw.Unlock([]byte("old"), 0))
	require.NoError(t, tw.Unlock([]byte("new"), 0))
}

func TestWallet_EncryptedImportedKey(t *testing.T) {
	tw := newTestWallet(t)

	wif := model.EncodeBase58Check([]byte{tw.params.PrivateKeyID}, append(tw.chain.Key.Serialise(), 0x01))

	addr, err := tw.ImportPrivKey(wif, "")
	require.NoError(t, err)

	require.NoError(t, tw.Encrypt([]byte("pass")))

	_, err = tw.DumpPrivKey(addr)
	require.ErrorIs(t, err, errors.ErrWalletLocked)

	// encryption survives a reopen
	reopened := openTestWallet(t, tw.chain, tw.store)
	require.True(t, reopened.IsLocked())
	require.NoError(t, reopened.Unlock([]byte("pass"), 0))

	dumped, err := reopened.DumpPrivKey(addr)
	require.NoError(t, err)
	assert.Equal(t, wif, dumped)
}
