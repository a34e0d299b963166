package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/services/blockchain/chaintest"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/validator"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/ulogger"
)

// fakePool accepts every transaction unless err is set and notifies its
// listeners the way the mempool does.
type fakePool struct {
	policy    *validator.Policy
	listeners []mempool.Listener
	accepted  []*model.Tx
	err       error
}

func (p *fakePool) ProcessTransaction(_ context.Context, tx *model.Tx, _, _ bool) ([]*mempool.TxDesc, error) {
	if p.err != nil {
		return nil, p.err
	}

	p.accepted = append(p.accepted, tx)

	desc := &mempool.TxDesc{Tx: tx, Hash: tx.TxHash(), Size: tx.SerializeSize()}

	for _, l := range p.listeners {
		l.TxAccepted(desc)
	}

	return []*mempool.TxDesc{desc}, nil
}

func (p *fakePool) Policy() *validator.Policy {
	return p.policy
}

func (p *fakePool) Subscribe(l mempool.Listener) {
	p.listeners = append(p.listeners, l)
}

type testWallet struct {
	*Wallet
	chain *chaintest.Chain
	pool  *fakePool
	store kvstore.Store
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()

	chain := chaintest.New(t, map[string]string{
		"keypool":            "5",
		"zerocoin_lookahead": "2",
	})

	return openTestWallet(t, chain, kvstore.NewMemory(ulogger.TestLogger{}, "wallet"))
}

func openTestWallet(t *testing.T, chain *chaintest.Chain, store kvstore.Store) *testWallet {
	t.Helper()

	pool := &fakePool{policy: validator.NewPolicy(chain.Settings)}

	w := New(ulogger.TestLogger{}, chain.Settings, chain.CS, pool, store)
	require.NoError(t, w.Open(context.Background()))

	return &testWallet{Wallet: w, chain: chain, pool: pool, store: store}
}

func (tw *testWallet) receiveScript(t *testing.T) []byte {
	t.Helper()

	addr, err := tw.NewAddress("")
	require.NoError(t, err)

	dest, err := txscript.DecodeDestination(addr, tw.params)
	require.NoError(t, err)

	script, err := dest.Script()
	require.NoError(t, err)

	return script
}

// fund mines a block paying the wallet and enough blocks on top for the
// coinbase to mature.
func (tw *testWallet) fund(t *testing.T) *model.Block {
	t.Helper()

	block := tw.chain.Mine(1, tw.receiveScript(t))[0]
	tw.chain.Mine(int(tw.params.CoinbaseMaturity), nil)

	return block
}

func (tw *testWallet) chainAddress() string {
	return txscript.NewKeyDestination(tw.chain.Key.PubKey().SerialiseCompressed()).Encode(tw.params)
}

func TestWallet_NewAddress(t *testing.T) {
	tw := newTestWallet(t)

	first, err := tw.NewAddress("savings")
	require.NoError(t, err)

	second, err := tw.NewAddress("")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	dest, err := txscript.DecodeDestination(first, tw.params)
	require.NoError(t, err)

	script, err := dest.Script()
	require.NoError(t, err)

	assert.True(t, tw.IsMine(script))
	assert.False(t, tw.IsMine(tw.chain.PkScript))

	book := tw.AddressBook()
	assert.Equal(t, AddressEntry{Label: "savings", Purpose: PurposeReceive}, book[first])
}

func TestWallet_KeyPoolRefills(t *testing.T) {
	tw := newTestWallet(t)

	for i := 0; i < 12; i++ {
		_, err := tw.NewAddress("")
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, tw.KeyPoolSize(), 5)
}

func TestWallet_CoinbaseMaturity(t *testing.T) {
	tw := newTestWallet(t)

	block := tw.chain.Mine(1, tw.receiveScript(t))[0]
	subsidy := block.Transactions[0].TxOut[0].Value

	b := tw.Balance()
	assert.Equal(t, subsidy, b.Immature)
	assert.Zero(t, b.Confirmed)
	assert.Empty(t, tw.ListUnspent(1))

	// spendable once the next block is CoinbaseMaturity above it
	tw.chain.Mine(int(tw.params.CoinbaseMaturity)-2, nil)
	assert.Equal(t, subsidy, tw.Balance().Immature)

	tw.chain.Mine(1, nil)

	b = tw.Balance()
	assert.Zero(t, b.Immature)
	assert.Equal(t, subsidy, b.Confirmed)
	require.Len(t, tw.ListUnspent(1), 1)
	assert.Equal(t, tw.chain.CS.Height(), tw.BestHeight())
}

func TestWallet_SendTo(t *testing.T) {
	tw := newTestWallet(t)
	block := tw.fund(t)
	subsidy := block.Transactions[0].TxOut[0].Value

	amount := 10 * model.COIN

	hash, err := tw.SendTo(context.Background(), tw.chainAddress(), amount)
	require.NoError(t, err)

	require.Len(t, tw.pool.accepted, 1)
	tx := tw.pool.accepted[0]
	assert.Equal(t, hash, tx.TxHash())

	wtx, ok := tw.Transaction(hash)
	require.True(t, ok)
	assert.True(t, wtx.FromMe)
	assert.False(t, wtx.IsConfirmed())

	fee := tw.Debit(tx) - tw.Credit(tx) - amount
	assert.Positive(t, fee)
	assert.GreaterOrEqual(t, fee, tw.pool.policy.FeeForSize(tx.SerializeSize()))

	b := tw.Balance()
	assert.Zero(t, b.Confirmed)
	assert.Equal(t, subsidy-amount-fee, b.Unconfirmed)

	_, known := tw.AddressBook()[tw.chainAddress()]
	assert.True(t, known)

	// the change is spendable before it confirms
	_, err = tw.SendTo(context.Background(), tw.chainAddress(), amount)
	require.NoError(t, err)
}

func TestWallet_SendToRefused(t *testing.T) {
	tw := newTestWallet(t)
	tw.fund(t)

	tw.pool.err = errors.NewTxPolicyError("refused")

	_, err := tw.SendTo(context.Background(), tw.chainAddress(), model.COIN)
	require.Error(t, err)

	// the refused transaction no longer holds the coin
	tw.pool.err = nil

	_, err = tw.SendTo(context.Background(), tw.chainAddress(), model.COIN)
	require.NoError(t, err)
}

func TestWallet_SendToInvalid(t *testing.T) {
	tw := newTestWallet(t)

	_, err := tw.SendTo(context.Background(), "not-an-address", model.COIN)
	require.Error(t, err)

	_, err = tw.SendTo(context.Background(), tw.chainAddress(), 0)
	require.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = tw.SendTo(context.Background(), tw.chainAddress(), model.COIN)
	require.ErrorIs(t, err, errors.ErrWalletInsufficient)
}

func TestWallet_ReorgConflictsCoinbase(t *testing.T) {
	tw := newTestWallet(t)
	tw.chain.Mine(2, nil)

	fork := tw.chain.CS.Tip()
	block := tw.chain.Mine(1, tw.receiveScript(t))[0]
	hash := block.Transactions[0].TxHash()

	wtx, ok := tw.Transaction(hash)
	require.True(t, ok)
	require.True(t, wtx.IsConfirmed())

	parent := fork
	for i := 0; i < 2; i++ {
		next := tw.chain.NextBlock(parent, nil)

		bi, err := tw.chain.CS.ProcessNewBlock(context.Background(), next, true)
		require.NoError(t, err)

		parent = bi
	}

	require.Equal(t, parent.Hash, tw.chain.CS.Tip().Hash)

	wtx, ok = tw.Transaction(hash)
	require.True(t, ok)
	assert.False(t, wtx.IsConfirmed())
	assert.True(t, wtx.Conflicted)
	assert.Zero(t, tw.Balance().Immature)
}

func TestWallet_Reopen(t *testing.T) {
	tw := newTestWallet(t)
	block := tw.fund(t)

	addr, err := tw.NewAddress("kept")
	require.NoError(t, err)

	_, err = tw.Move("", "savings", model.COIN, "set aside")
	require.NoError(t, err)

	require.NoError(t, tw.Flush())

	reopened := openTestWallet(t, tw.chain, tw.store)

	assert.Equal(t, tw.Balance(), reopened.Balance())
	assert.Equal(t, "kept", reopened.AddressBook()[addr].Label)
	assert.Len(t, reopened.AccountingEntries("savings"), 1)
	assert.Len(t, reopened.AccountingEntries("*"), 2)

	_, ok := reopened.Transaction(block.Transactions[0].TxHash())
	assert.True(t, ok)
}

func TestWallet_Rescan(t *testing.T) {
	flags := map[string]string{"keypool": "5", "zerocoin_lookahead": "2"}
	store := kvstore.NewMemory(ulogger.TestLogger{}, "wallet")

	// the wallet is created against one chain and the blocks paying it
	// are mined on another it never watched
	tw := openTestWallet(t, chaintest.New(t, flags), store)
	script := tw.receiveScript(t)
	require.NoError(t, tw.Flush())

	other := chaintest.New(t, flags)
	other.Mine(3, script)

	fresh := openTestWallet(t, other, store)
	assert.Empty(t, fresh.Transactions())

	require.NoError(t, fresh.Rescan(context.Background(), 0))

	assert.Len(t, fresh.Transactions(), 3)
	assert.Equal(t, other.CS.Height(), fresh.BestHeight())
	assert.Equal(t, 3*other.CS.Params().BlockSubsidy(1), fresh.Balance().Immature)
}

func TestWallet_Move(t *testing.T) {
	tw := newTestWallet(t)

	_, err := tw.Move("a", "b", 0, "")
	require.ErrorIs(t, err, errors.ErrInvalidArgument)

	credit, err := tw.Move("a", "b", 2*model.COIN, "lunch")
	require.NoError(t, err)
	assert.Equal(t, "b", credit.Account)
	assert.Equal(t, 2*model.COIN, credit.Amount)

	debits := tw.AccountingEntries("a")
	require.Len(t, debits, 1)
	assert.Equal(t, -2*model.COIN, debits[0].Amount)
	assert.Less(t, debits[0].OrderPos, credit.OrderPos)
}

func TestWallet_SetLabel(t *testing.T) {
	tw := newTestWallet(t)

	require.NoError(t, tw.SetLabel(context.Background(), tw.chainAddress(), "miner"))
	assert.Equal(t, AddressEntry{Label: "miner", Purpose: PurposeSend}, tw.AddressBook()[tw.chainAddress()])

	require.Error(t, tw.SetLabel(context.Background(), "bogus", "x"))
}

func TestWallet_ImportDumpPrivKey(t *testing.T) {
	tw := newTestWallet(t)

	wif := model.EncodeBase58Check([]byte{tw.params.PrivateKeyID}, append(tw.chain.Key.Serialise(), 0x01))

	addr, err := tw.ImportPrivKey(wif, "imported")
	require.NoError(t, err)
	assert.Equal(t, tw.chainAddress(), addr)
	assert.True(t, tw.IsMine(tw.chain.PkScript))

	dumped, err := tw.DumpPrivKey(addr)
	require.NoError(t, err)
	assert.Equal(t, wif, dumped)

	// HD keys dump too
	own, err := tw.NewAddress("")
	require.NoError(t, err)

	_, err = tw.DumpPrivKey(own)
	require.NoError(t, err)

	_, err = tw.ImportPrivKey("garbage", "")
	require.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestWallet_StakeableCoins(t *testing.T) {
	tw := newTestWallet(t)
	tw.fund(t)

	coins, err := tw.StakeableCoins(tw.chain.CS.Height() + 1)
	require.NoError(t, err)
	require.Len(t, coins, 1)

	key, err := tw.KeyForScript(coins[0].TxOut.PkScript)
	require.NoError(t, err)
	assert.NotNil(t, key)
}
