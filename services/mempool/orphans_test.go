package mempool

import (
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
)

func orphanSpending(parent chainhash.Hash, outputs int) *model.Tx {
	tx := model.NewTx(1)
	tx.AddTxIn(model.NewTxIn(&model.OutPoint{Hash: parent}, []byte{0x51}))

	for i := 0; i < outputs; i++ {
		tx.AddTxOut(model.NewTxOut(int64(1000+i), []byte{0x51}))
	}

	return tx
}

func TestOrphanPoolIndexesByParent(t *testing.T) {
	op := newOrphanPool(10)

	parent := model.NewTx(1)
	parent.AddTxOut(model.NewTxOut(1, []byte{0x51}))

	a := orphanSpending(parent.TxHash(), 1)
	b := orphanSpending(parent.TxHash(), 2)

	require.NoError(t, op.add(a))
	require.NoError(t, op.add(b))
	require.NoError(t, op.add(a))

	assert.Equal(t, 2, op.count())
	assert.ElementsMatch(t, []*model.Tx{a, b}, op.spendersOf(parent))

	op.remove(a.TxHash(), false)
	assert.Equal(t, []*model.Tx{b}, op.spendersOf(parent))
	assert.False(t, op.have(a.TxHash()))
}

func TestOrphanPoolRecursiveRemove(t *testing.T) {
	op := newOrphanPool(10)

	child := orphanSpending(chainhash.HashH([]byte("missing")), 1)
	grandchild := orphanSpending(child.TxHash(), 1)

	require.NoError(t, op.add(child))
	require.NoError(t, op.add(grandchild))

	op.remove(child.TxHash(), true)

	assert.Zero(t, op.count())
	assert.Empty(t, op.byParent)
}

func TestOrphanPoolBounded(t *testing.T) {
	op := newOrphanPool(3)

	for i := 0; i < 10; i++ {
		require.NoError(t, op.add(orphanSpending(chainhash.HashH([]byte{byte(i)}), 1)))
	}

	assert.Equal(t, 3, op.count())
}

func TestOrphanPoolRejectsLarge(t *testing.T) {
	op := newOrphanPool(3)

	big := orphanSpending(chainhash.HashH([]byte("big")), 1)
	big.TxOut[0].PkScript = make([]byte, maxOrphanTxSize)

	require.Error(t, op.add(big))
	assert.Zero(t, op.count())

	require.Error(t, newOrphanPool(0).add(orphanSpending(chainhash.Hash{}, 1)))
}

func TestOrphanPoolExpiry(t *testing.T) {
	op := newOrphanPool(10)

	old := orphanSpending(chainhash.HashH([]byte("old")), 1)
	require.NoError(t, op.add(old))

	op.mu.Lock()
	op.expireLocked(time.Now().Add(orphanTTL + time.Minute))
	op.mu.Unlock()

	assert.False(t, op.have(old.TxHash()))
}
