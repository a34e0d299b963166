package wallet

import (
	"context"
	"math/big"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/pkg/libzerocoin"
	"github.com/tessacoin/tessanode/services/legacy/txscript"
	"github.com/tessacoin/tessanode/services/zerocoin"
	"github.com/tessacoin/tessanode/stores/kvstore"
)

// Mint is a zerocoin derived from the wallet's zerocoin seed.
type Mint struct {
	Count        uint32                   `json:"count"`
	Denomination libzerocoin.Denomination `json:"denomination"`
	PubCoinHash  chainhash.Hash           `json:"pubCoinHash"`
	SerialHash   chainhash.Hash           `json:"serialHash"`
	TxHash       chainhash.Hash           `json:"txHash"`
	Height       int32                    `json:"height"`
	Used         bool                     `json:"used"`
	SpendTx      chainhash.Hash           `json:"spendTx"`
}

// lookaheadCoin is a pre-derived coin not yet seen on chain.
type lookaheadCoin struct {
	count      uint32
	value      []byte
	serialHash chainhash.Hash
}

func (w *Wallet) putMint(batch *kvstore.Batch, m *Mint) error {
	return w.db.put(batch, kvstore.Key(prefixMint, m.PubCoinHash[:]), m)
}

func (w *Wallet) deriveCoin(count uint32) (*libzerocoin.PrivateCoin, error) {
	if w.zcSeed == nil {
		return nil, errors.NewWalletLockedError("wallet is locked")
	}

	return libzerocoin.DeriveCoin(w.params.Zerocoin.Group, w.zcSeed, count)
}

// topUpMintLookahead derives the coins following the last used count so
// mints made by another copy of the seed are recognised. It needs the
// zerocoin seed and does nothing while locked.
func (w *Wallet) topUpMintLookahead() {
	if w.zcSeed == nil {
		return
	}

	upTo := w.meta.MintCount + uint32(w.settings.Wallet.ZerocoinLookahead)

	for count := w.meta.MintCount + 1; count <= upTo; count++ {
		if w.lookaheadByCount(count) != nil {
			continue
		}

		coin, err := w.deriveCoin(count)
		if err != nil {
			w.logger.Errorf("[wallet] failed to derive zerocoin %d: %v", count, err)
			return
		}

		w.lookahead[coin.PublicCoin.Hash()] = count
		w.lookaheadCoins = append(w.lookaheadCoins, &lookaheadCoin{
			count:      count,
			value:      coin.PublicCoin.Bytes(),
			serialHash: libzerocoin.SerialHash(coin.Serial),
		})
	}
}

func (w *Wallet) lookaheadByCount(count uint32) *lookaheadCoin {
	for _, la := range w.lookaheadCoins {
		if la.count == count {
			return la
		}
	}

	return nil
}

func (w *Wallet) dropLookahead(pubHash chainhash.Hash, count uint32) {
	delete(w.lookahead, pubHash)

	for i, la := range w.lookaheadCoins {
		if la.count == count {
			w.lookaheadCoins = append(w.lookaheadCoins[:i], w.lookaheadCoins[i+1:]...)
			return
		}
	}
}

func mintPubCoinHash(out *model.TxOut) (chainhash.Hash, bool) {
	value, err := model.ZerocoinMintValue(out.PkScript)
	if err != nil {
		return chainhash.Hash{}, false
	}

	return libzerocoin.PubCoinHash(new(big.Int).SetBytes(value)), true
}

// mintFor reports whether a mint output is one of the wallet's coins.
func (w *Wallet) mintFor(out *model.TxOut) *chainhash.Hash {
	h, ok := mintPubCoinHash(out)
	if !ok {
		return nil
	}

	if _, ok := w.mints[h]; ok {
		return &h
	}

	if _, ok := w.lookahead[h]; ok {
		return &h
	}

	return nil
}

// trackZerocoin updates the mints that wtx creates or spends.
func (w *Wallet) trackZerocoin(batch *kvstore.Batch, wtx *WalletTx) error {
	if !wtx.Tx.ContainsZerocoins() {
		return nil
	}

	for _, out := range wtx.Tx.TxOut {
		if !out.IsZerocoinMint() {
			continue
		}

		h, ok := mintPubCoinHash(out)
		if !ok {
			continue
		}

		m, known := w.mints[h]
		if !known {
			count, ahead := w.lookahead[h]
			if !ahead {
				continue
			}

			denom, err := libzerocoin.AmountToDenomination(out.Value)
			if err != nil {
				continue
			}

			la := w.lookaheadByCount(count)

			m = &Mint{Count: count, Denomination: denom, PubCoinHash: h, SerialHash: la.serialHash}
			w.mints[h] = m
			w.serials[m.SerialHash] = h
			w.dropLookahead(h, count)

			if count > w.meta.MintCount {
				w.meta.MintCount = count
				w.topUpMintLookahead()
			}

			w.logger.Infof("[wallet] recovered zerocoin mint %d of denomination %s", count, denom)
		}

		m.TxHash = wtx.Hash
		m.Height = wtx.BlockHeight

		if err := w.putMint(batch, m); err != nil {
			return err
		}
	}

	if !wtx.Tx.IsZerocoinSpend() {
		return nil
	}

	serials, err := zerocoin.SpendSerialHashes(wtx.Tx)
	if err != nil {
		return nil
	}

	for _, s := range serials {
		pub, ok := w.serials[s]
		if !ok {
			continue
		}

		m := w.mints[pub]
		m.Used = true
		m.SpendTx = wtx.Hash

		if err := w.putMint(batch, m); err != nil {
			return err
		}
	}

	return nil
}

// unconfirmMints returns the mints created by txHash to unconfirmed.
func (w *Wallet) unconfirmMints(batch *kvstore.Batch, txHash chainhash.Hash) {
	for _, m := range w.mints {
		if m.TxHash == txHash {
			m.Height = unconfirmed
			_ = w.putMint(batch, m)
		}
	}
}

// releaseMints undoes the effect of an abandoned transaction on the mints
// it spent or created.
func (w *Wallet) releaseMints(batch *kvstore.Batch, txHash chainhash.Hash) {
	for _, m := range w.mints {
		if m.Used && m.SpendTx == txHash {
			m.Used = false
			m.SpendTx = chainhash.Hash{}
			_ = w.putMint(batch, m)
		}

		if m.TxHash == txHash && m.Height == unconfirmed {
			delete(w.mints, m.PubCoinHash)
			delete(w.serials, m.SerialHash)
			batch.Delete(kvstore.Key(prefixMint, m.PubCoinHash[:]))
		}
	}
}

// Mints returns the wallet's mints ordered by count.
func (w *Wallet) Mints() []Mint {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Mint, 0, len(w.mints))
	for _, m := range w.mints {
		out = append(out, *m)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Count < out[j].Count
	})

	return out
}

// CreateMint builds a transaction converting amount, a whole number of
// coins, into zerocoins of the fewest denominations. The new mints are
// recorded before the transaction is returned.
func (w *Wallet) CreateMint(amount int64) (*model.Tx, error) {
	split, remainder := libzerocoin.SplitAmount(amount)
	if amount <= 0 || remainder != 0 {
		return nil, errors.NewInvalidArgumentError("mint amount %s is not a whole number of coins", model.FormatMoney(amount))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.params.IsZerocoinActive(w.tipHeight + 1) {
		return nil, errors.NewInvalidArgumentError("zerocoin is not active before height %d", w.params.Zerocoin.StartHeight)
	}

	if w.isLocked() {
		return nil, errors.NewWalletLockedError("wallet is locked")
	}

	var (
		outputs []*model.TxOut
		mints   []*Mint
	)

	count := w.meta.MintCount

	for _, denom := range libzerocoin.Denominations {
		for i := 0; i < split[denom]; i++ {
			count++

			var (
				value      []byte
				serialHash chainhash.Hash
			)

			if la := w.lookaheadByCount(count); la != nil {
				value, serialHash = la.value, la.serialHash
			} else {
				coin, err := w.deriveCoin(count)
				if err != nil {
					return nil, err
				}

				value, serialHash = coin.PublicCoin.Bytes(), libzerocoin.SerialHash(coin.Serial)
			}

			outputs = append(outputs, model.NewTxOut(denom.Amount(), model.NewZerocoinMintScript(value)))
			mints = append(mints, &Mint{
				Count:        count,
				Denomination: denom,
				PubCoinHash:  libzerocoin.PubCoinHash(new(big.Int).SetBytes(value)),
				SerialHash:   serialHash,
				Height:       unconfirmed,
			})
		}
	}

	tx, _, err := w.fund(outputs, int64(len(outputs))*w.params.Zerocoin.MintFee, 0)
	if err != nil {
		return nil, err
	}

	batch := kvstore.NewBatch()

	for _, m := range mints {
		m.TxHash = tx.TxHash()
		w.mints[m.PubCoinHash] = m
		w.serials[m.SerialHash] = m.PubCoinHash
		w.dropLookahead(m.PubCoinHash, m.Count)

		if err := w.putMint(batch, m); err != nil {
			return nil, err
		}
	}

	w.meta.MintCount = count
	w.topUpMintLookahead()

	if err := w.db.put(batch, metaKey(), w.meta); err != nil {
		return nil, err
	}

	if err := w.db.write(batch); err != nil {
		return nil, err
	}

	return tx, nil
}

// MintZerocoin mints amount and submits the transaction.
func (w *Wallet) MintZerocoin(ctx context.Context, amount int64) (chainhash.Hash, error) {
	tx, err := w.CreateMint(amount)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if err := w.CommitTransaction(ctx, tx); err != nil {
		return chainhash.Hash{}, err
	}

	prometheusWalletMinted.Add(float64(amount / model.COIN))

	return tx.TxHash(), nil
}

// SelectMints picks mints summing to amount with the fewest spends,
// largest denominations first. When no exact sum exists the smallest
// overshoot is taken and the caller pays the excess back as change.
func SelectMints(mints []*Mint, amount int64, maxSpends int) ([]*Mint, int64, error) {
	sorted := append([]*Mint(nil), mints...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Denomination > sorted[j].Denomination
	})

	var (
		selected []*Mint
		total    int64
		rest     []*Mint
	)

	for _, m := range sorted {
		if v := m.Denomination.Amount(); total+v <= amount {
			selected = append(selected, m)
			total += v
		} else {
			rest = append(rest, m)
		}
	}

	if total < amount {
		// sorted is descending, so the last match is the smallest mint
		// covering what is missing
		smallestCover := func(from []*Mint, need int64) *Mint {
			var cover *Mint

			for _, m := range from {
				if m.Denomination.Amount() >= need {
					cover = m
				}
			}

			return cover
		}

		single := smallestCover(sorted, amount)
		cover := smallestCover(rest, amount-total)

		switch {
		case cover == nil && single == nil:
			return nil, 0, errors.NewWalletInsufficientError("insufficient zerocoin balance for %s", model.FormatMoney(amount))
		case cover == nil || (single != nil && single.Denomination.Amount() <= total+cover.Denomination.Amount()):
			selected, total = []*Mint{single}, single.Denomination.Amount()
		default:
			selected = append(selected, cover)
			total += cover.Denomination.Amount()
		}
	}

	if len(selected) > maxSpends {
		return nil, 0, errors.NewInvalidArgumentError("spending %s needs %d zerocoins, more than %d", model.FormatMoney(amount), len(selected), maxSpends)
	}

	return selected, total, nil
}

// CreateZerocoinSpend builds a transaction spending wallet mints worth at
// least amount to addr. Each spend proves membership in the accumulator of
// a checkpoint deep enough for the next block.
func (w *Wallet) CreateZerocoinSpend(ctx context.Context, amount int64, addr string) (*model.Tx, error) {
	if amount <= 0 || amount%model.COIN != 0 {
		return nil, errors.NewInvalidArgumentError("spend amount %s is not a whole number of coins", model.FormatMoney(amount))
	}

	dest, err := txscript.DecodeDestination(addr, w.params)
	if err != nil {
		return nil, err
	}

	payTo, err := dest.Script()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()

	if w.isLocked() {
		w.mu.Unlock()
		return nil, errors.NewWalletLockedError("wallet is locked")
	}

	spendHeight := w.tipHeight + 1
	required := w.params.Zerocoin.MintRequiredConfirmations

	var candidates []*Mint

	for _, m := range w.mints {
		if !m.Used && m.Height != unconfirmed && spendHeight-m.Height > required {
			candidates = append(candidates, m)
		}
	}

	selected, total, err := SelectMints(candidates, amount, w.params.Zerocoin.MaxSpendsPerTx)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	coins := make([]*libzerocoin.PrivateCoin, 0, len(selected))

	for _, m := range selected {
		coin, err := w.deriveCoin(m.Count)
		if err != nil {
			w.mu.Unlock()
			return nil, err
		}

		coin.SetDenomination(m.Denomination)
		coins = append(coins, coin)
	}

	var changeScript []byte
	if total > amount {
		if changeScript, err = w.changeScript(); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}

	w.mu.Unlock()

	tx := model.NewTx(model.TxVersion)

	for _, coin := range coins {
		in := model.NewTxIn(model.NewOutPoint(&chainhash.Hash{}, model.MaxPrevOutIndex), nil)
		in.Sequence = uint32(coin.PublicCoin.Denomination)
		tx.AddTxIn(in)
	}

	tx.AddTxOut(model.NewTxOut(amount, payTo))

	if changeScript != nil {
		tx.AddTxOut(model.NewTxOut(total-amount, changeScript))
	}

	partial := tx.PartialHash()
	tracker := w.chain.Tracker()
	group := w.params.Zerocoin.Group

	for i, coin := range coins {
		material, err := tracker.SpendWitness(ctx, coin.PublicCoin, selected[i].Height, spendHeight)
		if err != nil {
			return nil, err
		}

		spend, err := libzerocoin.NewCoinSpend(group, coin, material.Accumulator, material.Checksum, material.Witness, partial)
		if err != nil {
			return nil, errors.NewZerocoinInvalidError("failed to build spend of mint %d", selected[i].Count, err)
		}

		tx.TxIn[i].SignatureScript = model.NewZerocoinSpendScript(spend.Bytes())
	}

	return tx, nil
}

// SpendZerocoin spends amount of zerocoins to addr and submits the
// transaction.
func (w *Wallet) SpendZerocoin(ctx context.Context, amount int64, addr string) (chainhash.Hash, error) {
	tx, err := w.CreateZerocoinSpend(ctx, amount, addr)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if err := w.CommitTransaction(ctx, tx); err != nil {
		return chainhash.Hash{}, err
	}

	return tx.TxHash(), nil
}
