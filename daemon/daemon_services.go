package daemon

import (
	"context"

	"github.com/tessacoin/tessanode/services/blockassembly"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/services/legacy"
	"github.com/tessacoin/tessanode/services/mempool"
	"github.com/tessacoin/tessanode/services/miner"
	"github.com/tessacoin/tessanode/services/wallet"
	"github.com/tessacoin/tessanode/settings"
	"github.com/tessacoin/tessanode/util/servicemanager"
)

// Services are the components of a running node.
type Services struct {
	Chain   *blockchain.ChainState
	Mempool *mempool.TxMempool
	// Wallet is nil when the wallet is disabled.
	Wallet *wallet.Wallet
	P2P    *legacy.Server
	Miner  *miner.Miner
}

// startServices builds the services over stores and registers them in
// dependency order: the chain is loaded first, the mempool follows the
// chain, the wallet follows both, and the peer server and the miner come
// last. Services stop in the reverse order.
func (d *Daemon) startServices(_ context.Context, tSettings *settings.Settings, sm *servicemanager.ServiceManager, stores *Stores) error {
	createLogger := d.loggerFactory

	cs, err := blockchain.NewChainState(createLogger("chain"), tSettings, stores.chain())
	if err != nil {
		return err
	}

	// from here on closing the chain stores is the chain service's job
	d.chainOwnsStores = true
	d.Services.Chain = cs

	if err = sm.AddService("Chain", blockchain.New(createLogger("chain"), cs)); err != nil {
		return err
	}

	mp := mempool.New(createLogger("mempool"), tSettings, cs, cs.Tracker(), cs.TxValidator())
	cs.Subscribe(mp)
	d.Services.Mempool = mp

	if err = sm.AddService("Mempool", mempool.NewServer(createLogger("mempool"), mp)); err != nil {
		return err
	}

	var stakeWallet miner.StakeWallet

	if stores.Wallet != nil {
		w := wallet.New(createLogger("wallet"), tSettings, cs, mp, stores.Wallet)
		d.Services.Wallet = w
		stakeWallet = w

		if err = sm.AddService("Wallet", wallet.NewServer(createLogger("wallet"), w)); err != nil {
			return err
		}
	} else {
		d.loggerFactory("daemon").Infof("wallet disabled")
	}

	p2pServer, err := legacy.New(createLogger("p2p"), tSettings, cs, mp)
	if err != nil {
		return err
	}

	d.Services.P2P = p2pServer

	if err = sm.AddService("P2P", p2pServer); err != nil {
		return err
	}

	assembler := blockassembly.NewBlockAssembler(createLogger("assembly"), tSettings, cs, mp)

	m := miner.NewMiner(createLogger("miner"), tSettings, cs, assembler, stakeWallet)
	d.Services.Miner = m

	return sm.AddService("Miner", m)
}
