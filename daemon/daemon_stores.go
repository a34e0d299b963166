package daemon

import (
	"path/filepath"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/blockchain"
	"github.com/tessacoin/tessanode/settings"
	blockchain_store "github.com/tessacoin/tessanode/stores/blockchain"
	"github.com/tessacoin/tessanode/stores/blockfile"
	"github.com/tessacoin/tessanode/stores/kvstore"
	"github.com/tessacoin/tessanode/stores/utxo"
	zcstore "github.com/tessacoin/tessanode/stores/zerocoin"
	"github.com/tessacoin/tessanode/ulogger"
)

const maxIndexCacheBytes = 2 << 20

// Stores holds every database the node opens below the data directory.
type Stores struct {
	TreeDB   *blockchain_store.TreeDB
	Files    *blockfile.Store
	Coins    *utxo.DB
	Zerocoin *zcstore.Store

	// Wallet is nil when the wallet is disabled.
	Wallet kvstore.Store
}

// cacheSplit divides the -dbcache budget between the database block
// caches: the block index and zerocoin indexes get an eighth each, capped,
// and the coins database a quarter. The rest is left to the in-memory
// coins cache.
func cacheSplit(total int64) (index, coins, zerocoin int) {
	index = int(min(total/8, maxIndexCacheBytes))
	zerocoin = index
	coins = int(total / 4)

	return index, coins, zerocoin
}

// openStores opens the databases. The coins and zerocoin databases are
// opened wiped when a reindex is requested or was left unfinished.
func openStores(logger ulogger.Logger, tSettings *settings.Settings) (*Stores, error) {
	indexCache, coinsCache, zcCache := cacheSplit(tSettings.CoinsCacheBytes())

	s := &Stores{}

	treeDB, err := blockchain_store.NewStore(logger, kvstore.PathURL(tSettings.Path(filepath.Join("blocks", "index"))), indexCache)
	if err != nil {
		return nil, err
	}

	s.TreeDB = treeDB

	wipe, err := blockchain.NeedsReindex(treeDB, tSettings.Block.Reindex)
	if err != nil {
		return nil, s.closeOnError(err)
	}

	if wipe {
		logger.Infof("[stores] wiping chainstate and zerocoin indexes for reindex")
	}

	if s.Files, err = blockfile.New(logger, tSettings.Path("blocks"), tSettings.ChainCfgParams.MessageStart); err != nil {
		return nil, s.closeOnError(err)
	}

	if s.Coins, err = utxo.NewStore(logger, kvstore.PathURL(tSettings.Path("chainstate")), coinsCache, wipe); err != nil {
		return nil, s.closeOnError(err)
	}

	if s.Zerocoin, err = zcstore.NewStore(logger, kvstore.PathURL(tSettings.Path("zerocoin")), zcCache, wipe); err != nil {
		return nil, s.closeOnError(err)
	}

	if !tSettings.Wallet.Disabled {
		if s.Wallet, err = kvstore.New(logger, "wallet", tSettings.Path("wallet"), kvstore.Options{}); err != nil {
			return nil, s.closeOnError(err)
		}
	}

	return s, nil
}

// chain returns the stores the chain state takes ownership of.
func (s *Stores) chain() blockchain.Stores {
	return blockchain.Stores{
		TreeDB:   s.TreeDB,
		Files:    s.Files,
		Coins:    s.Coins,
		Zerocoin: s.Zerocoin,
	}
}

// closeChain closes the chain stores; it is only used when no chain state
// took ownership of them.
func (s *Stores) closeChain() error {
	var errs []error

	if s.Files != nil {
		errs = append(errs, s.Files.Flush(false))
	}

	if s.TreeDB != nil {
		errs = append(errs, s.TreeDB.Close())
	}

	if s.Coins != nil {
		errs = append(errs, s.Coins.Close())
	}

	if s.Zerocoin != nil {
		errs = append(errs, s.Zerocoin.Close())
	}

	return errors.Join(errs...)
}

func (s *Stores) closeWallet() error {
	if s.Wallet == nil {
		return nil
	}

	return s.Wallet.Close()
}

// closeOnError releases what was opened before err; close failures are
// secondary to err.
func (s *Stores) closeOnError(err error) error {
	_ = s.closeChain()
	_ = s.closeWallet()

	return err
}
