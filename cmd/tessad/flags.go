package main

import (
	"strings"

	"github.com/urfave/cli/v2"
)

type flagKind int

const (
	stringFlag flagKind = iota
	boolFlag
	listFlag
)

type flagSpec struct {
	name  string
	kind  flagKind
	usage string
	// key is the settings key when it differs from the flag name.
	key string
}

var flagSpecs = []flagSpec{
	{name: "datadir", usage: "data directory (default $HOME/.tessa)"},
	{name: "conf", usage: "configuration file, relative to the data directory (default tessa.conf)"},
	{name: "testnet", kind: boolFlag, usage: "use the test network"},
	{name: "regtest", kind: boolFlag, usage: "use the regression test network"},
	{name: "daemon", kind: boolFlag, usage: "run in the background"},
	{name: "loglevel", usage: "DEBUG, INFO, WARN or ERROR", key: "logLevel"},
	{name: "healthaddr", usage: "health and metrics listen address", key: "health_listenAddress"},

	{name: "port", usage: "listen for connections on this port"},
	{name: "bind", kind: listFlag, usage: "bind to this address, repeatable"},
	{name: "connect", kind: listFlag, usage: "connect only to this node, repeatable"},
	{name: "addnode", kind: listFlag, usage: "add a node to keep connected to, repeatable"},
	{name: "listen", kind: boolFlag, usage: "accept inbound connections (default true)"},
	{name: "dnsseed", kind: boolFlag, usage: "query DNS seeds for addresses (default true)"},
	{name: "proxy", usage: "connect through this SOCKS5 proxy"},
	{name: "maxconnections", usage: "maximum number of peers (default 125)"},
	{name: "maxoutbound", usage: "maximum number of outbound peers (default 16)"},
	{name: "banscore", usage: "misbehaviour score that bans a peer (default 100)"},
	{name: "bantime", usage: "seconds a peer stays banned (default 86400)"},
	{name: "whitelist", kind: listFlag, usage: "never ban peers from this address or network, repeatable"},

	{name: "dbcache", usage: "database cache in MB (4 to 4096, default 100)"},
	{name: "par", usage: "script verification threads, 0 for one per core"},
	{name: "checkblocks", usage: "blocks to verify at startup (default 6)"},
	{name: "checklevel", usage: "thoroughness of the startup verification, 0 to 4 (default 3)"},
	{name: "reindex", kind: boolFlag, usage: "rebuild the indexes from the block files"},
	{name: "txindex", kind: boolFlag, usage: "maintain a full transaction index"},
	{name: "checkpoints", kind: boolFlag, usage: "enforce the chain checkpoints (default true)"},
	{name: "blockmaxsize", usage: "maximum size of created blocks in bytes"},
	{name: "blockprioritysize", usage: "bytes of created blocks reserved for high priority transactions"},

	{name: "maxmempool", usage: "mempool size limit in MB (default 300)"},
	{name: "mempoolexpiry", usage: "hours a transaction stays in the mempool (default 72)"},
	{name: "minrelaytxfee", usage: "minimum relay fee per kB in satoshis"},
	{name: "limitfreerelay", usage: "free transactions relayed in kB per minute (default 15)"},
	{name: "maxorphantx", usage: "orphan transactions kept (default 100)"},

	{name: "staking", kind: boolFlag, usage: "stake the wallet's coins (default true)"},
	{name: "stakesplitthreshold", usage: "split stakes of at least this many coins (default 2000)"},
	{name: "reservebalance", usage: "coins kept out of staking"},
	{name: "disablewallet", kind: boolFlag, usage: "do not load the wallet"},
	{name: "rescan", kind: boolFlag, usage: "rescan the chain for wallet transactions"},
	{name: "keypool", usage: "size of the key pool (default 100)"},
}

func nodeFlags() []cli.Flag {
	flags := make([]cli.Flag, 0, len(flagSpecs))

	for _, f := range flagSpecs {
		switch f.kind {
		case boolFlag:
			flags = append(flags, &cli.BoolFlag{Name: f.name, Usage: f.usage})
		case listFlag:
			flags = append(flags, &cli.StringSliceFlag{Name: f.name, Usage: f.usage})
		default:
			flags = append(flags, &cli.StringFlag{Name: f.name, Usage: f.usage})
		}
	}

	return flags
}

// flagValues returns the flags given on the command line keyed by setting
// name. Flags left unset are absent so the configuration file applies.
func flagValues(c *cli.Context) map[string]string {
	values := make(map[string]string)

	for _, f := range flagSpecs {
		if !c.IsSet(f.name) {
			continue
		}

		key := f.key
		if key == "" {
			key = f.name
		}

		switch f.kind {
		case boolFlag:
			values[key] = "0"
			if c.Bool(f.name) {
				values[key] = "1"
			}
		case listFlag:
			values[key] = strings.Join(c.StringSlice(f.name), ",")
		default:
			values[key] = c.String(f.name)
		}
	}

	return values
}
