package main

import (
	"strconv"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/chaincfg"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/services/legacy/wire"
)

const usage = `commands:
  ping [nonce]                 send a ping
  getaddr                      ask for known peer addresses
  mempool                      ask for the node's mempool inventory
  getsporks                    ask for the active sporks
  getheaders [hash...]         ask for headers after the given hashes, genesis by default
  getdata tx|block <hash>...   ask for transactions or blocks
  inv tx|block <hash>...       announce transactions or blocks
  help                         show this help
  exit                         disconnect and quit
`

// buildMessage turns a command line into the protocol message it sends.
func buildMessage(cmd string, args []string, params *chaincfg.Params) (wire.Message, error) {
	switch cmd {
	case "ping":
		var nonce uint64

		if len(args) > 0 {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return nil, errors.NewInvalidArgumentError("invalid nonce %q", args[0])
			}

			nonce = n
		}

		return wire.NewMsgPing(nonce), nil

	case "getaddr":
		return &wire.MsgGetAddr{}, nil

	case "mempool":
		return &wire.MsgMemPool{}, nil

	case "getsporks":
		return &wire.MsgGetSporks{}, nil

	case "getheaders":
		msg := wire.NewMsgGetHeaders()

		hashes, err := parseHashes(args)
		if err != nil {
			return nil, err
		}

		if len(hashes) == 0 {
			genesis := params.GenesisHash
			hashes = append(hashes, &genesis)
		}

		for _, h := range hashes {
			if err = msg.AddBlockLocatorHash(h); err != nil {
				return nil, err
			}
		}

		return msg, nil

	case "getdata", "inv":
		if len(args) < 2 {
			return nil, errors.NewInvalidArgumentError("usage: %s tx|block <hash>...", cmd)
		}

		var typ wire.InvType

		switch args[0] {
		case "tx":
			typ = wire.InvTypeTx
		case "block":
			typ = wire.InvTypeBlock
		default:
			return nil, errors.NewInvalidArgumentError("unknown inventory type %q", args[0])
		}

		hashes, err := parseHashes(args[1:])
		if err != nil {
			return nil, err
		}

		if cmd == "inv" {
			msg := wire.NewMsgInv()
			for _, h := range hashes {
				if err = msg.AddInvVect(wire.NewInvVect(typ, h)); err != nil {
					return nil, err
				}
			}

			return msg, nil
		}

		msg := wire.NewMsgGetData()
		for _, h := range hashes {
			if err = msg.AddInvVect(wire.NewInvVect(typ, h)); err != nil {
				return nil, err
			}
		}

		return msg, nil
	}

	return nil, errors.NewInvalidArgumentError("unknown command %q, try help", cmd)
}

func parseHashes(args []string) ([]*chainhash.Hash, error) {
	hashes := make([]*chainhash.Hash, 0, len(args))

	for _, a := range args {
		h, err := chainhash.NewHashFromStr(a)
		if err != nil {
			return nil, errors.NewInvalidArgumentError("invalid hash %q", a, err)
		}

		hashes = append(hashes, h)
	}

	return hashes, nil
}
