package utxo

import (
	"github.com/tessacoin/tessanode/errors"
)

var (
	// ErrMissingInputs is returned when an input refers to an output that is
	// not in the view.
	ErrMissingInputs = errors.New(errors.ERR_TX_MISSING_PARENT, "inputs missing or spent")

	// ErrOverwrite is returned when a transaction would overwrite unspent
	// coins of an earlier transaction with the same hash.
	ErrOverwrite = errors.New(errors.ERR_TX_INVALID, "tried to overwrite transaction")

	// ErrBadUndo is returned when undo data does not match the view.
	ErrBadUndo = errors.New(errors.ERR_CORRUPTION, "undo data inconsistent with coins")
)
