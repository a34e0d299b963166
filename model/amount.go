package model

import (
	"fmt"
)

const (
	// COIN is the number of smallest units in one coin.
	COIN int64 = 100000000

	// CENT is one hundredth of a coin.
	CENT int64 = 1000000

	// MaxMoney is the largest amount any single output or sum of outputs may
	// carry.
	MaxMoney = 21000000 * COIN
)

// MoneyRange reports whether v is a valid amount.
func MoneyRange(v int64) bool {
	return v >= 0 && v <= MaxMoney
}

// AddMoney adds two amounts, reporting false when either operand or the sum
// falls outside the money range.
func AddMoney(a, b int64) (int64, bool) {
	if !MoneyRange(a) || !MoneyRange(b) {
		return 0, false
	}

	sum := a + b
	if !MoneyRange(sum) {
		return 0, false
	}

	return sum, true
}

// FormatMoney renders an amount as a decimal coin value.
func FormatMoney(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%08d", sign, v/COIN, v%COIN)
}
