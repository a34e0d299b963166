package libzerocoin

import (
	"strconv"

	"github.com/tessacoin/tessanode/errors"
)

// Denomination is the face value of a zerocoin in whole coins.
type Denomination int64

const (
	DenomError        Denomination = 0
	DenomOne          Denomination = 1
	DenomFive         Denomination = 5
	DenomTen          Denomination = 10
	DenomFifty        Denomination = 50
	DenomOneHundred   Denomination = 100
	DenomFiveHundred  Denomination = 500
	DenomOneThousand  Denomination = 1000
	DenomFiveThousand Denomination = 5000
)

// coin is the number of smallest units in one coin.
const coin int64 = 100000000

// Denominations lists every valid denomination in ascending order. The order
// is also the order of checksums inside an accumulator checkpoint.
var Denominations = []Denomination{
	DenomOne,
	DenomFive,
	DenomTen,
	DenomFifty,
	DenomOneHundred,
	DenomFiveHundred,
	DenomOneThousand,
	DenomFiveThousand,
}

func (d Denomination) IsValid() bool {
	return d.index() >= 0
}

func (d Denomination) index() int {
	for i, denom := range Denominations {
		if denom == d {
			return i
		}
	}

	return -1
}

// Amount returns the value of the denomination in smallest units.
func (d Denomination) Amount() int64 {
	return int64(d) * coin
}

func (d Denomination) String() string {
	if !d.IsValid() {
		return "invalid"
	}

	return strconv.FormatInt(int64(d), 10)
}

// AmountToDenomination maps an exact amount to its denomination.
func AmountToDenomination(amount int64) (Denomination, error) {
	if amount%coin != 0 {
		return DenomError, errors.NewZerocoinInvalidError("amount %d is not a whole number of coins", amount)
	}

	d := Denomination(amount / coin)
	if !d.IsValid() {
		return DenomError, errors.NewZerocoinInvalidError("amount %d is not a zerocoin denomination", amount)
	}

	return d, nil
}

// SplitAmount decomposes a whole coin amount into denominations using the
// fewest coins, largest first. Any remainder below one coin is returned.
func SplitAmount(amount int64) (map[Denomination]int, int64) {
	out := make(map[Denomination]int)

	for i := len(Denominations) - 1; i >= 0; i-- {
		d := Denominations[i]
		if n := amount / d.Amount(); n > 0 {
			out[d] = int(n)
			amount -= n * d.Amount()
		}
	}

	return out, amount
}
