package wallet

import (
	"sort"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
)

// maxExactTries bounds the exact-match search.
const maxExactTries = 100000

// SelectCoins picks outputs worth at least target. An exact match, single
// or combined, wins; otherwise the smallest single output above the target;
// otherwise outputs are added smallest first until the target is met.
func SelectCoins(coins []Output, target int64) ([]Output, int64, error) {
	if target <= 0 {
		return nil, 0, errors.NewInvalidArgumentError("invalid selection target %d", target)
	}

	sorted := append([]Output(nil), coins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TxOut.Value < sorted[j].TxOut.Value
	})

	var (
		lower       []Output
		lowerTotal  int64
		smallestAbv *Output
	)

	for i := range sorted {
		v := sorted[i].TxOut.Value

		switch {
		case v == target:
			return []Output{sorted[i]}, v, nil
		case v < target:
			lower = append(lower, sorted[i])
			lowerTotal += v
		case smallestAbv == nil:
			smallestAbv = &sorted[i]
		}
	}

	if lowerTotal >= target {
		if exact := exactSubset(lower, target); exact != nil {
			return exact, target, nil
		}
	}

	if smallestAbv != nil {
		return []Output{*smallestAbv}, smallestAbv.TxOut.Value, nil
	}

	if lowerTotal < target {
		return nil, 0, errors.NewWalletInsufficientError("insufficient funds: have %s, need %s",
			model.FormatMoney(lowerTotal), model.FormatMoney(target))
	}

	var (
		selected []Output
		total    int64
	)

	for _, c := range lower {
		selected = append(selected, c)
		total += c.TxOut.Value

		if total >= target {
			break
		}
	}

	return selected, total, nil
}

// exactSubset runs a depth-first branch and bound over coins, sorted
// ascending, for a subset summing exactly to target.
func exactSubset(coins []Output, target int64) []Output {
	n := len(coins)

	// suffix[i] is the value of coins[i:]
	suffix := make([]int64, n+1)
	for i := n - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + coins[i].TxOut.Value
	}

	var (
		picked []int
		tries  int
		found  []int
	)

	var search func(i int, remaining int64) bool
	search = func(i int, remaining int64) bool {
		tries++

		if remaining == 0 {
			found = append([]int(nil), picked...)
			return true
		}

		if i < 0 || tries > maxExactTries || suffix[0]-suffix[i+1] < remaining {
			return false
		}

		// largest first keeps the branch count low
		if v := coins[i].TxOut.Value; v <= remaining {
			picked = append(picked, i)
			if search(i-1, remaining-v) {
				return true
			}

			picked = picked[:len(picked)-1]
		}

		return search(i-1, remaining)
	}

	if !search(n-1, target) {
		return nil
	}

	out := make([]Output, 0, len(found))
	for j := len(found) - 1; j >= 0; j-- {
		out = append(out, coins[found[j]])
	}

	return out
}
