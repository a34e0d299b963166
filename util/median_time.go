package util

import (
	"sort"

	"github.com/tessacoin/tessanode/errors"
)

// MedianTimeBlocks is the number of previous blocks which should be
// used to calculate the median time used to validate block timestamps.
const MedianTimeBlocks = 11

// LockTimeThreshold is the number below which a lock time is interpreted to be
// a block number. Since an average of one block is generated per minute, this
// allows blocks for about 950 years.
const LockTimeThreshold = 500000000

// timeSorter implements sort.Interface to allow a slice of timestamps to
// be sorted.
type timeSorter []int64

func (s timeSorter) Len() int {
	return len(s)
}

func (s timeSorter) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s timeSorter) Less(i, j int) bool {
	return s[i] < s[j]
}

// CalcPastMedianTime calculates the median of the given timestamps, which are
// the times of up to MedianTimeBlocks blocks ending at (and including) the
// block whose median is wanted. The slice is sorted in place.
func CalcPastMedianTime(timestamps []int64) (int64, error) {
	if len(timestamps) == 0 {
		return 0, errors.New(errors.ERR_PROCESSING, "no timestamps for median time calculation")
	}

	if len(timestamps) > MedianTimeBlocks {
		return 0, errors.New(errors.ERR_PROCESSING, "too many timestamps for median time calculation")
	}

	sort.Sort(timeSorter(timestamps))

	// NOTE: The consensus rules incorrectly calculate the median for even
	// numbers of blocks. A true median averages the middle two elements
	// for a set with an even number of elements in it. Since the constant
	// for the previous number of blocks to be used is odd, this is only an
	// issue for a few blocks near the beginning of the chain.
	return timestamps[len(timestamps)/2], nil
}
