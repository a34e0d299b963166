package util

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactRoundTrip(t *testing.T) {
	tests := []struct {
		bits   uint32
		target string
	}{
		{0x1e0ffff0, "ffff0000000000000000000000000000000000000000000000000000000"},
		{0x1d00ffff, "ffff0000000000000000000000000000000000000000000000000000"},
		{0x207fffff, "7fffff0000000000000000000000000000000000000000000000000000000000"},
	}

	for _, tt := range tests {
		expected, ok := new(big.Int).SetString(tt.target, 16)
		require.True(t, ok)

		n := CompactToBig(tt.bits)
		assert.Equal(t, 0, expected.Cmp(n), "bits %08x", tt.bits)
		assert.Equal(t, tt.bits, BigToCompact(n))
	}
}

func TestCompactOverflows(t *testing.T) {
	assert.False(t, CompactOverflows(0x1e0ffff0))
	assert.True(t, CompactOverflows(0xff123456))
}

func TestHashBigRoundTrip(t *testing.T) {
	n := CompactToBig(0x1e0ffff0)
	h := BigToHash(n)
	assert.Equal(t, 0, n.Cmp(HashToBig(&h)))
}

func TestCalcWork(t *testing.T) {
	assert.Equal(t, 0, CalcWork(0).Sign())

	// target 0x7fffff << 232 gives roughly two hashes of work
	assert.Equal(t, int64(2), CalcWork(0x207fffff).Int64())
}

func TestCalcPastMedianTime(t *testing.T) {
	median, err := CalcPastMedianTime([]int64{5, 1, 4, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), median)

	median, err = CalcPastMedianTime([]int64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, int64(20), median)

	_, err = CalcPastMedianTime(nil)
	require.Error(t, err)

	_, err = CalcPastMedianTime(make([]int64, MedianTimeBlocks+1))
	require.Error(t, err)
}

func TestInterrupt(t *testing.T) {
	t.Run("sleep completes", func(t *testing.T) {
		i := NewInterrupt()
		assert.True(t, i.Sleep(time.Millisecond))
	})

	t.Run("trigger wakes sleepers and waiters", func(t *testing.T) {
		i := NewInterrupt()

		sleepResult := make(chan bool, 1)
		waitResult := make(chan bool, 1)

		go func() { sleepResult <- i.Sleep(time.Hour) }()
		go func() { waitResult <- i.Wait(func() bool { return false }) }()

		time.Sleep(10 * time.Millisecond)
		i.Trigger()
		i.Trigger()

		assert.False(t, <-sleepResult)
		assert.False(t, <-waitResult)
		assert.True(t, i.Interrupted())

		select {
		case <-i.Done():
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("notify re-evaluates condition", func(t *testing.T) {
		i := NewInterrupt()

		var ready bool

		result := make(chan bool, 1)

		go func() {
			result <- i.Wait(func() bool { return ready })
		}()

		time.Sleep(10 * time.Millisecond)

		i.mu.Lock()
		ready = true
		i.mu.Unlock()
		i.Notify()

		assert.True(t, <-result)
	})
}
