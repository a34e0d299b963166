package blockchain

import (
	"sort"
	"sync"
	"time"

	"github.com/tessacoin/tessanode/ulogger"
)

const (
	maxTimeSamples      = 200
	minTimeSamples      = 5
	maxAllowedOffsetSec = 70 * 60
)

// TimeSource gives the network-adjusted time used by header checks.
type TimeSource interface {
	AdjustedTime() time.Time
	AddTimeSample(sourceID string, timeVal time.Time)
	Offset() time.Duration
}

// MedianTimeSource adjusts the local clock by the median offset reported
// by peers in their version messages. Each source counts once.
type MedianTimeSource struct {
	logger ulogger.Logger

	mu      sync.Mutex
	known   map[string]struct{}
	offsets []int64
	offset  int64
	warned  bool
}

func NewMedianTimeSource(logger ulogger.Logger) *MedianTimeSource {
	return &MedianTimeSource{
		logger: logger,
		known:  make(map[string]struct{}),
	}
}

func (m *MedianTimeSource) AdjustedTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return time.Unix(time.Now().Unix()+m.offset, 0)
}

func (m *MedianTimeSource) Offset() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return time.Duration(m.offset) * time.Second
}

func (m *MedianTimeSource) AddTimeSample(sourceID string, timeVal time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.known[sourceID]; ok || len(m.known) >= maxTimeSamples {
		return
	}

	m.known[sourceID] = struct{}{}
	m.offsets = append(m.offsets, timeVal.Unix()-time.Now().Unix())

	// recompute on odd counts only so the median is a sample
	if len(m.offsets) < minTimeSamples || len(m.offsets)%2 == 0 {
		return
	}

	sorted := append([]int64(nil), m.offsets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	median := sorted[len(sorted)/2]

	if median > -maxAllowedOffsetSec && median < maxAllowedOffsetSec {
		m.offset = median
		m.logger.Debugf("[chain] time offset now %ds from %d samples", median, len(sorted))

		return
	}

	m.offset = 0

	if !m.warned {
		m.warned = true
		m.logger.Warnf("[chain] peers report a median time offset of %ds; check that the local clock is correct", median)
	}
}
