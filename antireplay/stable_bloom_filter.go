package antireplay

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/reqguard/reqguard/guardlib"
	boom "github.com/tylertreat/BoomFilters"
)

// Metrics is a snapshot of filter counters.
type Metrics struct {
	TotalChecks    uint64
	ReplayDetected uint64

	// FalsePositiveRate is an upper bound of the false positive rate once
	// the filter reaches its stable point.
	FalsePositiveRate float64
}

// StableBloomFilter is an AntiReplayCache with counters.
type StableBloomFilter struct {
	filter boom.StableBloomFilter
	mutex  sync.Mutex

	totalChecks    atomic.Uint64
	replayDetected atomic.Uint64
}

// SeenBefore adds data to the filter and reports if it was there already.
func (s *StableBloomFilter) SeenBefore(data []byte) bool {
	s.totalChecks.Add(1)

	s.mutex.Lock()
	seen := s.filter.TestAndAdd(data)
	s.mutex.Unlock()

	if seen {
		s.replayDetected.Add(1)
	}

	return seen
}

func (s *StableBloomFilter) Metrics() Metrics {
	s.mutex.Lock()
	falsePositiveRate := s.filter.FalsePositiveRate()
	s.mutex.Unlock()

	return Metrics{
		TotalChecks:       s.totalChecks.Load(),
		ReplayDetected:    s.replayDetected.Load(),
		FalsePositiveRate: falsePositiveRate,
	}
}

// NewStableBloomFilter returns a new filter. Zero byteSize means
// DefaultStableBloomFilterMaxSize, non-positive errorRate means
// DefaultStableBloomFilterErrorRate.
func NewStableBloomFilter(byteSize uint, errorRate float64) *StableBloomFilter {
	if byteSize == 0 {
		byteSize = DefaultStableBloomFilterMaxSize
	}

	if errorRate <= 0 {
		errorRate = DefaultStableBloomFilterErrorRate
	}

	sf := boom.NewDefaultStableBloomFilter(byteSize*8, errorRate) //nolint: gomnd
	sf.SetHash(xxhash.New64())

	return &StableBloomFilter{
		filter: *sf,
	}
}

var _ guardlib.AntiReplayCache = (*StableBloomFilter)(nil)
