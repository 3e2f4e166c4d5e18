// Package ratestore contains implementations of guardlib.RateStore.
package ratestore

import (
	"context"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/reqguard/reqguard/guardlib"
)

// DefaultSweepInterval is a period of removing lapsed windows from memory.
const DefaultSweepInterval = time.Minute

// shardsCount has to be large enough so hot keys (many clients behind one
// NAT) do not serialize unrelated keys.
const shardsCount = 64

type record struct {
	start  time.Time
	count  int64
	length time.Duration
}

func (r *record) lapsed(now time.Time) bool {
	return now.Sub(r.start) >= r.length
}

type shard struct {
	mutex   sync.Mutex
	records map[string]*record
}

// Memory is an in-process RateStore. Keys are spread over shards by hash,
// each shard has its own mutex.
type Memory struct {
	shards   [shardsCount]shard
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Take implements guardlib.RateStore.
func (m *Memory) Take(_ context.Context, key string, length time.Duration, limit int64) (guardlib.Window, error) {
	now := m.now()
	sh := m.shard(key)

	sh.mutex.Lock()
	defer sh.mutex.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.lapsed(now) || rec.length != length {
		rec = &record{
			start:  now,
			length: length,
		}
		sh.records[key] = rec
	}

	if limit > 0 && rec.count >= limit {
		return guardlib.Window{
			Start: rec.start,
			Count: rec.count,
		}, nil
	}

	rec.count++

	return guardlib.Window{
		Start:   rec.start,
		Count:   rec.count,
		Allowed: true,
	}, nil
}

// Peek implements guardlib.RateStore.
func (m *Memory) Peek(_ context.Context, key string, length time.Duration) (guardlib.Window, error) {
	now := m.now()
	sh := m.shard(key)

	sh.mutex.Lock()
	defer sh.mutex.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.lapsed(now) {
		return guardlib.Window{
			Start:   now,
			Allowed: true,
		}, nil
	}

	return guardlib.Window{
		Start:   rec.start,
		Count:   rec.count,
		Allowed: true,
	}, nil
}

// Reset implements guardlib.RateStore.
func (m *Memory) Reset(_ context.Context, key string) error {
	sh := m.shard(key)

	sh.mutex.Lock()
	delete(sh.records, key)
	sh.mutex.Unlock()

	return nil
}

// Size returns a number of tracked windows.
func (m *Memory) Size() int {
	size := 0

	for i := range m.shards {
		m.shards[i].mutex.Lock()
		size += len(m.shards[i].records)
		m.shards[i].mutex.Unlock()
	}

	return size
}

// Stop terminates a sweeping goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Memory) shard(key string) *shard {
	return &m.shards[xxhash.ChecksumString32(key)%shardsCount]
}

func (m *Memory) sweep() {
	now := m.now()

	for i := range m.shards {
		sh := &m.shards[i]

		sh.mutex.Lock()
		for key, rec := range sh.records {
			if rec.lapsed(now) {
				delete(sh.records, key)
			}
		}
		sh.mutex.Unlock()
	}
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// MemoryOpts are settings of Memory store.
type MemoryOpts struct {
	// Now is a clock. Default is time.Now.
	Now func() time.Time

	// SweepInterval is a period of evicting lapsed windows. Default is
	// DefaultSweepInterval.
	SweepInterval time.Duration
}

// NewMemory creates a new in-memory store and starts its sweeper. Please
// call Stop when store is not needed anymore.
func NewMemory(opts MemoryOpts) *Memory {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	m := &Memory{
		now:    opts.Now,
		stopCh: make(chan struct{}),
	}

	for i := range m.shards {
		m.shards[i].records = make(map[string]*record)
	}

	go m.sweepLoop(opts.SweepInterval)

	return m
}

var _ guardlib.RateStore = (*Memory)(nil)
