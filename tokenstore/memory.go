// Package tokenstore contains implementations of guardlib.TokenStore.
package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/reqguard/reqguard/guardlib"
)

// DefaultSweepInterval is a period of removing expired tokens.
const DefaultSweepInterval = time.Minute

type entry struct {
	token     string
	expiresAt time.Time
}

// Memory keeps tokens in a map protected by a mutex.
type Memory struct {
	mutex    sync.RWMutex
	tokens   map[string]entry
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Get implements guardlib.TokenStore.
func (m *Memory) Get(_ context.Context, sessionID string) (string, error) {
	m.mutex.RLock()
	value, ok := m.tokens[sessionID]
	m.mutex.RUnlock()

	if !ok || !m.now().Before(value.expiresAt) {
		return "", guardlib.ErrTokenNotFound
	}

	return value.token, nil
}

// Put implements guardlib.TokenStore.
func (m *Memory) Put(_ context.Context, sessionID, token string, ttl time.Duration) error {
	m.mutex.Lock()
	m.tokens[sessionID] = entry{
		token:     token,
		expiresAt: m.now().Add(ttl),
	}
	m.mutex.Unlock()

	return nil
}

// Size returns a number of stored tokens, expired ones included.
func (m *Memory) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.tokens)
}

// Stop terminates a sweeping goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Memory) sweep() {
	now := m.now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for key, value := range m.tokens {
		if !now.Before(value.expiresAt) {
			delete(m.tokens, key)
		}
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

// NewMemory creates a new store and starts its sweeper. Nil clock means
// time.Now, non-positive interval means DefaultSweepInterval.
func NewMemory(now func() time.Time, sweepInterval time.Duration) *Memory {
	if now == nil {
		now = time.Now
	}

	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	m := &Memory{
		tokens: make(map[string]entry),
		now:    now,
		stopCh: make(chan struct{}),
	}

	go m.sweepLoop(sweepInterval)

	return m
}

var _ guardlib.TokenStore = (*Memory)(nil)
