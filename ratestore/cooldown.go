package ratestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/reqguard/reqguard/guardlib"
)

const (
	// DefaultCooldownThreshold is a number of consecutive failures after
	// which a store is put on cooldown.
	DefaultCooldownThreshold = 5

	// DefaultCooldownTimeout is a duration of the cooldown.
	DefaultCooldownTimeout = 10 * time.Second
)

// ErrStoreCooldown is returned while a store is on cooldown.
var ErrStoreCooldown = errors.New("rate store is on cooldown")

// Cooldown is a simplified circuit breaker over a remote RateStore.
//
// After threshold consecutive failures it stops calling the store for a
// timeout and returns ErrStoreCooldown immediately. The pipeline treats
// it as any other store failure and fails open, so a dead Redis does not
// add its dial timeout to every request.
type Cooldown struct {
	store guardlib.RateStore
	now   func() time.Time

	mutex         sync.Mutex
	failuresCount uint32
	cooldownUntil time.Time
	threshold     uint32
	timeout       time.Duration
}

// Take implements guardlib.RateStore.
func (c *Cooldown) Take(ctx context.Context, key string, length time.Duration, limit int64) (guardlib.Window, error) {
	if c.isCooling() {
		return guardlib.Window{}, ErrStoreCooldown
	}

	window, err := c.store.Take(ctx, key, length, limit)

	return window, c.track(ctx, err)
}

// Peek implements guardlib.RateStore.
func (c *Cooldown) Peek(ctx context.Context, key string, length time.Duration) (guardlib.Window, error) {
	if c.isCooling() {
		return guardlib.Window{}, ErrStoreCooldown
	}

	window, err := c.store.Peek(ctx, key, length)

	return window, c.track(ctx, err)
}

// Reset implements guardlib.RateStore.
func (c *Cooldown) Reset(ctx context.Context, key string) error {
	if c.isCooling() {
		return ErrStoreCooldown
	}

	return c.track(ctx, c.store.Reset(ctx, key))
}

func (c *Cooldown) isCooling() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return !c.cooldownUntil.IsZero() && c.now().Before(c.cooldownUntil)
}

func (c *Cooldown) track(ctx context.Context, err error) error {
	// a request which has gone away says nothing about the store
	if ctx.Err() != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err == nil {
		c.failuresCount = 0
		c.cooldownUntil = time.Time{}

		return nil
	}

	c.failuresCount++

	if c.failuresCount >= c.threshold {
		c.cooldownUntil = c.now().Add(c.timeout)
		c.failuresCount = 0
	}

	return err
}

// NewCooldown wraps a store. Zero threshold and timeout mean defaults.
func NewCooldown(store guardlib.RateStore, threshold uint32, timeout time.Duration, now func() time.Time) *Cooldown {
	if threshold == 0 {
		threshold = DefaultCooldownThreshold
	}

	if timeout <= 0 {
		timeout = DefaultCooldownTimeout
	}

	if now == nil {
		now = time.Now
	}

	return &Cooldown{
		store:     store,
		now:       now,
		threshold: threshold,
		timeout:   timeout,
	}
}
