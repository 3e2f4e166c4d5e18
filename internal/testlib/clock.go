package testlib

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (f *FakeClock) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.now
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mutex.Lock()
	f.now = f.now.Add(d)
	f.mutex.Unlock()
}

func NewFakeClock() *FakeClock {
	return &FakeClock{
		now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}
