package ratestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reqguard/reqguard/internal/testlib"
	"github.com/stretchr/testify/suite"
)

type MemoryTestSuite struct {
	suite.Suite

	ctx   context.Context
	clock *testlib.FakeClock
	m     *Memory
}

func (suite *MemoryTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.clock = testlib.NewFakeClock()
	suite.m = NewMemory(MemoryOpts{
		Now:           suite.clock.Now,
		SweepInterval: time.Hour,
	})
}

func (suite *MemoryTestSuite) TearDownTest() {
	suite.m.Stop()
}

func (suite *MemoryTestSuite) TestTakeUpToLimit() {
	start := suite.clock.Now()

	for i := 1; i <= 3; i++ {
		window, err := suite.m.Take(suite.ctx, "key", time.Minute, 3)
		suite.NoError(err)
		suite.True(window.Allowed)
		suite.EqualValues(i, window.Count)
		suite.Equal(start, window.Start)
		suite.clock.Advance(time.Second)
	}

	window, err := suite.m.Take(suite.ctx, "key", time.Minute, 3)
	suite.NoError(err)
	suite.False(window.Allowed)
	suite.EqualValues(3, window.Count)
	suite.Equal(start.Add(time.Minute), window.ResetAt(time.Minute))
}

func (suite *MemoryTestSuite) TestLapsedWindowIsReset() {
	for i := 0; i < 3; i++ {
		suite.m.Take(suite.ctx, "key", time.Minute, 3) //nolint: errcheck
	}

	suite.clock.Advance(time.Minute)

	window, err := suite.m.Take(suite.ctx, "key", time.Minute, 3)
	suite.NoError(err)
	suite.True(window.Allowed)
	suite.EqualValues(1, window.Count)
	suite.Equal(suite.clock.Now(), window.Start)
}

func (suite *MemoryTestSuite) TestUnlimited() {
	for i := 1; i <= 1000; i++ {
		window, err := suite.m.Take(suite.ctx, "key", time.Minute, 0)
		suite.NoError(err)
		suite.True(window.Allowed)
		suite.EqualValues(i, window.Count)
	}
}

func (suite *MemoryTestSuite) TestPeek() {
	window, err := suite.m.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.Zero(window.Count)

	suite.m.Take(suite.ctx, "key", time.Minute, 3) //nolint: errcheck
	suite.m.Take(suite.ctx, "key", time.Minute, 3) //nolint: errcheck

	window, err = suite.m.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.EqualValues(2, window.Count)

	window, err = suite.m.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.EqualValues(2, window.Count)
}

func (suite *MemoryTestSuite) TestReset() {
	suite.m.Take(suite.ctx, "key", time.Minute, 1) //nolint: errcheck
	suite.NoError(suite.m.Reset(suite.ctx, "key"))

	window, err := suite.m.Take(suite.ctx, "key", time.Minute, 1)
	suite.NoError(err)
	suite.True(window.Allowed)
}

func (suite *MemoryTestSuite) TestSweep() {
	suite.m.Take(suite.ctx, "short", time.Second, 1) //nolint: errcheck
	suite.m.Take(suite.ctx, "long", time.Hour, 1)    //nolint: errcheck
	suite.Equal(2, suite.m.Size())

	suite.clock.Advance(time.Minute)
	suite.m.sweep()

	suite.Equal(1, suite.m.Size())
}

func (suite *MemoryTestSuite) TestConcurrentTakeNeverExceedsLimit() {
	wg := &sync.WaitGroup{}
	allowed := int64(0)

	for i := 0; i < 200; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			window, err := suite.m.Take(suite.ctx, "key", time.Minute, 50)
			if err == nil && window.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}

	wg.Wait()

	suite.EqualValues(50, allowed)

	window, err := suite.m.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.EqualValues(50, window.Count)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	suite.Run(t, &MemoryTestSuite{})
}
