package ratestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/reqguard/reqguard/internal/testlib"
	"github.com/stretchr/testify/suite"
)

type RedisTestSuite struct {
	suite.Suite

	ctx    context.Context
	server *miniredis.Miniredis
	client *redis.Client
	clock  *testlib.FakeClock
	r      *Redis
}

func (suite *RedisTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.server = miniredis.RunT(suite.T())
	suite.client = redis.NewClient(&redis.Options{
		Addr: suite.server.Addr(),
	})
	suite.clock = testlib.NewFakeClock()
	suite.r = NewRedis(suite.client, "", suite.clock.Now)
}

func (suite *RedisTestSuite) TearDownTest() {
	suite.client.Close()
}

func (suite *RedisTestSuite) TestTakeUpToLimit() {
	for i := 1; i <= 3; i++ {
		window, err := suite.r.Take(suite.ctx, "rate:auth:10.0.0.1", time.Minute, 3)
		suite.NoError(err)
		suite.True(window.Allowed)
		suite.EqualValues(i, window.Count)
	}

	window, err := suite.r.Take(suite.ctx, "rate:auth:10.0.0.1", time.Minute, 3)
	suite.NoError(err)
	suite.False(window.Allowed)
	suite.EqualValues(3, window.Count)
	suite.Equal(suite.clock.Now().Add(time.Minute), window.ResetAt(time.Minute))

	suite.True(suite.server.Exists(DefaultRedisPrefix + "rate:auth:10.0.0.1"))
}

func (suite *RedisTestSuite) TestWindowExpires() {
	for i := 0; i < 3; i++ {
		suite.r.Take(suite.ctx, "key", time.Minute, 3) //nolint: errcheck
	}

	suite.server.FastForward(time.Minute)

	window, err := suite.r.Take(suite.ctx, "key", time.Minute, 3)
	suite.NoError(err)
	suite.True(window.Allowed)
	suite.EqualValues(1, window.Count)
}

func (suite *RedisTestSuite) TestPeek() {
	window, err := suite.r.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.Zero(window.Count)

	suite.r.Take(suite.ctx, "key", time.Minute, 0) //nolint: errcheck
	suite.r.Take(suite.ctx, "key", time.Minute, 0) //nolint: errcheck

	window, err = suite.r.Peek(suite.ctx, "key", time.Minute)
	suite.NoError(err)
	suite.EqualValues(2, window.Count)
}

func (suite *RedisTestSuite) TestReset() {
	suite.r.Take(suite.ctx, "key", time.Minute, 1) //nolint: errcheck
	suite.NoError(suite.r.Reset(suite.ctx, "key"))
	suite.False(suite.server.Exists(DefaultRedisPrefix + "key"))
}

func (suite *RedisTestSuite) TestServerIsDown() {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	_, err := NewRedis(client, "", nil).Take(suite.ctx, "key", time.Minute, 1)
	suite.Error(err)
}

func TestRedis(t *testing.T) {
	t.Parallel()
	suite.Run(t, &RedisTestSuite{})
}
