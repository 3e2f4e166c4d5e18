package antireplay

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type StableBloomFilterTestSuite struct {
	suite.Suite

	f *StableBloomFilter
}

func (suite *StableBloomFilterTestSuite) SetupTest() {
	suite.f = NewStableBloomFilter(500, 0.001)
}

func (suite *StableBloomFilterTestSuite) TestOp() {
	suite.False(suite.f.SeenBefore([]byte{1, 2, 3}))
	suite.False(suite.f.SeenBefore([]byte{4, 5, 6}))
	suite.True(suite.f.SeenBefore([]byte{1, 2, 3}))
	suite.True(suite.f.SeenBefore([]byte{4, 5, 6}))
}

func (suite *StableBloomFilterTestSuite) TestMetrics() {
	suite.f.SeenBefore([]byte("token"))
	suite.f.SeenBefore([]byte("token"))
	suite.f.SeenBefore([]byte("another"))

	metrics := suite.f.Metrics()

	suite.EqualValues(3, metrics.TotalChecks)
	suite.EqualValues(1, metrics.ReplayDetected)
	suite.Greater(metrics.FalsePositiveRate, 0.0)
	suite.Less(metrics.FalsePositiveRate, 1.0)
}

func TestStableBloomFilter(t *testing.T) {
	t.Parallel()
	suite.Run(t, &StableBloomFilterTestSuite{})
}
