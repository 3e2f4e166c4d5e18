package guardlib_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/testlib"
	"github.com/reqguard/reqguard/ratestore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type RateControllerTestSuite struct {
	suite.Suite

	ctx   context.Context
	clock *testlib.FakeClock
	store *ratestore.Memory
	ctrl  *guardlib.RateController
}

func (suite *RateControllerTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.clock = testlib.NewFakeClock()
	suite.store = ratestore.NewMemory(ratestore.MemoryOpts{
		Now: suite.clock.Now,
	})

	speed := guardlib.DefaultSpeedPolicy()

	ctrl, err := guardlib.NewRateController(suite.store,
		guardlib.DefaultLimiterClasses(), &speed, suite.clock.Now)
	suite.NoError(err)

	suite.ctrl = ctrl
}

func (suite *RateControllerTestSuite) TearDownTest() {
	suite.store.Stop()
}

func (suite *RateControllerTestSuite) TestClassFor() {
	testData := map[string]string{
		"/auth/signin":        guardlib.ClassAuth,
		"/auth/signout":       guardlib.ClassAuth,
		"/auth/signup":        guardlib.ClassSignup,
		"/auth/signup/verify": guardlib.ClassSignup,
	}

	for path, expected := range testData {
		class, ok := suite.ctrl.ClassFor(path)
		suite.True(ok, path)
		suite.Equal(expected, class.Name, path)
	}

	_, ok := suite.ctrl.ClassFor("/api/profile")
	suite.False(ok)
}

func (suite *RateControllerTestSuite) TestAuthBudgetExhausted() {
	for i := 1; i <= 5; i++ {
		decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
		suite.NoError(err)
		suite.True(decision.Allowed)
		suite.EqualValues(i, decision.Count)
	}

	decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
	suite.NoError(err)
	suite.False(decision.Allowed)
	suite.EqualValues(5, decision.Count)
	suite.EqualValues(5, decision.Max)
	suite.Equal(15*time.Minute, decision.RetryAfter)

	suite.clock.Advance(10 * time.Minute)

	decision, err = suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
	suite.NoError(err)
	suite.False(decision.Allowed)
	suite.Equal(5*time.Minute, decision.RetryAfter)
}

func (suite *RateControllerTestSuite) TestWindowResets() {
	for i := 0; i < 3; i++ {
		decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassSignup)
		suite.NoError(err)
		suite.True(decision.Allowed)
	}

	decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassSignup)
	suite.NoError(err)
	suite.False(decision.Allowed)

	suite.clock.Advance(time.Hour)

	decision, err = suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassSignup)
	suite.NoError(err)
	suite.True(decision.Allowed)
	suite.EqualValues(1, decision.Count)
}

func (suite *RateControllerTestSuite) TestClientsAreIndependent() {
	for i := 0; i < 5; i++ {
		_, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
		suite.NoError(err)
	}

	decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.2", guardlib.ClassAuth)
	suite.NoError(err)
	suite.True(decision.Allowed)

	decision, err = suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassGeneral)
	suite.NoError(err)
	suite.True(decision.Allowed)
}

func (suite *RateControllerTestSuite) TestUnknownClientSharesBucket() {
	for i := 0; i < 5; i++ {
		_, err := suite.ctrl.Admit(suite.ctx, "", guardlib.ClassAuth)
		suite.NoError(err)
	}

	decision, err := suite.ctrl.Admit(suite.ctx, guardlib.UnknownClientKey, guardlib.ClassAuth)
	suite.NoError(err)
	suite.False(decision.Allowed)
}

func (suite *RateControllerTestSuite) TestUnknownClass() {
	_, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", "nope")
	suite.Error(err)
}

func (suite *RateControllerTestSuite) TestDelay() {
	for i := 0; i < 50; i++ {
		delay, _, err := suite.ctrl.DelayFor(suite.ctx, "10.0.0.1", "/api/profile")
		suite.NoError(err)
		suite.Zero(delay)
	}

	delay, seen, err := suite.ctrl.DelayFor(suite.ctx, "10.0.0.1", "/api/profile")
	suite.NoError(err)
	suite.EqualValues(51, seen)
	suite.Equal(100*time.Millisecond, delay)

	delay, seen, err = suite.ctrl.DelayFor(suite.ctx, "10.0.0.1", "/static/app.css")
	suite.NoError(err)
	suite.Zero(seen)
	suite.Zero(delay)
}

func (suite *RateControllerTestSuite) TestStatusDoesNotCount() {
	decision, err := suite.ctrl.Status(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
	suite.NoError(err)
	suite.True(decision.Allowed)
	suite.Zero(decision.Count)
	suite.True(decision.ResetAt.IsZero())

	for i := 0; i < 5; i++ {
		_, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
		suite.NoError(err)
	}

	suite.clock.Advance(5 * time.Minute)

	for i := 0; i < 3; i++ {
		decision, err = suite.ctrl.Status(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
		suite.NoError(err)
		suite.False(decision.Allowed)
		suite.EqualValues(5, decision.Count)
		suite.Equal(10*time.Minute, decision.RetryAfter)
	}

	_, err = suite.ctrl.Status(suite.ctx, "10.0.0.1", "nope")
	suite.Error(err)
}

func (suite *RateControllerTestSuite) TestReset() {
	for i := 0; i < 5; i++ {
		_, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
		suite.NoError(err)
		_, err = suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassGeneral)
		suite.NoError(err)
	}

	suite.NoError(suite.ctrl.Reset(suite.ctx, "10.0.0.1", guardlib.ClassAuth))

	decision, err := suite.ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassAuth)
	suite.NoError(err)
	suite.True(decision.Allowed)
	suite.EqualValues(1, decision.Count)

	decision, err = suite.ctrl.Status(suite.ctx, "10.0.0.1", guardlib.ClassGeneral)
	suite.NoError(err)
	suite.EqualValues(5, decision.Count)

	suite.NoError(suite.ctrl.Reset(suite.ctx, "10.0.0.1"))

	for _, class := range suite.ctrl.ClassNames() {
		decision, err = suite.ctrl.Status(suite.ctx, "10.0.0.1", class)
		suite.NoError(err)
		suite.Zero(decision.Count, class)
	}

	suite.Error(suite.ctrl.Reset(suite.ctx, "10.0.0.1", "nope"))
}

func (suite *RateControllerTestSuite) TestClassNames() {
	suite.Equal([]string{guardlib.ClassAuth, guardlib.ClassGeneral, guardlib.ClassSignup},
		suite.ctrl.ClassNames())
}

func (suite *RateControllerTestSuite) TestStoreFailure() {
	storeMock := &testlib.RateStoreMock{}
	storeMock.On("Take", mock.Anything, "rate:general:10.0.0.1", 15*time.Minute, int64(100)).
		Once().
		Return(guardlib.Window{}, errors.New("unavailable"))

	ctrl, err := guardlib.NewRateController(storeMock,
		guardlib.DefaultLimiterClasses(), nil, suite.clock.Now)
	suite.NoError(err)

	_, err = ctrl.Admit(suite.ctx, "10.0.0.1", guardlib.ClassGeneral)
	suite.Error(err)

	delay, _, err := ctrl.DelayFor(suite.ctx, "10.0.0.1", "/api/profile")
	suite.NoError(err)
	suite.Zero(delay)

	storeMock.AssertExpectations(suite.T())
}

func TestRateController(t *testing.T) {
	t.Parallel()
	suite.Run(t, &RateControllerTestSuite{})
}

func TestNewRateControllerValidation(t *testing.T) {
	t.Parallel()

	store := ratestore.NewMemory(ratestore.MemoryOpts{})
	defer store.Stop()

	testData := map[string][]guardlib.LimiterClass{
		"no general": {
			{Name: guardlib.ClassAuth, Max: 1, Window: time.Minute},
		},
		"zero max": {
			{Name: guardlib.ClassGeneral, Max: 0, Window: time.Minute},
		},
		"duplicate": {
			{Name: guardlib.ClassGeneral, Max: 1, Window: time.Minute},
			{Name: guardlib.ClassGeneral, Max: 2, Window: time.Minute},
		},
	}

	for name, classes := range testData {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := guardlib.NewRateController(store, classes, nil, nil)
			if err == nil {
				t.Fatalf("expected an error for %s", name)
			}
		})
	}

	if _, err := guardlib.NewRateController(nil, guardlib.DefaultLimiterClasses(), nil, nil); err == nil {
		t.Fatal("expected an error for nil store")
	}
}

func TestSpeedPolicyDelay(t *testing.T) {
	t.Parallel()

	policy := guardlib.DefaultSpeedPolicy()

	testData := map[int64]time.Duration{
		0:     0,
		50:    0,
		51:    100 * time.Millisecond,
		55:    500 * time.Millisecond,
		70:    2 * time.Second,
		10000: 2 * time.Second,
	}

	for seen, expected := range testData {
		if actual := policy.Delay(seen); actual != expected {
			t.Errorf("delay for %d: expected %v, got %v", seen, expected, actual)
		}
	}
}
