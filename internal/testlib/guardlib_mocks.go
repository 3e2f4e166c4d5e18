package testlib

import (
	"context"
	"net"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/stretchr/testify/mock"
)

type RateStoreMock struct {
	mock.Mock
}

func (m *RateStoreMock) Take(ctx context.Context, key string, length time.Duration,
	limit int64,
) (guardlib.Window, error) {
	args := m.Called(ctx, key, length, limit)

	return args.Get(0).(guardlib.Window), args.Error(1) //nolint: wrapcheck, forcetypeassert
}

func (m *RateStoreMock) Peek(ctx context.Context, key string, length time.Duration) (guardlib.Window, error) {
	args := m.Called(ctx, key, length)

	return args.Get(0).(guardlib.Window), args.Error(1) //nolint: wrapcheck, forcetypeassert
}

func (m *RateStoreMock) Reset(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0) //nolint: wrapcheck
}

type TokenStoreMock struct {
	mock.Mock
}

func (m *TokenStoreMock) Get(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)

	return args.String(0), args.Error(1) //nolint: wrapcheck
}

func (m *TokenStoreMock) Put(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	return m.Called(ctx, sessionID, token, ttl).Error(0) //nolint: wrapcheck
}

type IPBlocklistMock struct {
	mock.Mock
}

func (m *IPBlocklistMock) Contains(ip net.IP) bool {
	return m.Called(ip).Bool(0)
}

func (m *IPBlocklistMock) Shutdown() {
	m.Called()
}
