package mocks

import (
	"context"
	"time"

	"github.com/karansahani78/sattrack/services"
	"github.com/stretchr/testify/mock"
)

type MockBusTransport struct {
	mock.Mock
}

func (m *MockBusTransport) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBusTransport) Subscribe(subject string, handler func(data []byte)) (services.BusSubscription, error) {
	args := m.Called(subject, handler)
	if sub := args.Get(0); sub != nil {
		return sub.(services.BusSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBusTransport) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *MockBusTransport) Ping(timeout time.Duration) error {
	args := m.Called(timeout)
	return args.Error(0)
}

func (m *MockBusTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBusTransport) SetClosedHandler(handler func(err error)) {
	m.Called(handler)
}

type MockBusSubscription struct {
	mock.Mock
}

func (m *MockBusSubscription) Unsubscribe() error {
	args := m.Called()
	return args.Error(0)
}
