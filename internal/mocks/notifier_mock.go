package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

// MockNotifier 通知器的模拟实现
type MockNotifier struct {
	mock.Mock
}

// Notify 发送通知的模拟实现
func (m *MockNotifier) Notify(ctx context.Context, n model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
