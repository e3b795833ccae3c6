package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

// MockUserRepository 用户余额账本的模拟实现
type MockUserRepository struct {
	mock.Mock
}

// GetUser 获取用户的模拟实现
func (m *MockUserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// SaveUser 保存用户的模拟实现
func (m *MockUserRepository) SaveUser(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// Credit 入账的模拟实现
func (m *MockUserRepository) Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	args := m.Called(ctx, id, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// Debit 扣款的模拟实现
func (m *MockUserRepository) Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	args := m.Called(ctx, id, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// Update 读改写用户的模拟实现
func (m *MockUserRepository) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	args := m.Called(ctx, id, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

// MockPledgeRepository 质押存储的模拟实现
type MockPledgeRepository struct {
	mock.Mock
}

// LoadAll 读取全部质押的模拟实现
func (m *MockPledgeRepository) LoadAll(ctx context.Context) ([]*model.Pledge, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Pledge), args.Error(1)
}

// SaveAll 保存全部质押的模拟实现
func (m *MockPledgeRepository) SaveAll(ctx context.Context, pledges []*model.Pledge) error {
	args := m.Called(ctx, pledges)
	return args.Error(0)
}

// MockOrderRepository 订单存储的模拟实现
type MockOrderRepository struct {
	mock.Mock
}

// LoadAll 读取全部订单的模拟实现
func (m *MockOrderRepository) LoadAll(ctx context.Context) ([]*model.FeaturesOrder, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.FeaturesOrder), args.Error(1)
}

// SaveAll 保存全部订单的模拟实现
func (m *MockOrderRepository) SaveAll(ctx context.Context, orders []*model.FeaturesOrder) error {
	args := m.Called(ctx, orders)
	return args.Error(0)
}
