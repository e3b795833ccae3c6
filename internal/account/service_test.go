package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/mocks"
	"github.com/life2you_mini/pledgeflow/internal/model"
	"github.com/life2you_mini/pledgeflow/internal/storage"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func boolPtr(b bool) *bool {
	return &b
}

func newTestService(t *testing.T, notifier *mocks.MockNotifier) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if notifier == nil {
		notifier = &mocks.MockNotifier{}
		notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	}
	return NewService(store.Users(), notifier, clk, zaptest.NewLogger(t)), store
}

func TestService_CreateUser(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "u1", "u1@example.com", d("250"))
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.True(t, d("250").Equal(u.BalanceUSDT))

	got, err := svc.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", got.Email)

	_, err = svc.CreateUser(ctx, "u1", "", decimal.Zero)
	assert.True(t, apperr.Is(err, apperr.CodeUserExists))

	_, err = svc.CreateUser(ctx, "u2", "", d("-1"))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidAmount))

	generated, err := svc.CreateUser(ctx, "", "anon@example.com", decimal.Zero)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestService_CreateUser_ReadFailure(t *testing.T) {
	users := &mocks.MockUserRepository{}
	users.On("GetUser", mock.Anything, "u1").Return(nil, apperr.Internal("读取用户失败", errors.New("连接断开")))
	svc := NewService(users, nil, nil, zaptest.NewLogger(t))

	_, err := svc.CreateUser(context.Background(), "u1", "", decimal.Zero)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	users.AssertNotCalled(t, "SaveUser", mock.Anything, mock.Anything)
}

func TestService_Deposit(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n model.Notification) bool {
		return n.Type == model.NotifyDeposit && n.UserID == "u1"
	})).Return(errors.New("队列不可用")).Once()
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "u1", "", d("10"))
	require.NoError(t, err)

	// 通知失败不影响入金
	u, err := svc.Deposit(ctx, "u1", d("90.5"))
	require.NoError(t, err)
	assert.True(t, d("100.5").Equal(u.BalanceUSDT))
	notifier.AssertExpectations(t)

	tests := []struct {
		name   string
		userID string
		amount decimal.Decimal
		kind   apperr.Kind
	}{
		{name: "金额为零", userID: "u1", amount: decimal.Zero, kind: apperr.KindValidation},
		{name: "金额为负", userID: "u1", amount: d("-5"), kind: apperr.KindValidation},
		{name: "用户不存在", userID: "missing", amount: d("5"), kind: apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(ctx, tt.userID, tt.amount)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestService_SetFlags(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "u1", "", d("10"))
	require.NoError(t, err)

	u, err := svc.SetFlags(ctx, "u1", Flags{Locked: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, u.Locked)
	assert.False(t, u.BalanceFrozen)

	u, err = svc.SetFlags(ctx, "u1", Flags{Locked: boolPtr(false), BalanceFrozen: boolPtr(true)})
	require.NoError(t, err)
	assert.False(t, u.Locked)
	assert.True(t, u.BalanceFrozen)

	saved, err := store.Users().GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, saved.BalanceFrozen)
	assert.True(t, d("10").Equal(saved.BalanceUSDT))

	_, err = svc.SetFlags(ctx, "u1", Flags{})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))

	_, err = svc.SetFlags(ctx, "missing", Flags{Locked: boolPtr(true)})
	assert.True(t, apperr.Is(err, apperr.CodeUserNotFound))
}
