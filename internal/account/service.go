package account

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/model"
	"github.com/life2you_mini/pledgeflow/internal/notify"
	"github.com/life2you_mini/pledgeflow/internal/storage"
)

// Service 用户账户管理：开户、人工入金、锁定和冻结
type Service struct {
	users    storage.UserRepository
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger
}

// Flags 账户标记，nil 表示不修改
type Flags struct {
	Locked        *bool `json:"locked"`
	BalanceFrozen *bool `json:"balance_frozen"`
}

// NewService 创建账户服务
func NewService(users storage.UserRepository, notifier notify.Notifier, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		users:    users,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With(zap.String("component", "account")),
	}
}

// CreateUser 开户，id 为空时自动生成
func (s *Service) CreateUser(ctx context.Context, id, email string, initialBalance decimal.Decimal) (*model.User, error) {
	if initialBalance.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "初始余额不能为负数")
	}
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.users.GetUser(ctx, id)
	switch {
	case err == nil:
		return nil, apperr.Conflict(apperr.CodeUserExists, fmt.Sprintf("用户已存在: %s", id))
	case apperr.KindOf(err) != apperr.KindNotFound:
		return nil, err
	}

	now := s.clock.Now()
	user := &model.User{
		ID:          id,
		Email:       email,
		BalanceUSDT: initialBalance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("用户已创建",
		zap.String("user_id", id),
		zap.String("balance", initialBalance.String()))
	return user, nil
}

// GetUser 获取用户
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetUser(ctx, id)
}

// Deposit 人工入金
func (s *Service) Deposit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "入金金额必须大于0")
	}

	user, err := s.users.Credit(ctx, id, amount)
	if err != nil {
		return nil, err
	}

	s.logger.Info("人工入金",
		zap.String("user_id", id),
		zap.String("amount", amount.String()),
		zap.String("balance", user.BalanceUSDT.String()))

	notify.Send(ctx, s.notifier, s.logger, model.Notification{
		Type:      model.NotifyDeposit,
		Priority:  "MEDIUM",
		UserID:    id,
		Message:   "入金到账",
		Data:      map[string]string{"amount": amount.String()},
		Timestamp: s.clock.Now(),
	})
	return user, nil
}

// SetFlags 修改锁定或冻结标记
func (s *Service) SetFlags(ctx context.Context, id string, flags Flags) (*model.User, error) {
	if flags.Locked == nil && flags.BalanceFrozen == nil {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "没有需要修改的标记")
	}

	user, err := s.users.Update(ctx, id, func(u *model.User) error {
		if flags.Locked != nil {
			u.Locked = *flags.Locked
		}
		if flags.BalanceFrozen != nil {
			u.BalanceFrozen = *flags.BalanceFrozen
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("账户标记已修改",
		zap.String("user_id", id),
		zap.Bool("locked", user.Locked),
		zap.Bool("balance_frozen", user.BalanceFrozen))
	return user, nil
}
